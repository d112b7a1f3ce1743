package app

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/scoring"
)

// Session is the authoritative aggregate for one live room. All commands
// against the same session serialize on its mutex; sessions never share
// state, so different rooms do not contend.
type Session struct {
	id      string
	code    string
	quiz    domain.Quiz
	scoring scoring.Config
	maxViol int
	now     func() time.Time

	mu                sync.Mutex
	status            domain.SessionStatus
	currentQuestion   int
	questionStartedAt time.Time
	endedAt           time.Time
	version           int64
	participants      map[string]*domain.Participant
	byEmail           map[string]string
	answers           map[answerKey]*domain.Answer
	subscribers       map[chan domain.Snapshot]struct{}
}

type answerKey struct {
	participantID string
	questionIndex int
}

func newSession(id, code string, quiz domain.Quiz, cfg scoring.Config, maxViolations int, now func() time.Time) *Session {
	cfg.TimerEnabled = quiz.TimerEnabled
	cfg.TimerSeconds = quiz.TimerSeconds
	return &Session{
		id:           id,
		code:         code,
		quiz:         quiz,
		scoring:      cfg,
		maxViol:      maxViolations,
		now:          now,
		status:       domain.StatusWaiting,
		participants: make(map[string]*domain.Participant),
		byEmail:      make(map[string]string),
		answers:      make(map[answerKey]*domain.Answer),
		subscribers:  make(map[chan domain.Snapshot]struct{}),
	}
}

// NewSession is exported for infrastructure layers that need to seed sessions.
func NewSession(id, code string, quiz domain.Quiz, cfg scoring.Config, maxViolations int) *Session {
	return newSession(id, code, quiz, cfg, maxViolations, time.Now)
}

// NewSessionWithClock is test-only for deterministic timestamps.
func NewSessionWithClock(id, code string, quiz domain.Quiz, cfg scoring.Config, maxViolations int, now func() time.Time) *Session {
	return newSession(id, code, quiz, cfg, maxViolations, now)
}

func (s *Session) ID() string        { return s.id }
func (s *Session) RoomCode() string  { return s.code }
func (s *Session) Quiz() domain.Quiz { return s.quiz }

// Snapshot returns the current observable state.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// join registers a participant, or returns the existing one on rejoin by
// email. Kicked participants may not come back.
func (s *Session) join(name, email string) (domain.Participant, domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.Participant{}, domain.Snapshot{}, domain.ErrSessionClosed
	}

	if id, ok := s.byEmail[email]; ok {
		existing := s.participants[id]
		if existing.Status == domain.ParticipantKicked {
			return domain.Participant{}, domain.Snapshot{}, domain.ErrForbidden
		}
		if existing.Status == domain.ParticipantLeft {
			existing.Status = domain.ParticipantActive
			return *existing, s.mutateLocked(), nil
		}
		// Idempotent rejoin: same participant, no new membership.
		return *existing, s.snapshotLocked(), nil
	}

	p := &domain.Participant{
		ID:       uuid.NewString(),
		Name:     name,
		Email:    email,
		Status:   domain.ParticipantActive,
		JoinedAt: s.now(),
	}
	s.participants[p.ID] = p
	s.byEmail[email] = p.ID
	return *p, s.mutateLocked(), nil
}

// markLeft drops a participant from presence views without touching their
// answer history or score.
func (s *Session) markLeft(participantID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return domain.Snapshot{}, domain.ErrParticipantNotFound
	}
	if p.Status != domain.ParticipantActive {
		return s.snapshotLocked(), nil
	}
	p.Status = domain.ParticipantLeft
	return s.mutateLocked(), nil
}

// kick removes a participant permanently. Kicking twice is a no-op.
func (s *Session) kick(participantID, reason string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kickLocked(participantID, reason)
}

func (s *Session) kickLocked(participantID, reason string) (domain.Snapshot, error) {
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Snapshot{}, domain.ErrParticipantNotFound
	}
	if p.Status == domain.ParticipantKicked {
		return s.snapshotLocked(), nil
	}
	p.Status = domain.ParticipantKicked
	p.KickReason = reason
	return s.mutateLocked(), nil
}

// reportViolation increments the participant's violation count and kicks
// them once the threshold is reached. Increment and threshold check happen
// under one lock acquisition so concurrent reports cannot double-kick.
func (s *Session) reportViolation(participantID, violationType string) (bool, domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return false, domain.Snapshot{}, domain.ErrParticipantNotFound
	}
	if p.Status == domain.ParticipantKicked {
		return false, s.snapshotLocked(), nil
	}
	_ = violationType // classification is owned by the detector; only the count matters here
	p.ViolationCount++
	if p.ViolationCount >= s.maxViol {
		snap, err := s.kickLocked(participantID, "Anti-cheat violations")
		return err == nil, snap, err
	}
	return false, s.mutateLocked(), nil
}

// start moves waiting -> question. At least one active participant must be
// in the room.
func (s *Session) start() (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.Snapshot{}, domain.ErrSessionClosed
	}
	if s.status != domain.StatusWaiting {
		return domain.Snapshot{}, domain.ErrInvalidPhase
	}
	if s.activeCountLocked() == 0 {
		return domain.Snapshot{}, domain.ErrNoParticipants
	}
	if s.quiz.TotalQuestions() == 0 {
		return domain.Snapshot{}, domain.ErrQuestionNotFound
	}
	s.status = domain.StatusQuestion
	s.currentQuestion = 0
	s.questionStartedAt = s.now()
	return s.mutateLocked(), nil
}

// reveal moves question -> results. Idempotent: a duplicate trigger while
// already in results is a no-op.
func (s *Session) reveal() (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.Snapshot{}, domain.ErrSessionClosed
	}
	if s.status == domain.StatusResults {
		return s.snapshotLocked(), nil
	}
	if s.status != domain.StatusQuestion {
		return domain.Snapshot{}, domain.ErrInvalidPhase
	}
	return s.revealLocked(), nil
}

func (s *Session) revealLocked() domain.Snapshot {
	s.status = domain.StatusResults
	return s.mutateLocked()
}

// next advances results -> question, or ends the session after the last
// question. The index never wraps.
func (s *Session) next() (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.Snapshot{}, domain.ErrSessionClosed
	}
	if s.status != domain.StatusResults {
		return domain.Snapshot{}, domain.ErrInvalidPhase
	}
	if s.currentQuestion+1 >= s.quiz.TotalQuestions() {
		return s.endLocked(), nil
	}
	s.currentQuestion++
	s.questionStartedAt = s.now()
	s.status = domain.StatusQuestion
	return s.mutateLocked(), nil
}

// end terminates the session from any non-terminal state.
func (s *Session) end() (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.Snapshot{}, domain.ErrSessionClosed
	}
	return s.endLocked(), nil
}

func (s *Session) endLocked() domain.Snapshot {
	s.status = domain.StatusEnded
	s.endedAt = s.now()
	return s.mutateLocked()
}

// submit records exactly one answer per participant per question, scores it
// and accumulates the points. When every active participant has answered,
// the session auto-reveals.
func (s *Session) submit(participantID string, questionIndex int, choice domain.Choice, timeTakenMs int64) (domain.AnswerResult, domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.AnswerResult{}, domain.Snapshot{}, domain.ErrSessionClosed
	}
	if s.status != domain.StatusQuestion || questionIndex != s.currentQuestion {
		return domain.AnswerResult{}, domain.Snapshot{}, domain.ErrInvalidPhase
	}

	p, ok := s.participants[participantID]
	if !ok {
		return domain.AnswerResult{}, domain.Snapshot{}, domain.ErrParticipantNotFound
	}
	switch p.Status {
	case domain.ParticipantKicked:
		return domain.AnswerResult{}, domain.Snapshot{}, domain.ErrForbidden
	case domain.ParticipantLeft:
		return domain.AnswerResult{}, domain.Snapshot{}, domain.ErrParticipantNotFound
	}

	key := answerKey{participantID: participantID, questionIndex: questionIndex}
	if _, exists := s.answers[key]; exists {
		return domain.AnswerResult{}, domain.Snapshot{}, domain.ErrAlreadyAnswered
	}

	question := s.quiz.Questions[questionIndex]
	correct := choice == question.CorrectChoice
	took := scoring.ClampDuration(timeTakenMs, s.scoring)
	result := scoring.Score(correct, took, s.scoring)

	s.answers[key] = &domain.Answer{
		ParticipantID: participantID,
		QuestionIndex: questionIndex,
		Choice:        choice,
		IsCorrect:     correct,
		TimeTakenMs:   took,
		PointsEarned:  result.Points,
		SubmittedAt:   s.now(),
	}
	p.Score += result.Points

	answer := domain.AnswerResult{
		QuestionIndex: questionIndex,
		Choice:        choice,
		IsCorrect:     correct,
		PointsEarned:  result.Points,
		TotalScore:    p.Score,
	}

	// Auto-reveal on full participation. Guarded against the vacuous case:
	// with zero active participants only the timer or the host reveals.
	if s.activeCountLocked() > 0 && s.allActiveAnsweredLocked() {
		return answer, s.revealLocked(), nil
	}
	return answer, s.mutateLocked(), nil
}

// maybeTimeoutReveal applies the time-based auto-reveal condition, computed
// from the stored question start time rather than any client countdown.
// Returns true when it transitioned the session into results.
func (s *Session) maybeTimeoutReveal() (bool, domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusQuestion || !s.quiz.TimerEnabled || s.quiz.TimerSeconds <= 0 {
		return false, domain.Snapshot{}
	}
	deadline := s.questionStartedAt.Add(time.Duration(s.quiz.TimerSeconds) * time.Second)
	if s.now().Before(deadline) {
		return false, domain.Snapshot{}
	}
	return true, s.revealLocked()
}

// answersFor returns the participant's ledger entries ordered by question.
func (s *Session) answersFor(participantID string) []domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Answer, 0)
	for key, a := range s.answers {
		if key.participantID == participantID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out
}

// distribution counts submitted choices for one question.
func (s *Session) distribution(questionIndex int) map[domain.Choice]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distributionLocked(questionIndex)
}

func (s *Session) distributionLocked(questionIndex int) map[domain.Choice]int {
	counts := make(map[domain.Choice]int, 4)
	for _, c := range domain.Choices() {
		counts[c] = 0
	}
	for key, a := range s.answers {
		if key.questionIndex == questionIndex {
			counts[a.Choice]++
		}
	}
	return counts
}

func (s *Session) activeCountLocked() int {
	n := 0
	for _, p := range s.participants {
		if p.Status == domain.ParticipantActive {
			n++
		}
	}
	return n
}

func (s *Session) allActiveAnsweredLocked() bool {
	for id, p := range s.participants {
		if p.Status != domain.ParticipantActive {
			continue
		}
		if _, ok := s.answers[answerKey{participantID: id, questionIndex: s.currentQuestion}]; !ok {
			return false
		}
	}
	return true
}

// subscribe returns a channel receiving snapshots after every mutation.
// The caller must invoke cancel to avoid leaks.
func (s *Session) subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	// Sent under the lock so no broadcast can slip in ahead of it; the
	// fresh buffered channel cannot block here. Subscribers therefore see
	// versions in non-decreasing order.
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// closeSubscribers tears down all subscriptions, used on session teardown.
func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// mutateLocked bumps the version and fans the fresh snapshot out to
// subscribers. Slow subscribers lose intermediate snapshots, never the
// latest one.
func (s *Session) mutateLocked() domain.Snapshot {
	s.version++
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	return snap
}

func (s *Session) snapshotLocked() domain.Snapshot {
	roster := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		roster = append(roster, *p)
	}
	sort.Slice(roster, func(i, j int) bool {
		if !roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].JoinedAt.Before(roster[j].JoinedAt)
		}
		return roster[i].ID < roster[j].ID
	})

	answered := make([]string, 0)
	waiting := make([]string, 0)
	for _, p := range roster {
		if p.Status != domain.ParticipantActive {
			continue
		}
		if _, ok := s.answers[answerKey{participantID: p.ID, questionIndex: s.currentQuestion}]; ok {
			answered = append(answered, p.ID)
		} else {
			waiting = append(waiting, p.ID)
		}
	}

	snap := domain.Snapshot{
		SessionID:            s.id,
		QuizID:               s.quiz.ID,
		RoomCode:             s.code,
		Status:               s.status,
		CurrentQuestionIndex: s.currentQuestion,
		TotalQuestions:       s.quiz.TotalQuestions(),
		Participants:         roster,
		Leaderboard:          s.leaderboardLocked(roster),
		Answered:             answered,
		Waiting:              waiting,
		Distribution:         s.distributionLocked(s.currentQuestion),
		Version:              s.version,
		UpdatedAt:            s.now(),
	}
	if !s.questionStartedAt.IsZero() && s.status == domain.StatusQuestion {
		t := s.questionStartedAt
		snap.QuestionStartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// leaderboardLocked ranks non-kicked participants: score descending, ties
// broken by join time ascending so earlier joiners rank higher.
func (s *Session) leaderboardLocked(roster []domain.Participant) []domain.LeaderboardEntry {
	ranked := make([]domain.Participant, 0, len(roster))
	for _, p := range roster {
		if p.Status == domain.ParticipantKicked {
			continue
		}
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].JoinedAt.Equal(ranked[j].JoinedAt) {
			return ranked[i].JoinedAt.Before(ranked[j].JoinedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})

	entries := make([]domain.LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		entries[i] = domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Score:         p.Score,
			Rank:          i + 1,
		}
	}
	return entries
}
