package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/roomcode"
	"quizroom-service/internal/scoring"
)

// SessionRepository abstracts how live sessions are stored (in-memory,
// Redis, etc). Create must enforce room-code uniqueness among active
// sessions. SaveSnapshot must never regress the mirrored version: a write
// older than the stored one is dropped as a no-op, and only a write that
// could not land at all surfaces domain.ErrConcurrencyConflict.
type SessionRepository interface {
	Create(session *Session) error
	Get(sessionID string) (*Session, bool)
	GetByCode(code string) (*Session, bool)
	Delete(sessionID string)
	Active() []*Session
	CodeInUse(code string) bool
	SaveSnapshot(snapshot domain.Snapshot) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// GameConfig carries the tunables of the session engine.
type GameConfig struct {
	BasePoints    float64
	MaxBonus      float64
	MaxViolations int
}

func (c GameConfig) withDefaults() GameConfig {
	if c.BasePoints == 0 {
		c.BasePoints = 10
	}
	if c.MaxBonus == 0 {
		c.MaxBonus = 2
	}
	if c.MaxViolations == 0 {
		c.MaxViolations = 3
	}
	return c
}

// GameService contains the live-session use cases: hosting, joining,
// answering, host-driven phase transitions and teardown.
type GameService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	codes    *roomcode.Generator
	cfg      GameConfig
	now      func() time.Time
}

func NewGameService(store SessionRepository, quizzes QuizRepository, cfg GameConfig) *GameService {
	return &GameService{
		sessions: store,
		quizzes:  quizzes,
		codes:    roomcode.NewGenerator(),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *GameService) WithClock(now func() time.Time) *GameService {
	s.now = now
	return s
}

// Host creates a new session for a quiz and returns its initial snapshot.
// The room code is collision-checked against active sessions; a store race
// on the code is retried with a fresh code.
func (s *GameService) Host(ctx context.Context, quizID string) (domain.Snapshot, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	scoreCfg := scoring.Config{BasePoints: s.cfg.BasePoints, MaxBonus: s.cfg.MaxBonus}
	var session *Session
	for attempt := 0; attempt < 3; attempt++ {
		code, err := s.codes.Unique(s.sessions.CodeInUse)
		if err != nil {
			return domain.Snapshot{}, err
		}
		session = newSession(uuid.NewString(), code, quiz, scoreCfg, s.cfg.MaxViolations, s.now)
		err = s.sessions.Create(session)
		if err == nil {
			return session.Snapshot(), nil
		}
		if !domain.Retryable(err) {
			return domain.Snapshot{}, err
		}
	}
	return domain.Snapshot{}, domain.ErrConcurrencyConflict
}

// Join adds a student to the room identified by code, or returns the
// existing membership on rejoin with the same email.
func (s *GameService) Join(_ context.Context, code, name, email string) (domain.Participant, domain.Snapshot, error) {
	session, ok := s.sessions.GetByCode(code)
	if !ok {
		return domain.Participant{}, domain.Snapshot{}, domain.ErrSessionNotFound
	}
	p, snap, err := session.join(name, email)
	if err != nil {
		return domain.Participant{}, domain.Snapshot{}, err
	}
	s.persist(session, snap)
	return p, snap, nil
}

// SubmitAnswer validates and records one answer, returning the scored
// result synchronously. Persistence failures are surfaced because the
// mutation affects score.
func (s *GameService) SubmitAnswer(_ context.Context, sessionID, participantID string, questionIndex int, choice domain.Choice, timeTakenMs int64) (domain.AnswerResult, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	}
	result, snap, err := session.submit(participantID, questionIndex, choice, timeTakenMs)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if err := s.saveWithRetry(session, snap); err != nil {
		return domain.AnswerResult{}, err
	}
	return result, nil
}

// Start begins the first question. Host command.
func (s *GameService) Start(_ context.Context, sessionID string) (domain.Snapshot, error) {
	return s.hostTransition(sessionID, (*Session).start)
}

// Reveal moves the current question into results. Host command; the
// automatic variants share the same transition.
func (s *GameService) Reveal(_ context.Context, sessionID string) (domain.Snapshot, error) {
	return s.hostTransition(sessionID, (*Session).reveal)
}

// Next advances to the following question or ends the session. Host command.
func (s *GameService) Next(_ context.Context, sessionID string) (domain.Snapshot, error) {
	return s.hostTransition(sessionID, (*Session).next)
}

// EndGame terminates the session early. Host command.
func (s *GameService) EndGame(_ context.Context, sessionID string) (domain.Snapshot, error) {
	return s.hostTransition(sessionID, (*Session).end)
}

func (s *GameService) hostTransition(sessionID string, fn func(*Session) (domain.Snapshot, error)) (domain.Snapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	snap, err := fn(session)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.persist(session, snap)
	return snap, nil
}

// Kick removes a participant on the host's initiative.
func (s *GameService) Kick(_ context.Context, sessionID, participantID, reason string) (domain.Snapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	snap, err := session.kick(participantID, reason)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.persist(session, snap)
	return snap, nil
}

// Leave marks a participant as disconnected. Their answers and score stay.
func (s *GameService) Leave(_ context.Context, sessionID, participantID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	snap, err := session.markLeft(participantID)
	if err != nil {
		return
	}
	s.persist(session, snap)
}

// ReportViolation feeds one classified anti-cheat event into the threshold
// policy. Returns whether this event caused the participant to be kicked.
func (s *GameService) ReportViolation(_ context.Context, sessionID, participantID, violationType string) (bool, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	kicked, snap, err := session.reportViolation(participantID, violationType)
	if err != nil {
		return false, err
	}
	s.persist(session, snap)
	return kicked, nil
}

// Subscribe returns a channel that receives session snapshots. The caller
// must invoke the returned cancel function to avoid leaks.
func (s *GameService) Subscribe(_ context.Context, sessionID string) (<-chan domain.Snapshot, func(), error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Snapshot reads the current state without mutating anything.
func (s *GameService) Snapshot(_ context.Context, sessionID string) (domain.Snapshot, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.Snapshot(), nil
}

// SessionByCode resolves a room code for clients that only hold the code.
func (s *GameService) SessionByCode(_ context.Context, code string) (domain.Snapshot, error) {
	session, ok := s.sessions.GetByCode(code)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.Snapshot(), nil
}

// Question exposes a question in client-safe form (no correct choice).
func (s *GameService) Question(_ context.Context, sessionID string, index int) (domain.Question, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.Question{}, domain.ErrSessionNotFound
	}
	quiz := session.Quiz()
	if index < 0 || index >= quiz.TotalQuestions() {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	q := quiz.Questions[index]
	q.CorrectChoice = ""
	return q, nil
}

// Answers returns a participant's ledger entries in question order, for
// end-of-game breakdowns and exports.
func (s *GameService) Answers(_ context.Context, sessionID, participantID string) ([]domain.Answer, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.answersFor(participantID), nil
}

// Distribution aggregates per-choice answer counts for one question.
func (s *GameService) Distribution(_ context.Context, sessionID string, questionIndex int) (map[domain.Choice]int, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.distribution(questionIndex), nil
}

// Teardown destroys the session and everything it owns. Callers capture any
// export data they need before invoking this.
func (s *GameService) Teardown(_ context.Context, sessionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.closeSubscribers()
	s.sessions.Delete(sessionID)
}

// SweepReveals applies the time-based auto-reveal condition to every active
// session. Returns how many sessions transitioned.
func (s *GameService) SweepReveals(_ context.Context) int {
	revealed := 0
	for _, session := range s.sessions.Active() {
		if done, snap := session.maybeTimeoutReveal(); done {
			s.persist(session, snap)
			revealed++
		}
	}
	return revealed
}

// RunRevealLoop evaluates timer expiries until the context is canceled.
// The sweep owns the authoritative reveal decision; client countdowns are
// display only.
func (s *GameService) RunRevealLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepReveals(ctx)
		}
	}
}

const saveAttempts = 3

// saveWithRetry mirrors a snapshot into the store. A concurrency conflict
// means another mutation outran this one on the way to the store, so each
// retry re-reads the aggregate's current snapshot rather than re-sending
// the stale one.
func (s *GameService) saveWithRetry(session *Session, snap domain.Snapshot) error {
	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		err = s.sessions.SaveSnapshot(snap)
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		snap = session.Snapshot()
	}
	return err
}

// persist mirrors a snapshot into the store. Non-score mutations tolerate a
// failed mirror write; the in-memory aggregate stays authoritative.
func (s *GameService) persist(session *Session, snap domain.Snapshot) {
	if err := s.saveWithRetry(session, snap); err != nil {
		log.Printf("snapshot save failed for session %s v%d: %v", snap.SessionID, snap.Version, err)
	}
}
