package domain

import "time"

// Choice identifies one of the four answer options of a question.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
	ChoiceD Choice = "D"
)

// Choices lists the closed option enumeration in display order.
func Choices() []Choice {
	return []Choice{ChoiceA, ChoiceB, ChoiceC, ChoiceD}
}

// ParseChoice validates a raw client value against the enumeration.
func ParseChoice(raw string) (Choice, bool) {
	switch Choice(raw) {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD:
		return Choice(raw), true
	}
	return "", false
}

// Option is one answer option of a question.
type Option struct {
	Choice Choice `json:"choice"`
	Text   string `json:"text"`
}

// Question models an MCQ question with exactly one correct choice.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []Option `json:"options"`
	CorrectChoice Choice   `json:"correctChoice"`
	Difficulty    string   `json:"difficulty"`
}

// OptionText looks up the text for a choice. The second return is false
// when the question carries no option for that choice.
func (q Question) OptionText(c Choice) (string, bool) {
	for _, opt := range q.Options {
		if opt.Choice == c {
			return opt.Text, true
		}
	}
	return "", false
}

// Quiz is the external quiz definition this core consumes read-only.
type Quiz struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	TimerEnabled bool       `json:"timerEnabled"`
	TimerSeconds int        `json:"timerSeconds"`
	Questions    []Question `json:"questions"`
}

func (q Quiz) TotalQuestions() int { return len(q.Questions) }

// SessionStatus is the lifecycle phase of a hosted session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusQuestion SessionStatus = "question"
	StatusResults  SessionStatus = "results"
	StatusEnded    SessionStatus = "ended"
)

// ParticipantStatus tracks a student's membership state within a session.
type ParticipantStatus string

const (
	ParticipantActive ParticipantStatus = "active"
	ParticipantLeft   ParticipantStatus = "left"
	ParticipantKicked ParticipantStatus = "kicked"
)

// Participant is one student's membership within a session.
type Participant struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Status         ParticipantStatus `json:"status"`
	Score          float64           `json:"score"`
	JoinedAt       time.Time         `json:"joinedAt"`
	KickReason     string            `json:"kickReason,omitempty"`
	ViolationCount int               `json:"violationCount"`
}

// Answer is one immutable entry in the append-only answer ledger.
type Answer struct {
	ParticipantID string    `json:"participantId"`
	QuestionIndex int       `json:"questionIndex"`
	Choice        Choice    `json:"choice"`
	IsCorrect     bool      `json:"isCorrect"`
	TimeTakenMs   int64     `json:"timeTakenMs"`
	PointsEarned  float64   `json:"pointsEarned"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// AnswerResult is returned synchronously to the submitting client.
type AnswerResult struct {
	QuestionIndex int     `json:"questionIndex"`
	Choice        Choice  `json:"choice"`
	IsCorrect     bool    `json:"isCorrect"`
	PointsEarned  float64 `json:"pointsEarned"`
	TotalScore    float64 `json:"totalScore"`
}

// LeaderboardEntry is the ranked view of one participant.
type LeaderboardEntry struct {
	ParticipantID string  `json:"participantId"`
	Name          string  `json:"name"`
	Score         float64 `json:"score"`
	Rank          int     `json:"rank"`
}

// Snapshot is the full observable state of a session, published to
// subscribers after every mutation. Version increases with each mutation
// so stores can reject stale writes.
type Snapshot struct {
	SessionID            string             `json:"sessionId"`
	QuizID               string             `json:"quizId"`
	RoomCode             string             `json:"roomCode"`
	Status               SessionStatus      `json:"status"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	TotalQuestions       int                `json:"totalQuestions"`
	QuestionStartedAt    *time.Time         `json:"questionStartedAt,omitempty"`
	EndedAt              *time.Time         `json:"endedAt,omitempty"`
	Participants         []Participant      `json:"participants"`
	Leaderboard          []LeaderboardEntry `json:"leaderboard"`
	Answered             []string           `json:"answered"`
	Waiting              []string           `json:"waiting"`
	Distribution         map[Choice]int     `json:"distribution"`
	Version              int64              `json:"version"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}
