package domain

import "errors"

var (
	// ErrSessionClosed is returned for any command against an ended session.
	ErrSessionClosed = errors.New("session has ended")
	// ErrInvalidPhase is returned when a command targets the wrong session
	// status or a stale question index. Callers should refetch and may retry.
	ErrInvalidPhase = errors.New("invalid session phase")
	// ErrAlreadyAnswered is returned on a duplicate submission; the first
	// submission remains authoritative.
	ErrAlreadyAnswered = errors.New("answer already submitted")
	// ErrForbidden is returned when a kicked participant tries to rejoin or act.
	ErrForbidden = errors.New("participant is not allowed in this session")
	// ErrSessionNotFound indicates an unknown session id or room code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question index is out of range.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoParticipants is returned when the host starts a session nobody joined.
	ErrNoParticipants = errors.New("session has no active participants")
	// ErrConcurrencyConflict marks an optimistic write rejected due to stale
	// base state. Eligible for bounded internal retry, unlike the errors above.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	// ErrCodeSpaceExhausted is returned when room code generation keeps colliding.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
)

// Retryable reports whether an error represents a transient conflict that the
// caller may retry against fresh state, as opposed to real session state.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// Terminal reports whether an error means the client should navigate away
// rather than retry (game over or membership revoked).
func Terminal(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrForbidden)
}
