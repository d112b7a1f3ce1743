package memory

import (
	"sync"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// Snapshots are mirrored with a version check: the mirror only moves
// forward, so a write that lost the race to a newer version is a no-op
// rather than a lost update.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*app.Session
	byCode    map[string]string
	snapshots map[string]domain.Snapshot
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*app.Session),
		byCode:    make(map[string]string),
		snapshots: make(map[string]domain.Snapshot),
	}
}

func (s *SessionStore) Create(session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[session.RoomCode()]; taken {
		return domain.ErrConcurrencyConflict
	}
	s.sessions[session.ID()] = session
	s.byCode[session.RoomCode()] = session.ID()
	return nil
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) GetByCode(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, false
	}
	session, ok := s.sessions[id]
	return session, ok
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.byCode, session.RoomCode())
	delete(s.sessions, sessionID)
	delete(s.snapshots, sessionID)
}

func (s *SessionStore) Active() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// CodeInUse reports whether a room code belongs to a live session. Ended
// sessions keep their entry until teardown; their codes free up then.
func (s *SessionStore) CodeInUse(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCode[code]
	return ok
}

func (s *SessionStore) SaveSnapshot(snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.snapshots[snapshot.SessionID]
	if ok && prev.Version >= snapshot.Version {
		// The mirror already holds this state or a newer one. The aggregate
		// is authoritative, so dropping the stale write loses nothing.
		return nil
	}
	s.snapshots[snapshot.SessionID] = snapshot
	return nil
}

// Snapshot returns the last persisted snapshot, for observers that do not
// hold the live aggregate.
func (s *SessionStore) Snapshot(sessionID string) (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	return snap, ok
}
