package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

const saveAttempts = 3

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - The live aggregates stay in a local map so the in-process broadcast
//     logic keeps working; Redis adds the cross-instance pieces.
//   - Room codes are claimed with SETNX so two instances cannot mint the
//     same active code.
//   - Snapshots are mirrored as versioned JSON with a WATCH-guarded write.
//     The mirror only moves forward: a write superseded by a newer version
//     is a no-op, and a lost WATCH is retried a bounded number of times
//     before surfacing domain.ErrConcurrencyConflict.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
	byCode   map[string]string
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
		byCode:   make(map[string]string),
	}
}

func (s *SessionStore) Create(session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := session.RoomCode()
	if _, taken := s.byCode[code]; taken {
		return domain.ErrConcurrencyConflict
	}
	claimed, err := s.client.SetNX(context.Background(), s.codeKey(code), session.ID(), s.ttl).Result()
	if err == nil && !claimed {
		return domain.ErrConcurrencyConflict
	}

	s.sessions[session.ID()] = session
	s.byCode[code] = session.ID()
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.liveKey(session.ID()), "1", s.ttl).Err()
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

	ctx := context.Background()
	_ = s.client.Del(ctx,
		s.codeKey(session.RoomCode()),
		s.liveKey(sessionID),
		s.snapKey(sessionID),
		s.versionKey(sessionID),
	).Err()
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

func (s *SessionStore) CodeInUse(code string) bool {
	s.mu.RLock()
	if _, ok := s.byCode[code]; ok {
		s.mu.RUnlock()
		return true
	}
	s.mu.RUnlock()

	n, err := s.client.Exists(context.Background(), s.codeKey(code)).Result()
	return err == nil && n > 0
}

// SaveSnapshot mirrors a snapshot with optimistic concurrency on the
// version key. Writes at or below the stored version are idempotent no-ops.
func (s *SessionStore) SaveSnapshot(snapshot domain.Snapshot) error {
	ctx := context.Background()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.versionKey(snapshot.SessionID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			stored, parseErr := strconv.ParseInt(raw, 10, 64)
			if parseErr == nil && stored >= snapshot.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.snapKey(snapshot.SessionID), data, s.ttl)
			pipe.Set(ctx, s.versionKey(snapshot.SessionID), snapshot.Version, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < saveAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, s.versionKey(snapshot.SessionID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return domain.ErrConcurrencyConflict
}

// Snapshot reads the mirrored snapshot, usable by observer-only instances.
func (s *SessionStore) Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.snapKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *SessionStore) codeKey(code string) string {
	return "room:code:" + code
}

func (s *SessionStore) liveKey(sessionID string) string {
	return "room:session:" + sessionID
}

func (s *SessionStore) snapKey(sessionID string) string {
	return "room:snapshot:" + sessionID
}

func (s *SessionStore) versionKey(sessionID string) string {
	return "room:snapshot:" + sessionID + ":version"
}
