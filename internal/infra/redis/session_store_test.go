package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/scoring"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionStore(client, time.Minute), mr
}

func testSession(id, code string) *app.Session {
	quiz := domain.Quiz{ID: "quiz-1", Questions: []domain.Question{{ID: "q1", CorrectChoice: domain.ChoiceA}}}
	return app.NewSession(id, code, quiz, scoring.Config{BasePoints: 10, MaxBonus: 2}, 3)
}

func TestCreateClaimsCodeAndLivenessKeys(t *testing.T) {
	store, mr := newTestStore(t)

	if err := store.Create(testSession("s1", "ABCDEF")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("room:code:ABCDEF") {
		t.Fatalf("expected code key claimed")
	}
	if !mr.Exists("room:session:s1") {
		t.Fatalf("expected liveness key set")
	}
	if !store.CodeInUse("ABCDEF") {
		t.Fatalf("expected code reported in use")
	}
}

func TestCreateRejectsCodeClaimedByAnotherInstance(t *testing.T) {
	store, mr := newTestStore(t)

	// Another instance already claimed the code in Redis.
	mr.Set("room:code:ABCDEF", "other-session")

	if err := store.Create(testSession("s1", "ABCDEF")); err != domain.ErrConcurrencyConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteClearsKeys(t *testing.T) {
	store, mr := newTestStore(t)

	session := testSession("s1", "ABCDEF")
	_ = store.Create(session)
	if err := store.SaveSnapshot(session.Snapshot()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	store.Delete("s1")
	for _, key := range []string{"room:code:ABCDEF", "room:session:s1", "room:snapshot:s1", "room:snapshot:s1:version"} {
		if mr.Exists(key) {
			t.Fatalf("expected key %s removed", key)
		}
	}
	if store.CodeInUse("ABCDEF") {
		t.Fatalf("expected code recycled")
	}
}

func TestSaveSnapshotVersioning(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SaveSnapshot(domain.Snapshot{SessionID: "s1", Version: 2, Status: domain.StatusQuestion}); err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if err := store.SaveSnapshot(domain.Snapshot{SessionID: "s1", Version: 2}); err != nil {
		t.Fatalf("equal version rewrite should be a no-op, got %v", err)
	}
	if err := store.SaveSnapshot(domain.Snapshot{SessionID: "s1", Version: 1, Status: domain.StatusWaiting}); err != nil {
		t.Fatalf("stale version should be dropped silently, got %v", err)
	}
	if snap, err := store.Snapshot(context.Background(), "s1"); err != nil || snap.Version != 2 || snap.Status != domain.StatusQuestion {
		t.Fatalf("stale write must not overwrite the mirror, got %+v (%v)", snap, err)
	}
	if err := store.SaveSnapshot(domain.Snapshot{SessionID: "s1", Version: 3}); err != nil {
		t.Fatalf("save v3: %v", err)
	}

	snap, err := store.Snapshot(context.Background(), "s1")
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Version != 3 {
		t.Fatalf("expected stored version 3, got %d", snap.Version)
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Snapshot(context.Background(), "missing"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
