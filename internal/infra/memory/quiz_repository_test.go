package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

func TestQuizRepositoryCachesLoads(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if quiz.TotalQuestions() != 1 || !quiz.TimerEnabled {
		t.Fatalf("unexpected quiz %+v", quiz)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}

	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

// Misses for different quiz IDs run as separate singleflight flights at the
// same time; run under -race this catches unsynchronized state in the
// fill path, the jitter source included.
func TestQuizRepositoryConcurrentMisses(t *testing.T) {
	quizzes := make(map[string]domain.Quiz, 8)
	ids := make([]string, 0, 8)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		quiz := sampleQuiz()
		quiz.ID = id
		quizzes[id] = quiz
		ids = append(ids, id)
	}
	repo := NewQuizRepository(NewStaticQuizLoader(quizzes), time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*4)
	for i := 0; i < 4; i++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := repo.GetQuiz(context.Background(), id); err != nil {
					errs <- err
				}
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get: %v", err)
	}
}

func TestQuizRepositoryUnknownQuiz(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(nil), time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "missing"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		Title:        "Sample",
		TimerEnabled: true,
		TimerSeconds: 30,
		Questions: []domain.Question{
			{
				ID:   "q1",
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{Choice: domain.ChoiceA, Text: "3"},
					{Choice: domain.ChoiceB, Text: "4"},
					{Choice: domain.ChoiceC, Text: "5"},
					{Choice: domain.ChoiceD, Text: "22"},
				},
				CorrectChoice: domain.ChoiceB,
			},
		},
	}
}
