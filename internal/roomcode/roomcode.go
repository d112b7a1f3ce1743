// Package roomcode generates join codes for live sessions.
package roomcode

import (
	"math/rand"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// Alphabet excludes the easily confused characters 0, 1, I and O.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length of every generated code.
const Length = 6

const maxAttempts = 100

// Generator produces random room codes. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator() *Generator {
	return NewGeneratorWithSeed(time.Now().UnixNano())
}

// NewGeneratorWithSeed allows deterministic sequences in tests.
func NewGeneratorWithSeed(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Code returns one random code without any uniqueness guarantee.
func (g *Generator) Code() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := make([]byte, Length)
	for i := range buf {
		buf[i] = Alphabet[g.rnd.Intn(len(Alphabet))]
	}
	return string(buf)
}

// Unique generates codes until taken reports false, regenerating on
// collision. Only currently active sessions count as taken, so codes of
// ended sessions are recycled. Fails after a bounded number of attempts.
func (g *Generator) Unique(taken func(code string) bool) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code := g.Code()
		if !taken(code) {
			return code, nil
		}
	}
	return "", domain.ErrCodeSpaceExhausted
}
