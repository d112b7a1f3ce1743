// Package scoring computes points for answer submissions. It is pure: the
// same inputs always produce the same output, so leaderboards can be
// recomputed from the answer ledger at any time.
package scoring

import "math"

// Values above one hour cannot be a real per-question duration and are
// treated as corrupted input, clamped to the timer limit (zero bonus).
const maxSaneDurationMs int64 = 60 * 60 * 1000

// Config parameterizes the single scoring scheme: a flat base for a correct
// answer plus a speed bonus decaying linearly to zero at the time limit.
type Config struct {
	BasePoints   float64
	MaxBonus     float64
	TimerEnabled bool
	TimerSeconds int
}

// Result breaks a score down into its components. Points = Base + SpeedBonus,
// rounded to one decimal place.
type Result struct {
	Points     float64
	Base       float64
	SpeedBonus float64
}

// Score computes the points for one submission. Incorrect answers score zero
// across the board; this is not an error.
func Score(isCorrect bool, timeTakenMs int64, cfg Config) Result {
	if !isCorrect {
		return Result{}
	}
	if !cfg.TimerEnabled || cfg.TimerSeconds <= 0 {
		return Result{Points: cfg.BasePoints, Base: cfg.BasePoints}
	}

	limit := int64(cfg.TimerSeconds) * 1000
	t := clampDuration(timeTakenMs, limit)

	ratio := 1 - float64(t)/float64(limit)
	if ratio < 0 {
		ratio = 0
	}
	bonus := round1(cfg.MaxBonus * ratio)
	return Result{
		Points:     round1(cfg.BasePoints + bonus),
		Base:       cfg.BasePoints,
		SpeedBonus: bonus,
	}
}

// ClampDuration normalizes a client-reported duration the same way Score
// does before computing the bonus: negatives become zero, values past the
// sanity cap or the timer limit snap to the limit. Callers that persist
// durations use it so stored times match what was scored. Without a timer
// only the sanity cap applies.
func ClampDuration(ms int64, cfg Config) int64 {
	if !cfg.TimerEnabled || cfg.TimerSeconds <= 0 {
		return clampDuration(ms, maxSaneDurationMs)
	}
	return clampDuration(ms, int64(cfg.TimerSeconds)*1000)
}

func clampDuration(ms, limit int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > maxSaneDurationMs {
		return limit
	}
	if ms > limit {
		return limit
	}
	return ms
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
