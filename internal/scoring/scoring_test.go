package scoring

import "testing"

func testConfig() Config {
	return Config{BasePoints: 10, MaxBonus: 2, TimerEnabled: true, TimerSeconds: 30}
}

func TestIncorrectScoresZero(t *testing.T) {
	got := Score(false, 0, testConfig())
	if got.Points != 0 || got.Base != 0 || got.SpeedBonus != 0 {
		t.Fatalf("expected all-zero result for incorrect answer, got %+v", got)
	}
}

func TestTimerDisabledAwardsBaseOnly(t *testing.T) {
	cfg := testConfig()
	cfg.TimerEnabled = false
	got := Score(true, 12345, cfg)
	if got.Points != 10 || got.SpeedBonus != 0 {
		t.Fatalf("expected base points only, got %+v", got)
	}
}

func TestDeterminism(t *testing.T) {
	cfg := testConfig()
	first := Score(true, 14250, cfg)
	for i := 0; i < 100; i++ {
		if got := Score(true, 14250, cfg); got != first {
			t.Fatalf("score not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestMonotonicDecay(t *testing.T) {
	cfg := testConfig()
	prev := Score(true, 0, cfg).Points
	for ms := int64(0); ms <= 30000; ms += 250 {
		got := Score(true, ms, cfg).Points
		if got > prev {
			t.Fatalf("points increased from %v to %v at t=%dms", prev, got, ms)
		}
		prev = got
	}
}

func TestNegativeTimeClampsToZero(t *testing.T) {
	cfg := testConfig()
	if got, want := Score(true, -50, cfg), Score(true, 0, cfg); got != want {
		t.Fatalf("negative time should clamp to 0: got %+v want %+v", got, want)
	}
	if got := Score(true, -50, cfg); got.SpeedBonus != 2 || got.Points != 12 {
		t.Fatalf("expected max bonus at clamped zero, got %+v", got)
	}
}

func TestOversizedTimeClampsToLimit(t *testing.T) {
	cfg := testConfig()
	if got, want := Score(true, 9999999, cfg), Score(true, 30000, cfg); got != want {
		t.Fatalf("oversized time should clamp to limit: got %+v want %+v", got, want)
	}
	if got := Score(true, 9999999, cfg); got.SpeedBonus != 0 || got.Points != 10 {
		t.Fatalf("expected zero bonus at limit, got %+v", got)
	}
}

func TestHalfTimeHalfBonus(t *testing.T) {
	cfg := Config{BasePoints: 10, MaxBonus: 2, TimerEnabled: true, TimerSeconds: 20}
	got := Score(true, 10000, cfg)
	if got.SpeedBonus != 1.0 {
		t.Fatalf("expected speed bonus 1.0, got %v", got.SpeedBonus)
	}
	if got.Points != 11.0 {
		t.Fatalf("expected points 11.0, got %v", got.Points)
	}
}

func TestBonusRoundedToOneDecimal(t *testing.T) {
	cfg := Config{BasePoints: 10, MaxBonus: 2, TimerEnabled: true, TimerSeconds: 30}
	got := Score(true, 10000, cfg) // ratio 2/3 -> bonus 1.333...
	if got.SpeedBonus != 1.3 {
		t.Fatalf("expected bonus rounded to 1.3, got %v", got.SpeedBonus)
	}
	if got.Points != 11.3 {
		t.Fatalf("expected points 11.3, got %v", got.Points)
	}
}

func TestClampDuration(t *testing.T) {
	timed := Config{BasePoints: 10, MaxBonus: 2, TimerEnabled: true, TimerSeconds: 20}
	if got := ClampDuration(-50, timed); got != 0 {
		t.Fatalf("negative duration: got %d, want 0", got)
	}
	if got := ClampDuration(9999999, timed); got != 20000 {
		t.Fatalf("oversized duration: got %d, want timer limit 20000", got)
	}
	if got := ClampDuration(1500, timed); got != 1500 {
		t.Fatalf("in-range duration changed: got %d", got)
	}

	untimed := Config{BasePoints: 10}
	if got := ClampDuration(-1, untimed); got != 0 {
		t.Fatalf("negative duration without timer: got %d, want 0", got)
	}
	if got := ClampDuration(2*maxSaneDurationMs, untimed); got != maxSaneDurationMs {
		t.Fatalf("oversized duration without timer: got %d, want sanity cap", got)
	}
}
