package sitepacer

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"
)

// testConfig returns a quiet, deterministic config with the timer disabled.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandleTimer = false
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Source = rand.NewSource(1)
	return cfg
}

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func track(t *testing.T, m *Monitor, response any, category string) float64 {
	t.Helper()
	d, err := m.TrackRequest(response, category)
	if err != nil {
		t.Fatalf("TrackRequest(%v, %q) failed: %v", response, category, err)
	}
	return d
}

func storedDelay(t *testing.T, m *Monitor, category string) float64 {
	t.Helper()
	s, ok := m.Category(category)
	if !ok {
		t.Fatalf("Unknown category %q", category)
	}
	d, ok := s.CurrentDelay()
	if !ok {
		t.Fatalf("Category %q not calibrated", category)
	}
	return d
}

func TestMonitor_CalibratesAfterBurnIn(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 5
	cfg.ChokePoint = 2
	m := newTestMonitor(t, cfg)

	for i, v := range []float64{1, 2, 3, 4} {
		if d := track(t, m, v, ""); d != cfg.Delays.BurnIn {
			t.Errorf("Observation %d: expected burn-in delay %.1f, got %.1f", i, cfg.Delays.BurnIn, d)
		}
		if s, _ := m.Category(""); s.Calibrated() {
			t.Fatalf("Calibrated too early, after %d observations", i+1)
		}
	}

	track(t, m, 5.0, "")

	s, ok := m.Category(DefaultCategory)
	if !ok || !s.Calibrated() {
		t.Fatalf("Expected %q to be calibrated after burn-in", DefaultCategory)
	}

	wantStd := math.Sqrt(2.5)
	avg, _ := m.BaselineAvg("")
	std, _ := m.BaselineStd("")
	bmax, _ := m.BaselineMax("")

	if math.Abs(avg-3) > Tolerance {
		t.Errorf("Expected baseline avg 3, got %.6f", avg)
	}
	if math.Abs(std-wantStd) > Tolerance {
		t.Errorf("Expected sample std %.6f, got %.6f", wantStd, std)
	}
	if math.Abs(bmax-(3+2*wantStd)) > Tolerance {
		t.Errorf("Expected baseline max %.6f, got %.6f", 3+2*wantStd, bmax)
	}

	AssertBaselineConsistent(t, m, "")
	t.Logf("✓ Baseline: avg=%.3f std=%.3f max=%.3f", avg, std, bmax)
}

func TestMonitor_CalibrationHappensOnce(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 3
	m := newTestMonitor(t, cfg)

	for _, v := range []float64{1, 1, 1} {
		track(t, m, v, "")
	}
	before, _ := m.BaselineMax("")

	// Wildly different latencies after burn-in never move the baseline.
	for i := 0; i < 50; i++ {
		track(t, m, 100.0, "")
	}
	after, _ := m.BaselineMax("")

	if before != after {
		t.Errorf("Baseline changed after calibration: %.3f → %.3f", before, after)
	}

	s, _ := m.Category("")
	if s.BurnInCount() != 3 {
		t.Errorf("Expected burn-in count 3, got %d", s.BurnInCount())
	}
	if got := len(m.Responses("")); got != 53 {
		t.Errorf("Expected 53 responses in history, got %d", got)
	}
}

// The worked example: burn_in=3, choke_point=1, slow_down_thresh=1,
// rolling_mean_length=2, observations [1,1,1] then 2.
func TestMonitor_SlowDownScenario(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 3
	cfg.ChokePoint = 1
	cfg.SlowDownThresh = 1
	cfg.RollingMeanLength = 2
	cfg.StartDelay = 0
	cfg.Delays.Interval = 5
	m := newTestMonitor(t, cfg)

	for _, v := range []float64{1, 1, 1} {
		track(t, m, v, "")
	}

	avg, _ := m.BaselineAvg("")
	std, _ := m.BaselineStd("")
	bmax, _ := m.BaselineMax("")
	if avg != 1 || std != 0 || bmax != 1 {
		t.Fatalf("Expected baseline (1, 0, 1), got (%.3f, %.3f, %.3f)", avg, std, bmax)
	}

	d := track(t, m, 2.0, "")

	s, _ := m.Category("")
	if rm := s.RollingMeans(); len(rm) != 1 || rm[0] != 2 {
		t.Errorf("Expected rolling means [2], got %v", rm)
	}
	if d != 5 {
		t.Errorf("Expected delay 0+5=5 after immediate slow-down, got %.3f", d)
	}

	stats := m.GetStatistics()
	if stats["slow_downs"].(int) != 1 {
		t.Errorf("Expected 1 slow-down, got %d", stats["slow_downs"].(int))
	}
}

func TestMonitor_ZeroLatencySpeedsUpToMin(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 3
	cfg.SpeedUpThresh = 2
	cfg.StartDelay = 20
	cfg.Delays = Delays{BurnIn: 10, Min: 2, Max: 30, Interval: 5}
	m := newTestMonitor(t, cfg)

	for i := 0; i < cfg.BurnIn; i++ {
		track(t, m, 0.0, "")
	}

	prev := storedDelay(t, m, "")
	if prev != 20 {
		t.Fatalf("Expected start delay 20, got %.1f", prev)
	}

	var trajectory []float64
	for i := 0; i < 20; i++ {
		d := track(t, m, 0.0, "")
		if d > prev {
			t.Fatalf("Delay increased on zero latency: %.1f → %.1f", prev, d)
		}
		prev = d
		trajectory = append(trajectory, d)
		AssertDelayBounded(t, m, "")
	}

	if prev != cfg.Delays.Min {
		t.Errorf("Expected delay clamped at min %.1f, got %.1f", cfg.Delays.Min, prev)
	}

	want := []float64{20, 15, 15, 10, 10, 5, 5, 2, 2, 2}
	for i, w := range want {
		if trajectory[i] != w {
			t.Errorf("Step %d: expected %.1f, got %.1f (trajectory %v)", i, w, trajectory[i], trajectory[:len(want)])
			break
		}
	}
	t.Logf("✓ Speed-up trajectory: %v", trajectory)
}

func TestMonitor_HighLatencySlowsDownToMax(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 3
	cfg.SlowDownThresh = 3
	cfg.StartDelay = 0
	cfg.Delays = Delays{BurnIn: 10, Min: 0, Max: 12, Interval: 5}
	m := newTestMonitor(t, cfg)

	for _, v := range []float64{1, 1, 1} {
		track(t, m, v, "")
	}
	s, _ := m.Category("")

	expected := []struct {
		delay float64
		slow  int
	}{
		{0, 1}, {0, 2}, {5, 0},
		{5, 1}, {5, 2}, {10, 0},
		{10, 1}, {10, 2}, {12, 0}, // clamped at max
		{12, 1}, {12, 2}, {12, 0},
	}

	for i, e := range expected {
		d := track(t, m, 100.0, "")
		slow, fast := s.Counters()
		if d != e.delay || slow != e.slow || fast != 0 {
			t.Errorf("Observation %d: expected delay=%.0f slow=%d fast=0, got delay=%.0f slow=%d fast=%d",
				i, e.delay, e.slow, d, slow, fast)
		}
	}

	stats := m.GetStatistics()
	if stats["ceilings_reached"].(int) != 2 {
		t.Errorf("Expected 2 ceiling events, got %d", stats["ceilings_reached"].(int))
	}
}

func TestMonitor_DelayNeverLeavesBounds(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 10
	cfg.SlowDownThresh = 2
	cfg.SpeedUpThresh = 2
	cfg.RollingMeanLength = 3
	cfg.StartDelay = 4
	cfg.Delays = Delays{BurnIn: 1, Min: 1, Max: 9, Interval: 3}
	m := newTestMonitor(t, cfg)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		// Alternate calm and congested stretches.
		v := rng.Float64()
		if (i/40)%2 == 1 {
			v += 5
		}
		track(t, m, v, "")
		if i >= cfg.BurnIn {
			AssertDelayBounded(t, m, "")
		}
	}

	AssertPacing(t, m)
	stats := m.GetStatistics()
	t.Logf("✓ Bounded over 2000 observations: %d slow-downs, %d speed-ups",
		stats["slow_downs"].(int), stats["speed_ups"].(int))
}

func TestMonitor_JitterBounds(t *testing.T) {
	r := 0.5
	cfg := testConfig()
	cfg.BurnIn = 2
	cfg.Rand = &r
	cfg.StartDelay = 2
	cfg.SpeedUpThresh = 1_000_000 // keep the stored delay fixed
	m := newTestMonitor(t, cfg)

	// Burn-in answers are never jittered.
	for i := 0; i < cfg.BurnIn; i++ {
		if d := track(t, m, 1.0, ""); d != cfg.Delays.BurnIn {
			t.Errorf("Burn-in delay jittered: got %.3f", d)
		}
	}

	const samples = 10000
	var buckets [4]int
	var sum float64
	for i := 0; i < samples; i++ {
		d := track(t, m, 1.0, "")
		AssertWithinJitter(t, d, 2, r)
		sum += d
		idx := int((d - 1.5) / 0.25)
		buckets[min(max(idx, 0), 3)]++
	}

	if stored := storedDelay(t, m, ""); stored != 2 {
		t.Errorf("Jitter perturbed the stored delay: %.3f", stored)
	}

	if avg := sum / samples; math.Abs(avg-2) > 0.02 {
		t.Errorf("Jittered mean %.4f too far from 2", avg)
	}
	for i, n := range buckets {
		if n < 2300 || n > 2700 {
			t.Errorf("Bucket %d holds %d of %d samples, expected ≈2500", i, n, samples)
		}
	}
	t.Logf("✓ Jitter quartiles: %v", buckets)
}

func TestMonitor_CategoryIsolation(t *testing.T) {
	cfg := testConfig()
	cfg.Categories = []string{"search", "detail"}
	cfg.BurnIn = 5
	cfg.SlowDownThresh = 2
	cfg.SpeedUpThresh = 2
	cfg.StartDelay = 10
	cfg.Delays = Delays{BurnIn: 10, Min: 0, Max: 30, Interval: 5}
	m := newTestMonitor(t, cfg)

	for i := 0; i < cfg.BurnIn; i++ {
		track(t, m, 3.0+float64(i%2), "search")
		track(t, m, 0.1, "detail")
	}

	searchAvg, _ := m.BaselineAvg("search")
	detailAvg, _ := m.BaselineAvg("detail")
	if searchAvg <= detailAvg {
		t.Fatalf("Baselines not independent: search=%.3f detail=%.3f", searchAvg, detailAvg)
	}

	for i := 0; i < 10; i++ {
		track(t, m, 50.0, "search")
		track(t, m, 0.0, "detail")
	}

	search := storedDelay(t, m, "search")
	detail := storedDelay(t, m, "detail")
	if search <= cfg.StartDelay {
		t.Errorf("Expected search to slow down above %.0f, got %.0f", cfg.StartDelay, search)
	}
	if detail >= cfg.StartDelay {
		t.Errorf("Expected detail to speed up below %.0f, got %.0f", cfg.StartDelay, detail)
	}
	if n := len(m.Responses("detail")); n != 15 {
		t.Errorf("Expected 15 detail responses, got %d", n)
	}

	AssertPacing(t, m)
	t.Logf("✓ Independent trajectories: search=%.0f detail=%.0f", search, detail)
}

func TestMonitor_OpenCategories(t *testing.T) {
	m := newTestMonitor(t, testConfig())

	track(t, m, 0.2, "")
	track(t, m, 0.2, "anything")

	if len(m.Categories()) != 2 {
		t.Fatalf("Expected 2 lazily created categories, got %d", len(m.Categories()))
	}
	if m.Categories()[0].Name() != DefaultCategory {
		t.Errorf("Expected empty category to map to %q, got %q", DefaultCategory, m.Categories()[0].Name())
	}
}

func TestMonitor_ClosedCategories(t *testing.T) {
	cfg := testConfig()
	cfg.Categories = []string{"search", "detail"}
	m := newTestMonitor(t, cfg)

	if len(m.Categories()) != 2 {
		t.Fatalf("Expected declared categories created eagerly, got %d", len(m.Categories()))
	}

	_, err := m.TrackRequest(0.3, "unknown")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for unknown category, got %v", err)
	}

	// Two declared categories, so the empty id maps to DefaultCategory,
	// which is not declared either.
	_, err = m.TrackRequest(0.3, "")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for implicit category, got %v", err)
	}

	if len(m.Categories()) != 2 {
		t.Errorf("Closed registry grew to %d categories", len(m.Categories()))
	}
}

func TestMonitor_SingleDeclaredCategoryIsImplicit(t *testing.T) {
	cfg := testConfig()
	cfg.Categories = []string{"search"}
	m := newTestMonitor(t, cfg)

	track(t, m, 0.3, "")
	if n := len(m.Responses("search")); n != 1 {
		t.Errorf("Expected empty category to land in \"search\", got %d responses", n)
	}
}

func TestMonitor_InvalidResponseLeavesStateUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 2
	m := newTestMonitor(t, cfg)

	for _, bad := range []any{"slow", -1.0, math.NaN(), nil, -time.Second} {
		if _, err := m.TrackRequest(bad, ""); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("Expected ErrInvalidResponse for %v, got %v", bad, err)
		}
	}

	s, _ := m.Category("")
	if s.BurnInCount() != 0 || len(s.Responses()) != 0 {
		t.Errorf("Invalid responses mutated state: burn-in=%d responses=%d",
			s.BurnInCount(), len(s.Responses()))
	}
}

func TestMonitor_ZeroBurnIn(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 0
	cfg.SlowDownThresh = 1
	cfg.StartDelay = 3
	m := newTestMonitor(t, cfg)

	// The zero baseline makes any positive latency a violation.
	d := track(t, m, 0.5, "")
	if d != 3+cfg.Delays.Interval {
		t.Errorf("Expected immediate slow-down to %.1f, got %.1f", 3+cfg.Delays.Interval, d)
	}

	bmax, ok := m.BaselineMax("")
	if !ok || bmax != 0 {
		t.Errorf("Expected zero baseline, got %.3f (calibrated=%v)", bmax, ok)
	}
	AssertBaselineConsistent(t, m, "")
}

func TestMonitor_HandleTimer(t *testing.T) {
	var slept []time.Duration

	cfg := testConfig()
	cfg.BurnIn = 1
	cfg.HandleTimer = true
	cfg.Sleep = func(d time.Duration) { slept = append(slept, d) }
	cfg.StartDelay = 2
	m := newTestMonitor(t, cfg)

	track(t, m, 0.1, "")
	track(t, m, 0.1, "")

	want := []time.Duration{10 * time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("Expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("Sleep %d: expected %v, got %v", i, want[i], slept[i])
		}
	}
}

func TestMonitor_Seeds(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 3
	cfg.Seeds = map[string][]float64{"search": {1, 1}}
	m := newTestMonitor(t, cfg)

	s, ok := m.Category("search")
	if !ok || s.BurnInCount() != 2 {
		t.Fatalf("Expected seeded category with 2 burn-in samples")
	}

	track(t, m, 1.0, "search")
	if !s.Calibrated() {
		t.Errorf("Expected seeded category to calibrate on its third observation")
	}

	if _, err := m.TrackRequest(1.0, "other"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Seeds should close the category set, got %v", err)
	}
}

func TestMonitor_StartDelayClamped(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 1
	cfg.StartDelay = 100
	m := newTestMonitor(t, cfg)

	track(t, m, 1.0, "")
	if d := storedDelay(t, m, ""); d != cfg.Delays.Max {
		t.Errorf("Expected start delay clamped to %.0f, got %.0f", cfg.Delays.Max, d)
	}
}

func TestMonitor_Statistics(t *testing.T) {
	cfg := testConfig()
	cfg.BurnIn = 2
	m := newTestMonitor(t, cfg)

	for i := 0; i < 5; i++ {
		track(t, m, 0.5, "a")
	}
	track(t, m, 0.5, "b")

	stats := m.GetStatistics()
	for _, key := range []string{"categories", "category_count", "slow_downs", "speed_ups", "ceilings_reached"} {
		if _, exists := stats[key]; !exists {
			t.Errorf("Missing statistic: %s", key)
		}
	}

	cats := stats["categories"].(map[string]interface{})
	a := cats["a"].(map[string]interface{})
	if a["calibrated"] != true || a["responses"].(int) != 5 {
		t.Errorf("Unexpected stats for a: %v", a)
	}
	counts := a["delay_counts"].(map[float64]int)
	if counts[0] != 3 {
		t.Errorf("Expected 3 post burn-in delays of 0, got %v", counts)
	}
	b := cats["b"].(map[string]interface{})
	if b["calibrated"] != false {
		t.Errorf("Expected b uncalibrated, got %v", b)
	}
	if _, ok := b["baseline_max"]; ok {
		t.Errorf("Uncalibrated category must not report a baseline")
	}
}
