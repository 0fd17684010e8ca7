package sitepacer

import (
	"math"
	"testing"
)

// Tolerance for floating-point comparisons in the assertions below.
const Tolerance = 1e-9

// AssertDelayBounded verifies a calibrated category's stored delay lies in
// [delays.min, delays.max].
//
// Property:
//
//	min ≤ current_delay ≤ max, for any sequence of decisions
func AssertDelayBounded(t *testing.T, m *Monitor, category string) {
	t.Helper()

	s, ok := m.Category(category)
	if !ok {
		t.Fatalf("Unknown category %q", category)
	}
	delay, ok := s.CurrentDelay()
	if !ok {
		t.Fatalf("Category %q is not calibrated", s.Name())
	}

	d := m.cfg.Delays
	if delay < d.Min-Tolerance || delay > d.Max+Tolerance {
		t.Errorf("Delay out of bounds: %.6f not in [%.6f, %.6f] for %q",
			delay, d.Min, d.Max, s.Name())
	}
}

// AssertBaselineConsistent verifies the control limit of a calibrated
// category.
//
// Property:
//
//	baseline_max = baseline_avg + choke_point·baseline_std
func AssertBaselineConsistent(t *testing.T, m *Monitor, category string) {
	t.Helper()

	s, ok := m.Category(category)
	if !ok {
		t.Fatalf("Unknown category %q", category)
	}
	b, ok := s.Baseline()
	if !ok {
		t.Fatalf("Category %q is not calibrated", s.Name())
	}

	want := b.Avg + m.cfg.ChokePoint*b.Std
	if math.Abs(b.Max-want) > Tolerance {
		t.Errorf("Inconsistent baseline for %q: max=%.9f, avg+%.2f·std=%.9f",
			s.Name(), b.Max, m.cfg.ChokePoint, want)
	}
	if s.BurnInCount() != m.cfg.BurnIn {
		t.Errorf("Calibrated %q after %d samples, burn_in is %d",
			s.Name(), s.BurnInCount(), m.cfg.BurnIn)
	}
}

// AssertWithinJitter verifies a returned delay lies in the jitter interval
// around the stored delay.
func AssertWithinJitter(t *testing.T, got, stored, r float64) {
	t.Helper()

	lo := math.Max(stored-r, 0)
	hi := stored + r
	if got < lo-Tolerance || got > hi+Tolerance {
		t.Errorf("Jittered delay %.6f outside [%.6f, %.6f]", got, lo, hi)
	}
}

// AssertPacing runs all per-category assertions on every calibrated category.
func AssertPacing(t *testing.T, m *Monitor) {
	t.Helper()

	for _, s := range m.Categories() {
		if !s.Calibrated() {
			t.Logf("  %s: still in burn-in (%d/%d)", s.Name(), s.BurnInCount(), m.cfg.BurnIn)
			continue
		}
		name := s.Name()
		t.Run(name, func(t *testing.T) {
			AssertDelayBounded(t, m, name)
			AssertBaselineConsistent(t, m, name)
		})
	}
}
