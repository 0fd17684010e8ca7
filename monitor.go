package sitepacer

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"
)

// Monitor paces a request client from observed response latency.
//
// Control loop, per category:
//   - Burn-in: collect burn_in latencies, answer with the fixed burn-in delay
//   - Calibrate: baseline mean, standard deviation and control limit
//   - Monitor: compare the rolling mean with the control limit
//   - Adjust: hysteresis-gated steps of delays.interval within [min, max]
//
// Categories are fully independent: each has its own baseline, counters and
// delay. A Monitor is not safe for concurrent use; give each worker its own
// or guard TrackRequest with a lock.
type Monitor struct {
	cfg      Config
	registry *registry

	calibrator calibrator
	detector   detector
	controller *delayController

	sleep   func(time.Duration)
	logger  *slog.Logger
	metrics *Metrics

	// Operational counters
	slowDowns int
	speedUps  int
	ceilings  int
}

// New validates cfg and builds a monitor. Declared and seeded categories
// are created immediately and close the category set.
func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	src := cfg.Source
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}

	m := &Monitor{
		cfg: cfg,
		calibrator: calibrator{
			burnIn:     cfg.BurnIn,
			chokePoint: cfg.ChokePoint,
			startDelay: cfg.startDelay(),
		},
		detector: detector{
			slowDownThresh: cfg.SlowDownThresh,
			speedUpThresh:  cfg.SpeedUpThresh,
		},
		controller: &delayController{
			min:      cfg.Delays.Min,
			max:      cfg.Delays.Max,
			interval: cfg.Delays.Interval,
			jitter:   cfg.Rand,
			rng:      rand.New(src),
		},
		sleep:  sleep,
		logger: logger,
	}
	if cfg.Registerer != nil {
		metrics, err := NewMetrics(cfg.Registerer)
		if err != nil {
			return nil, fmt.Errorf("%w: register metrics: %v", ErrConfiguration, err)
		}
		m.metrics = metrics
	}
	m.registry = newRegistry(cfg.RollingMeanLength, m.initCategory)

	if cfg.StartDelay != m.calibrator.startDelay {
		logger.Warn("start delay clamped to delay bounds",
			"start_delay", cfg.StartDelay,
			"clamped", m.calibrator.startDelay)
	}

	for _, name := range cfg.Categories {
		m.registry.declare(name)
	}

	// Sorted so seeding is deterministic.
	seeded := make([]string, 0, len(cfg.Seeds))
	for name := range cfg.Seeds {
		seeded = append(seeded, name)
	}
	sort.Strings(seeded)
	for _, name := range seeded {
		s := m.registry.declare(name)
		seed := cfg.Seeds[name]
		if len(seed) > 0 {
			logger.Warn("category seeded with observations, this may influence the baseline",
				"category", name, "count", len(seed))
		}
		for _, v := range seed {
			m.burnIn(s, v)
		}
	}

	return m, nil
}

func (m *Monitor) initCategory(s *CategoryState) {
	m.logger.Debug("category created", "category", s.name)
	if m.calibrator.begin(s) {
		m.logger.Info("burn-in disabled, category calibrated with zero baseline",
			"category", s.name,
			"delay", m.calibrator.startDelay)
		m.metrics.calibrated(s.name, m.calibrator.startDelay)
	}
}

// TrackRequest records one completed request and returns the number of
// seconds to wait before the next request in the same category. When
// HandleTimer is set the wait has already happened on return.
//
// category may be empty, see DefaultCategory. Errors wrap ErrConfiguration
// (unknown category under a closed set) or ErrInvalidResponse.
func (m *Monitor) TrackRequest(response any, category string) (float64, error) {
	s, err := m.registry.resolve(category)
	if err != nil {
		return 0, err
	}

	elapsed, err := Extract(response)
	if err != nil {
		return 0, err
	}
	m.metrics.observe(s.name, elapsed)

	var delay float64
	if _, ok := s.phase.(uncalibrated); ok {
		delay = m.burnIn(s, elapsed)
	} else {
		delay = m.monitor(s, elapsed)
	}

	if m.cfg.HandleTimer {
		m.sleep(secondsToDuration(delay))
	}
	return delay, nil
}

// burnIn feeds the calibrator and returns the fixed burn-in delay.
func (m *Monitor) burnIn(s *CategoryState, elapsed float64) float64 {
	if m.calibrator.accumulate(s, elapsed) {
		b, _ := s.Baseline()
		m.logger.Info("burn-in complete",
			"category", s.name,
			"samples", s.BurnInCount(),
			"baseline_avg", b.Avg,
			"baseline_std", b.Std,
			"baseline_max", b.Max,
			"delay", m.calibrator.startDelay)
		m.metrics.calibrated(s.name, m.calibrator.startDelay)
	}
	return m.cfg.Delays.BurnIn
}

// monitor runs the detector and controller on a calibrated state.
func (m *Monitor) monitor(s *CategoryState, elapsed float64) float64 {
	cal := s.phase.(*calibrated)

	decision, rm := m.detector.evaluate(s, cal, elapsed)
	previous := cal.delay
	delay, ceiling := m.controller.adjust(cal, decision)
	s.delayCounts[delay]++
	m.metrics.decided(s.name, decision, delay)

	switch decision {
	case DecisionSlowDown:
		m.slowDowns++
		m.logger.Info("slowing down",
			"category", s.name,
			"rolling_mean", rm,
			"baseline_max", cal.baseline.Max,
			"from", previous,
			"to", delay)
		if ceiling {
			m.ceilings++
			m.logger.Warn("maximum delay reached, target still slower than baseline",
				"category", s.name,
				"rolling_mean", rm,
				"max_delay", m.controller.max,
				"at", time.Now().Format(time.RFC3339))
		}
	case DecisionSpeedUp:
		m.speedUps++
		if delay != previous {
			m.logger.Info("speeding up",
				"category", s.name,
				"rolling_mean", rm,
				"from", previous,
				"to", delay)
		}
	}

	return m.controller.apply(delay)
}

// Categories returns the category states in creation order.
func (m *Monitor) Categories() []*CategoryState {
	return m.registry.all()
}

// Category returns the state for id without creating it. An empty id
// resolves as in TrackRequest.
func (m *Monitor) Category(id string) (*CategoryState, bool) {
	return m.registry.lookup(id)
}

// BaselineAvg returns the baseline mean for a calibrated category.
func (m *Monitor) BaselineAvg(category string) (float64, bool) {
	b, ok := m.baseline(category)
	return b.Avg, ok
}

// BaselineStd returns the baseline standard deviation for a calibrated category.
func (m *Monitor) BaselineStd(category string) (float64, bool) {
	b, ok := m.baseline(category)
	return b.Std, ok
}

// BaselineMax returns the control limit for a calibrated category.
func (m *Monitor) BaselineMax(category string) (float64, bool) {
	b, ok := m.baseline(category)
	return b.Max, ok
}

// Responses returns the observation history of a category.
func (m *Monitor) Responses(category string) []float64 {
	s, ok := m.Category(category)
	if !ok {
		return nil
	}
	return s.Responses()
}

func (m *Monitor) baseline(category string) (Baseline, bool) {
	s, ok := m.Category(category)
	if !ok {
		return Baseline{}, false
	}
	return s.Baseline()
}

// GetStatistics returns monitor operational stats.
func (m *Monitor) GetStatistics() map[string]interface{} {
	categories := make(map[string]interface{}, len(m.registry.order))
	for _, s := range m.registry.all() {
		entry := map[string]interface{}{
			"calibrated":    s.Calibrated(),
			"burn_in_count": s.BurnInCount(),
			"responses":     len(s.observations),
			"delay_counts":  s.DelayCounts(),
		}
		if b, ok := s.Baseline(); ok {
			entry["baseline_avg"] = b.Avg
			entry["baseline_std"] = b.Std
			entry["baseline_max"] = b.Max
		}
		if d, ok := s.CurrentDelay(); ok {
			entry["current_delay"] = d
		}
		categories[s.name] = entry
	}

	return map[string]interface{}{
		"categories":       categories,
		"category_count":   len(m.registry.order),
		"slow_downs":       m.slowDowns,
		"speed_ups":        m.speedUps,
		"ceilings_reached": m.ceilings,
	}
}
