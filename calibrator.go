package sitepacer

// calibrator turns the first burnIn observations of a category into its
// baseline.
type calibrator struct {
	burnIn     int
	chokePoint float64
	startDelay float64
}

// begin prepares a fresh state. With burnIn == 0 there is nothing to learn
// from: the state is calibrated immediately with a zero baseline, so every
// observation is treated as past burn-in.
func (c calibrator) begin(s *CategoryState) bool {
	if c.burnIn > 0 {
		return false
	}
	s.phase = &calibrated{delay: c.startDelay}
	return true
}

// accumulate records a burn-in observation and reports whether it completed
// calibration. It must not be called on a calibrated state.
func (c calibrator) accumulate(s *CategoryState, value float64) bool {
	p, ok := s.phase.(uncalibrated)
	if !ok {
		return false
	}

	s.observations = append(s.observations, value)
	p.count++
	if p.count < c.burnIn {
		s.phase = p
		return false
	}

	window := s.observations[len(s.observations)-p.count:]
	avg := mean(window)
	std := sampleStdDev(window)
	s.phase = &calibrated{
		samples: p.count,
		baseline: Baseline{
			Avg: avg,
			Std: std,
			Max: avg + c.chokePoint*std,
		},
		delay: c.startDelay,
	}
	return true
}
