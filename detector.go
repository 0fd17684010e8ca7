package sitepacer

// Decision is the detector's verdict for one observation.
type Decision string

const (
	DecisionNone     Decision = "NONE"      // No hysteresis threshold reached
	DecisionSlowDown Decision = "SLOW_DOWN" // slow_down_thresh consecutive violations
	DecisionSpeedUp  Decision = "SPEED_UP"  // speed_up_thresh consecutive clean rounds
)

// detector compares the rolling mean against the baseline control limit and
// drives the hysteresis counters.
type detector struct {
	slowDownThresh int
	speedUpThresh  int
}

// evaluate records value and returns the decision for it, along with the
// rolling mean it was based on. The state must be calibrated.
//
// A rolling mean equal to the control limit is not a violation.
func (d detector) evaluate(s *CategoryState, cal *calibrated, value float64) (Decision, float64) {
	s.observations = append(s.observations, value)
	s.window.push(value)

	rm := s.window.mean()
	s.rollingMeans = append(s.rollingMeans, rm)

	if rm > cal.baseline.Max {
		s.slowCounter++
		s.fastCounter = 0
		if s.slowCounter >= d.slowDownThresh {
			s.slowCounter = 0
			return DecisionSlowDown, rm
		}
		return DecisionNone, rm
	}

	s.fastCounter++
	s.slowCounter = 0
	if s.fastCounter >= d.speedUpThresh {
		s.fastCounter = 0
		return DecisionSpeedUp, rm
	}
	return DecisionNone, rm
}
