package sitepacer

import "fmt"

// Baseline is the latency profile established during burn-in.
type Baseline struct {
	Avg float64 // Mean of the burn-in window
	Std float64 // Sample standard deviation of the burn-in window
	Max float64 // Control limit: Avg + choke_point*Std
}

// phase is either uncalibrated or *calibrated. A category moves from the
// first to the second exactly once.
type phase interface {
	isPhase()
}

type uncalibrated struct {
	count int
}

type calibrated struct {
	samples  int
	baseline Baseline
	delay    float64
}

func (uncalibrated) isPhase() {}
func (*calibrated) isPhase()  {}

// rollingWindow is a fixed-capacity FIFO of the most recent observations.
type rollingWindow struct {
	values []float64
	next   int
	full   bool
}

func newRollingWindow(capacity int) *rollingWindow {
	return &rollingWindow{values: make([]float64, 0, capacity)}
}

func (w *rollingWindow) push(v float64) {
	if !w.full {
		w.values = append(w.values, v)
		w.full = len(w.values) == cap(w.values)
		return
	}
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
}

func (w *rollingWindow) len() int {
	return len(w.values)
}

func (w *rollingWindow) mean() float64 {
	return mean(w.values)
}

// CategoryState is the per-category record. It is only mutated through the
// monitor that owns it.
type CategoryState struct {
	name string

	observations []float64
	rollingMeans []float64
	window       *rollingWindow

	phase phase

	slowCounter int
	fastCounter int

	delayCounts map[float64]int
}

func newCategoryState(name string, windowLength int) *CategoryState {
	return &CategoryState{
		name:        name,
		window:      newRollingWindow(windowLength),
		phase:       uncalibrated{},
		delayCounts: make(map[float64]int),
	}
}

// Name returns the category identifier.
func (s *CategoryState) Name() string { return s.name }

// Calibrated reports whether burn-in has completed.
func (s *CategoryState) Calibrated() bool {
	_, ok := s.phase.(*calibrated)
	return ok
}

// Baseline returns the baseline and true once calibrated.
func (s *CategoryState) Baseline() (Baseline, bool) {
	if c, ok := s.phase.(*calibrated); ok {
		return c.baseline, true
	}
	return Baseline{}, false
}

// CurrentDelay returns the stored (un-jittered) delay and true once calibrated.
func (s *CategoryState) CurrentDelay() (float64, bool) {
	if c, ok := s.phase.(*calibrated); ok {
		return c.delay, true
	}
	return 0, false
}

// BurnInCount returns how many observations were consumed by calibration.
func (s *CategoryState) BurnInCount() int {
	switch p := s.phase.(type) {
	case uncalibrated:
		return p.count
	case *calibrated:
		return p.samples
	}
	return 0
}

// Responses returns a copy of the full observation history.
func (s *CategoryState) Responses() []float64 {
	return append([]float64(nil), s.observations...)
}

// RollingMeans returns a copy of every rolling mean computed after burn-in.
func (s *CategoryState) RollingMeans() []float64 {
	return append([]float64(nil), s.rollingMeans...)
}

// Counters returns the slow-down and speed-up hysteresis counters.
func (s *CategoryState) Counters() (slow, fast int) {
	return s.slowCounter, s.fastCounter
}

// WindowLen returns the number of entries in the rolling window.
func (s *CategoryState) WindowLen() int {
	return s.window.len()
}

// DelayCounts returns how often each controller delay was produced.
func (s *CategoryState) DelayCounts() map[float64]int {
	out := make(map[float64]int, len(s.delayCounts))
	for k, v := range s.delayCounts {
		out[k] = v
	}
	return out
}

// registry maps category identifiers to their states.
type registry struct {
	states map[string]*CategoryState
	order  []string
	closed bool

	windowLength int
	onCreate     func(*CategoryState)
}

func newRegistry(windowLength int, onCreate func(*CategoryState)) *registry {
	return &registry{
		states:       make(map[string]*CategoryState),
		windowLength: windowLength,
		onCreate:     onCreate,
	}
}

// declare creates a state eagerly and closes the registry.
func (r *registry) declare(name string) *CategoryState {
	r.closed = true
	if s, ok := r.states[name]; ok {
		return s
	}
	return r.create(name)
}

func (r *registry) create(name string) *CategoryState {
	s := newCategoryState(name, r.windowLength)
	r.states[name] = s
	r.order = append(r.order, name)
	if r.onCreate != nil {
		r.onCreate(s)
	}
	return s
}

// resolve returns the state for id, creating it when the registry is open.
// An empty id maps to the only declared category, or DefaultCategory.
func (r *registry) resolve(id string) (*CategoryState, error) {
	id = r.key(id)
	if s, ok := r.states[id]; ok {
		return s, nil
	}
	if r.closed {
		return nil, fmt.Errorf("%w: %q is not a valid category for this monitor", ErrConfiguration, id)
	}
	return r.create(id), nil
}

func (r *registry) key(id string) string {
	if id != "" {
		return id
	}
	if r.closed && len(r.order) == 1 {
		return r.order[0]
	}
	return DefaultCategory
}

func (r *registry) lookup(id string) (*CategoryState, bool) {
	s, ok := r.states[r.key(id)]
	return s, ok
}

func (r *registry) all() []*CategoryState {
	out := make([]*CategoryState, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.states[name])
	}
	return out
}
