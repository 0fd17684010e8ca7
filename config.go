package sitepacer

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// DefaultCategory is the category used for observations without one.
const DefaultCategory = "main"

// Delays holds the delay constants, in seconds.
type Delays struct {
	BurnIn   float64 `yaml:"burnin"`   // Returned while a category is still calibrating
	Min      float64 `yaml:"min"`      // Lower clamp for the adjusted delay
	Max      float64 `yaml:"max"`      // Upper clamp for the adjusted delay
	Interval float64 `yaml:"interval"` // Step applied on every slow-down or speed-up
}

// Config controls monitor construction.
type Config struct {
	// Categories declares a closed category set. Leave empty (and Seeds
	// empty) to accept any category on first sight.
	Categories []string `yaml:"categories,omitempty"`

	// Seeds pre-loads burn-in observations per category. Every seeded
	// category is implicitly declared.
	Seeds map[string][]float64 `yaml:"seeds,omitempty"`

	BurnIn            int      `yaml:"burn_in"`             // Observations used to establish the baseline
	ChokePoint        float64  `yaml:"choke_point"`         // Standard deviations above the mean counted as a violation
	SlowDownThresh    int      `yaml:"slow_down_thresh"`    // Consecutive violations before a slow-down
	SpeedUpThresh     int      `yaml:"speed_up_thresh"`     // Consecutive clean rounds before a speed-up
	Rand              *float64 `yaml:"rand,omitempty"`      // Jitter half-width in seconds, nil disables jitter
	StartDelay        float64  `yaml:"start_delay"`         // Delay once burn-in completes, clamped to [min, max]
	Delays            Delays   `yaml:"delays"`              // Delay constants
	HandleTimer       bool     `yaml:"handle_timer"`        // Sleep inside TrackRequest
	RollingMeanLength int      `yaml:"rolling_mean_length"` // Rolling window capacity

	Logger     *slog.Logger          `yaml:"-"` // Defaults to slog.Default()
	Sleep      func(time.Duration)   `yaml:"-"` // Defaults to time.Sleep
	Source     rand.Source           `yaml:"-"` // Jitter randomness, defaults to a time-seeded source
	Registerer prometheus.Registerer `yaml:"-"` // Metrics are disabled when nil
}

// DefaultConfig returns the stock tuning: 100 burn-in samples, a choke point
// of two standard deviations and 20-round hysteresis in both directions.
func DefaultConfig() Config {
	return Config{
		BurnIn:         100,
		ChokePoint:     2,
		SlowDownThresh: 20,
		SpeedUpThresh:  20,
		StartDelay:     0,
		Delays: Delays{
			BurnIn:   10,
			Min:      0,
			Max:      30,
			Interval: 5,
		},
		HandleTimer:       true,
		RollingMeanLength: 25,
	}
}

// ParseConfig decodes YAML over DefaultConfig, so omitted keys keep their
// defaults. The result is validated.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode yaml: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate checks every parameter and parameter combination.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if c.BurnIn < 0 {
		return invalid("burn_in must be non-negative, got %d", c.BurnIn)
	}
	if !finite(c.ChokePoint) || c.ChokePoint <= 0 {
		return invalid("choke_point must be positive, got %v", c.ChokePoint)
	}
	if c.SlowDownThresh <= 0 {
		return invalid("slow_down_thresh must be positive, got %d", c.SlowDownThresh)
	}
	if c.SpeedUpThresh <= 0 {
		return invalid("speed_up_thresh must be positive, got %d", c.SpeedUpThresh)
	}
	if c.Rand != nil && (!finite(*c.Rand) || *c.Rand < 0) {
		return invalid("rand must be non-negative, got %v", *c.Rand)
	}
	if !finite(c.StartDelay) || c.StartDelay < 0 {
		return invalid("start_delay must be non-negative, got %v", c.StartDelay)
	}
	if c.RollingMeanLength <= 0 {
		return invalid("rolling_mean_length must be positive, got %d", c.RollingMeanLength)
	}

	d := c.Delays
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"burnin", d.BurnIn},
		{"min", d.Min},
		{"max", d.Max},
		{"interval", d.Interval},
	} {
		if !finite(f.value) || f.value < 0 {
			return invalid("delays.%s must be non-negative, got %v", f.name, f.value)
		}
	}
	if d.Min > d.Max {
		return invalid("delays.min (%v) exceeds delays.max (%v)", d.Min, d.Max)
	}

	seen := make(map[string]bool, len(c.Categories))
	for _, name := range c.Categories {
		if name == "" {
			return invalid("category names must be non-empty")
		}
		if seen[name] {
			return invalid("duplicate category %q", name)
		}
		seen[name] = true
	}
	for name, seed := range c.Seeds {
		if name == "" {
			return invalid("seeded category names must be non-empty")
		}
		if len(seed) > c.BurnIn {
			return invalid("category %q has %d seed observations, burn_in is %d", name, len(seed), c.BurnIn)
		}
		for _, v := range seed {
			if !finite(v) || v < 0 {
				return invalid("category %q has invalid seed observation %v", name, v)
			}
		}
	}

	return nil
}

// startDelay is the configured start delay clamped into [min, max].
func (c Config) startDelay() float64 {
	return math.Min(math.Max(c.StartDelay, c.Delays.Min), c.Delays.Max)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
