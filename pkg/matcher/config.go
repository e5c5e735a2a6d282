package matcher

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the matching tolerances. Everything here is deployment
// specific: agencies disagree wildly on how early a driver may sign into a
// block or how far off-route their GPS units drift, so none of these are
// hard coded.
type Config struct {
	// AllowableBeforeSeconds is how long before a block's start time the
	// block is already considered a candidate.
	AllowableBeforeSeconds int `yaml:"allowable_before_seconds"`

	// AllowableAfterStartSeconds cuts matching off this long after a block's
	// start instead of running to its end. Negative disables the cutoff.
	AllowableAfterStartSeconds int `yaml:"allowable_after_start_seconds"`

	// AllowableEarlyForLayoverSeconds widens a trip's window ahead of its
	// start for vehicles sat on layover.
	AllowableEarlyForLayoverSeconds int `yaml:"allowable_early_for_layover_seconds"`

	// AllowableLateSeconds widens a trip's window past its end.
	AllowableLateSeconds int `yaml:"allowable_late_seconds"`

	// MaxDistanceFromSegment rejects a spatial match entirely when the fix
	// is further than this many meters from every segment. A StopPath can
	// override it per route.
	MaxDistanceFromSegment float64 `yaml:"max_distance_from_segment"`

	// AtStopToleranceMeters classifies a match as "at stop" when it is
	// within this distance of the end of its stop path.
	AtStopToleranceMeters float64 `yaml:"at_stop_tolerance_meters"`

	// TieBreakEpsilonMeters treats two segment distances within this many
	// meters of each other as equal, in which case the segment earlier in
	// the trip wins so progress stays monotonic.
	TieBreakEpsilonMeters float64 `yaml:"tie_break_epsilon_meters"`

	// DelayedThresholdSeconds marks a vehicle as delayed once it is at
	// least this late.
	DelayedThresholdSeconds int `yaml:"delayed_threshold_seconds"`
}

func DefaultConfig() Config {
	return Config{
		AllowableBeforeSeconds:          900,
		AllowableAfterStartSeconds:      -1,
		AllowableEarlyForLayoverSeconds: 1200,
		AllowableLateSeconds:            5400,
		MaxDistanceFromSegment:          60,
		AtStopToleranceMeters:           25,
		TieBreakEpsilonMeters:           0.5,
		DelayedThresholdSeconds:         900,
	}
}

// LoadConfig reads tolerances from a yaml file, filling anything not set
// with the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read matcher config: %w", err)
	}

	if err := yaml.Unmarshal(file, &config); err != nil {
		return config, fmt.Errorf("parse matcher config: %w", err)
	}

	return config, nil
}
