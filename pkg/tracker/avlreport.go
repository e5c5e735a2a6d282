package tracker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/transitflow/transitflow/pkg/geom"
)

var validate = validator.New()

// Maximum plausible ground speed for a transit vehicle, meters per second.
// Anything above this is a GPS glitch, not a bus.
const maxPlausibleSpeed = 55.0

// AvlReport is a single GPS fix from a vehicle as it arrives off the queue.
// Times must be strictly increasing per vehicle; the engine rejects
// out-of-order fixes rather than reordering them.
type AvlReport struct {
	VehicleID string    `json:"vehicle_id" validate:"required"`
	Time      time.Time `json:"time" validate:"required"`

	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`

	Speed   *float64 `json:"speed,omitempty" validate:"omitempty,min=0"`
	Heading *float64 `json:"heading,omitempty" validate:"omitempty,min=0,lt=360"`

	// BlockID is the feed-supplied assignment, when the feed has one.
	BlockID   string `json:"block_id,omitempty"`
	ConfigRev int    `json:"config_rev"`

	Source string `json:"source,omitempty"`
}

func (r AvlReport) Location() geom.Location {
	return geom.NewLocation(r.Latitude, r.Longitude)
}

func (r AvlReport) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// Validate rejects fixes that should never reach the matcher: malformed
// fields, null island coordinates, implausible speeds, and timestamps from
// the future or the distant past. Rejection reasons feed the diagnostics
// channel, so they are error values rather than booleans.
func (r AvlReport) Validate(now time.Time) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid avl report: %w", err)
	}

	if !r.Location().Valid() {
		return fmt.Errorf("invalid avl report: coordinates %s", r.Location())
	}

	if r.Speed != nil && *r.Speed > maxPlausibleSpeed {
		return fmt.Errorf("invalid avl report: speed %.1f m/s out of range", *r.Speed)
	}

	if r.Time.After(now.Add(5 * time.Minute)) {
		return fmt.Errorf("invalid avl report: timestamp %s in the future", r.Time)
	}

	if r.Time.Before(now.Add(-24 * time.Hour)) {
		return fmt.Errorf("invalid avl report: timestamp %s too old", r.Time)
	}

	return nil
}
