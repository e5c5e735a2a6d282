package tracker

import (
	"sync"
	"time"

	"github.com/transitflow/transitflow/pkg/matcher"
)

// VehicleState is the per-vehicle mutable record. Exactly one instance
// exists per actively tracked vehicle; it is created on first valid
// assignment and only ever mutated under its own lock by the matching step,
// so fixes for one vehicle are strictly serialized while different vehicles
// proceed in parallel.
type VehicleState struct {
	mutex sync.Mutex

	VehicleID string
	BlockID   string
	ConfigRev int

	Predictable    bool
	AssignmentTime time.Time

	LastFixTime   time.Time
	LastMatch     *matcher.TemporalMatch
	LastMatchTime time.Time
}

// Snapshot returns a copy safe to hand to API callers while the matcher
// keeps mutating the original.
type VehicleStateSnapshot struct {
	VehicleID string `json:"vehicle_id"`
	BlockID   string `json:"block_id,omitempty"`
	ConfigRev int    `json:"config_rev"`

	Predictable    bool      `json:"predictable"`
	AssignmentTime time.Time `json:"assignment_time,omitempty"`

	LastFixTime time.Time              `json:"last_fix_time,omitempty"`
	LastMatch   *matcher.TemporalMatch `json:"last_match,omitempty"`
}

func (s *VehicleState) Snapshot() VehicleStateSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snapshot := VehicleStateSnapshot{
		VehicleID:      s.VehicleID,
		BlockID:        s.BlockID,
		ConfigRev:      s.ConfigRev,
		Predictable:    s.Predictable,
		AssignmentTime: s.AssignmentTime,
		LastFixTime:    s.LastFixTime,
	}

	if s.LastMatch != nil {
		match := *s.LastMatch
		snapshot.LastMatch = &match
	}

	return snapshot
}
