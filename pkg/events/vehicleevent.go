package events

import "time"

// VehicleEventType classifies diagnostic vehicle state transitions.
type VehicleEventType string

const (
	VehicleEventAssigned      VehicleEventType = "Assigned"
	VehicleEventUnpredictable VehicleEventType = "Unpredictable"
	VehicleEventDelayed       VehicleEventType = "Delayed"
	VehicleEventNoMatch       VehicleEventType = "NoMatch"
	VehicleEventRejectedFix   VehicleEventType = "RejectedFix"
)

// VehicleEvent is a diagnostic record for operational tooling. It never
// feeds back into matching.
type VehicleEvent struct {
	VehicleID string           `json:"vehicle_id"`
	Type      VehicleEventType `json:"type"`
	Time      time.Time        `json:"time"`

	BlockID     string `json:"block_id,omitempty"`
	TripID      string `json:"trip_id,omitempty"`
	Description string `json:"description,omitempty"`
}
