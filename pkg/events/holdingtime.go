package events

import "time"

// HoldingTime is a recommendation for how long a vehicle should hold at a
// stop before departing. It is a pure decision record; acting on it is the
// dispatcher's business, not this engine's.
type HoldingTime struct {
	VehicleID string `bson:"vehicleid"`
	StopID    string `bson:"stopid"`
	TripID    string `bson:"tripid"`

	CreationTime time.Time `bson:"creationtime"`
	ArrivalTime  time.Time `bson:"arrivaltime"`
	HoldingTime  time.Time `bson:"holdingtime"`
}

type HoldingTimeKey struct {
	VehicleID string
	UnixTime  int64
}

func (h *HoldingTime) Key() HoldingTimeKey {
	return HoldingTimeKey{VehicleID: h.VehicleID, UnixTime: h.CreationTime.Unix()}
}

// LeaveStop reports whether the vehicle is clear to depart at currentTime.
func (h *HoldingTime) LeaveStop(currentTime time.Time) bool {
	return !currentTime.Before(h.HoldingTime)
}

// TimeToLeave returns when the vehicle should depart: the holding time, or
// currentTime if the hold has already expired.
func (h *HoldingTime) TimeToLeave(currentTime time.Time) time.Time {
	if currentTime.After(h.HoldingTime) {
		return currentTime
	}

	return h.HoldingTime
}
