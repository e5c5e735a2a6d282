package events

import (
	"math"
	"sync"
	"time"
)

// Headway measures the gap between the two most recent departures from the
// same stop on the same route, together with the rolling statistics of all
// headways seen at that stop so far.
type Headway struct {
	VehicleID         string `bson:"vehicleid"`
	PreviousVehicleID string `bson:"previousvehicleid"`
	StopID            string `bson:"stopid"`
	RouteID           string `bson:"routeid"`

	CreationTime   time.Time `bson:"creationtime"`
	HeadwaySeconds float64   `bson:"headwayseconds"`

	Average                float64 `bson:"average"`
	Variance               float64 `bson:"variance"`
	CoefficientOfVariation float64 `bson:"coefficientofvariation"`
	NumVehicles            int     `bson:"numvehicles"`
}

type HeadwayKey struct {
	VehicleID string
	UnixTime  int64
}

func (h *Headway) Key() HeadwayKey {
	return HeadwayKey{VehicleID: h.VehicleID, UnixTime: h.CreationTime.Unix()}
}

// stopHeadwayStats accumulates mean and variance incrementally (Welford) so
// recording a departure never has to walk historical records.
type stopHeadwayStats struct {
	lastDeparture time.Time
	lastVehicleID string

	count int
	mean  float64
	m2    float64
}

func (s *stopHeadwayStats) record(headwaySeconds float64) {
	s.count++
	delta := headwaySeconds - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (headwaySeconds - s.mean)
}

func (s *stopHeadwayStats) variance() float64 {
	if s.count < 2 {
		return 0
	}

	return s.m2 / float64(s.count-1)
}

// HeadwayRegistry tracks the most recent departure per (route, stop) across
// the whole active vehicle set.
type HeadwayRegistry struct {
	mutex sync.Mutex
	stops map[headwayStopKey]*stopHeadwayStats
}

type headwayStopKey struct {
	routeID string
	stopID  string
}

func NewHeadwayRegistry() *HeadwayRegistry {
	return &HeadwayRegistry{stops: map[headwayStopKey]*stopHeadwayStats{}}
}

// RecordDeparture notes a departure and, when an earlier vehicle has already
// departed the same stop, returns the resulting headway record. The first
// departure at a stop only seeds the state.
func (r *HeadwayRegistry) RecordDeparture(routeID string, stopID string, vehicleID string, departure time.Time) *Headway {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := headwayStopKey{routeID: routeID, stopID: stopID}

	stats := r.stops[key]
	if stats == nil {
		stats = &stopHeadwayStats{}
		r.stops[key] = stats
	}

	var headway *Headway

	if !stats.lastDeparture.IsZero() && stats.lastVehicleID != vehicleID {
		headwaySeconds := departure.Sub(stats.lastDeparture).Seconds()
		stats.record(headwaySeconds)

		variance := stats.variance()
		coefficient := 0.0
		if stats.mean > 0 {
			coefficient = math.Sqrt(variance) / stats.mean
		}

		headway = &Headway{
			VehicleID:         vehicleID,
			PreviousVehicleID: stats.lastVehicleID,
			StopID:            stopID,
			RouteID:           routeID,
			CreationTime:      departure,
			HeadwaySeconds:    headwaySeconds,

			Average:                stats.mean,
			Variance:               variance,
			CoefficientOfVariation: coefficient,
			NumVehicles:            stats.count + 1,
		}
	}

	stats.lastDeparture = departure
	stats.lastVehicleID = vehicleID

	return headway
}

// LastDeparture returns the most recent recorded departure at a stop.
func (r *HeadwayRegistry) LastDeparture(routeID string, stopID string) (string, time.Time, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats := r.stops[headwayStopKey{routeID: routeID, stopID: stopID}]
	if stats == nil || stats.lastDeparture.IsZero() {
		return "", time.Time{}, false
	}

	return stats.lastVehicleID, stats.lastDeparture, true
}
