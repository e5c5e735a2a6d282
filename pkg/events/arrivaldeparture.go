package events

import (
	"time"

	"github.com/jinzhu/copier"
)

// ArrivalDeparture is a write-once record of a vehicle arriving at or
// departing from a stop. ScheduledTime is only set when adherence is
// derivable for the stop (see Generator.attachScheduleTime); DwellTime is
// only ever carried on departures.
type ArrivalDeparture struct {
	VehicleID string `bson:"vehicleid"`
	BlockID   string `bson:"blockid"`
	TripID    string `bson:"tripid"`
	RouteID   string `bson:"routeid"`
	StopID    string `bson:"stopid"`

	StopPathIndex int  `bson:"stoppathindex"`
	IsArrival     bool `bson:"isarrival"`

	Time          time.Time      `bson:"time"`
	ScheduledTime *time.Time     `bson:"scheduledtime,omitempty"`
	DwellTime     *time.Duration `bson:"dwelltime,omitempty"`
}

// ArrivalDepartureKey is the record's identity. Two events are the same
// event exactly when all four parts agree.
type ArrivalDepartureKey struct {
	VehicleID string
	StopID    string
	UnixTime  int64
	IsArrival bool
}

func (ad *ArrivalDeparture) Key() ArrivalDepartureKey {
	return ArrivalDepartureKey{
		VehicleID: ad.VehicleID,
		StopID:    ad.StopID,
		UnixTime:  ad.Time.Unix(),
		IsArrival: ad.IsArrival,
	}
}

// AdherenceSeconds returns scheduled minus actual in seconds (positive is
// early) when a schedule time is attached.
func (ad *ArrivalDeparture) AdherenceSeconds() (int, bool) {
	if ad.ScheduledTime == nil {
		return 0, false
	}

	return int(ad.ScheduledTime.Sub(ad.Time).Seconds()), true
}

// WithUpdatedTime returns a copy of the record identical in every field
// except the event time.
func (ad *ArrivalDeparture) WithUpdatedTime(t time.Time) *ArrivalDeparture {
	updated := &ArrivalDeparture{}
	copier.Copy(updated, ad)
	updated.Time = t

	return updated
}
