package routeconfig

import (
	"crypto/sha256"
	"fmt"

	"github.com/transitflow/transitflow/pkg/geom"
)

// SecondsPerDay is a full service day. Trip times can legitimately fall
// outside [0, SecondsPerDay) to express trips that begin before or run past
// midnight.
const SecondsPerDay = 86400

// Stop is a physical stop referenced by stop paths.
type Stop struct {
	ID       string        `bson:"id"`
	Code     string        `bson:",omitempty"`
	Name     string        `bson:",omitempty"`
	Location geom.Location `bson:"location"`
}

// ScheduleTime carries the optional scheduled arrival and departure for one
// stop path, in seconds into the service day. A nil field means the schedule
// genuinely has no value there, which is distinct from zero. For used stops
// at least one of the two is set; typically the last stop of a trip carries
// only an arrival and every other stop only a departure.
type ScheduleTime struct {
	ArrivalSeconds   *int `bson:"arrivalseconds,omitempty"`
	DepartureSeconds *int `bson:"departureseconds,omitempty"`
}

// Best returns the departure time if present, otherwise the arrival time.
func (s ScheduleTime) Best() (int, bool) {
	if s.DepartureSeconds != nil {
		return *s.DepartureSeconds, true
	}
	if s.ArrivalSeconds != nil {
		return *s.ArrivalSeconds, true
	}

	return 0, false
}

// StopPath is the route geometry between the previous stop and StopID,
// expressed as an ordered list of segments. Each StopPath is owned by
// exactly one TripPattern.
type StopPath struct {
	StopID string `bson:"stopid"`

	Segments []geom.Vector `bson:"segments"`

	LayoverStop           bool `bson:",omitempty"`
	WaitStop              bool `bson:",omitempty"`
	ScheduleAdherenceStop bool `bson:",omitempty"`

	// MaxDistanceFromSegment overrides the matcher wide default when > 0.
	MaxDistanceFromSegment float64 `bson:",omitempty"`
}

// Length returns the total length of the path in meters.
func (sp *StopPath) Length() float64 {
	var total float64
	for _, segment := range sp.Segments {
		total += segment.Length()
	}

	return total
}

// TripPattern is the ordered sequence of stop paths shared by every trip
// that runs the same shape over the same stops.
type TripPattern struct {
	ID      string `bson:"id"`
	RouteID string `bson:"routeid"`
	ShapeID string `bson:"shapeid"`

	StopPaths []*StopPath `bson:"stoppaths"`

	Extent *geom.Extent `bson:"extent"`
}

// NewTripPattern builds a pattern and assigns it a functional hash identity
// so reprocessing the same upstream data always produces the same id.
func NewTripPattern(routeID string, shapeID string, stopPaths []*StopPath) *TripPattern {
	pattern := &TripPattern{
		RouteID:   routeID,
		ShapeID:   shapeID,
		StopPaths: stopPaths,
		Extent:    geom.NewExtent(),
	}

	hash := sha256.New()
	hash.Write([]byte(shapeID))
	for _, stopPath := range stopPaths {
		hash.Write([]byte(stopPath.StopID))

		for _, segment := range stopPath.Segments {
			pattern.Extent.ExtendLocation(segment.L1)
			pattern.Extent.ExtendLocation(segment.L2)
		}
	}
	pattern.ID = fmt.Sprintf("%x", hash.Sum(nil))

	return pattern
}

// Trip is one scheduled (or frequency based) run of a pattern within a
// block. StartTime and EndTime are seconds into the service day and may fall
// outside [0, 86400) for trips crossing midnight.
type Trip struct {
	ID        string `bson:"id"`
	ServiceID string `bson:"serviceid"`
	RouteID   string `bson:"routeid"`
	Headsign  string `bson:",omitempty"`

	Pattern *TripPattern `bson:"pattern"`

	StartTime int `bson:"starttime"`
	EndTime   int `bson:"endtime"`

	// ScheduleTimes has one entry per stop path. Empty for frequency based
	// trips.
	ScheduleTimes []ScheduleTime `bson:"scheduletimes,omitempty"`

	// FrequencyBased trips run on a headway instead of a timetable. When
	// ExactTimesHeadway is also set a synthetic schedule of
	// StartTime + n*HeadwaySeconds applies; otherwise no adherence is
	// defined for the trip at all.
	FrequencyBased    bool `bson:",omitempty"`
	ExactTimesHeadway bool `bson:",omitempty"`
	HeadwaySeconds    int  `bson:",omitempty"`
}

// ScheduleTimeAt returns the schedule time for the given stop path index.
// Indices are arithmetic on externally sourced schedules, so out of range is
// reported rather than allowed to panic.
func (t *Trip) ScheduleTimeAt(stopPathIndex int) (ScheduleTime, bool) {
	if stopPathIndex < 0 || stopPathIndex >= len(t.ScheduleTimes) {
		return ScheduleTime{}, false
	}

	return t.ScheduleTimes[stopPathIndex], true
}

// IsLastStopPath reports whether the index addresses the final stop path of
// the trip's pattern.
func (t *Trip) IsLastStopPath(stopPathIndex int) bool {
	if t.Pattern == nil {
		return false
	}

	return stopPathIndex == len(t.Pattern.StopPaths)-1
}

// Block is a vehicle's full day assignment: an ordered list of trips for one
// service id. Trips are contiguous in time, each effective start at or after
// the previous trip's end.
type Block struct {
	ID        string `bson:"id"`
	ServiceID string `bson:"serviceid"`
	ConfigRev int    `bson:"configrev"`

	Trips []*Trip `bson:"trips"`
}

// StartTime returns the block start in seconds into the service day, derived
// from its first trip.
func (b *Block) StartTime() (int, bool) {
	if len(b.Trips) == 0 {
		return 0, false
	}

	return b.Trips[0].StartTime, true
}

// EndTime returns the block end in seconds into the service day, derived
// from its last trip.
func (b *Block) EndTime() (int, bool) {
	if len(b.Trips) == 0 {
		return 0, false
	}

	return b.Trips[len(b.Trips)-1].EndTime, true
}

// Trip returns the trip at the given index within the block.
func (b *Block) Trip(index int) (*Trip, bool) {
	if index < 0 || index >= len(b.Trips) {
		return nil, false
	}

	return b.Trips[index], true
}
