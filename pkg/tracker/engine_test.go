package tracker

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitflow/transitflow/pkg/configcache"
	"github.com/transitflow/transitflow/pkg/events"
	"github.com/transitflow/transitflow/pkg/geom"
	"github.com/transitflow/transitflow/pkg/matcher"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

const baseLat = 45.0
const baseLon = -122.0

func locAt(northMeters float64, eastMeters float64) geom.Location {
	lonScale := geom.MetersPerDegree * math.Cos(baseLat*math.Pi/180)

	return geom.Location{
		Latitude:  baseLat + northMeters/geom.MetersPerDegree,
		Longitude: baseLon + eastMeters/lonScale,
	}
}

func intPtr(v int) *int {
	return &v
}

// testBlockSource serves two in-memory blocks sharing the same due-east
// geometry with stops at 160m and 260m: a daytime trip from 08:00 to 09:00
// and a trip straddling midnight, defined from 15 minutes before its service
// day starts to 10 minutes after.
type testBlockSource struct{}

func eastboundPattern(shapeID string) *routeconfig.TripPattern {
	return routeconfig.NewTripPattern("route-9", shapeID, []*routeconfig.StopPath{
		{
			StopID: "stop-a",
			Segments: []geom.Vector{
				geom.NewVector(locAt(0, 0), locAt(0, 80)),
				geom.NewVector(locAt(0, 80), locAt(0, 160)),
			},
		},
		{
			StopID:   "stop-b",
			Segments: []geom.Vector{geom.NewVector(locAt(0, 160), locAt(0, 260))},
		},
	})
}

func (s *testBlockSource) LoadBlocks(ctx context.Context, configRev int) ([]*routeconfig.Block, error) {
	return []*routeconfig.Block{
		{
			ID:        "block-1",
			ServiceID: "weekday",
			ConfigRev: configRev,
			Trips: []*routeconfig.Trip{
				{
					ID:        "trip-1",
					RouteID:   "route-9",
					Pattern:   eastboundPattern("shape-1"),
					StartTime: 8 * 3600,
					EndTime:   9 * 3600,
					ScheduleTimes: []routeconfig.ScheduleTime{
						{DepartureSeconds: intPtr(8*3600 + 2100)},
						{ArrivalSeconds: intPtr(9 * 3600)},
					},
				},
			},
		},
		{
			ID:        "block-night",
			ServiceID: "weekday",
			ConfigRev: configRev,
			Trips: []*routeconfig.Trip{
				{
					ID:        "trip-night",
					RouteID:   "route-9",
					Pattern:   eastboundPattern("shape-night"),
					StartTime: -900,
					EndTime:   600,
					ScheduleTimes: []routeconfig.ScheduleTime{
						{DepartureSeconds: intPtr(-300)},
						{ArrivalSeconds: intPtr(600)},
					},
				},
			},
		},
	}, nil
}

func (s *testBlockSource) Reconnect(ctx context.Context) error {
	return nil
}

type alwaysValidCalendar struct{}

func (alwaysValidCalendar) IsServiceValid(serviceID string, date time.Time) bool {
	return true
}

// memorySink records everything the engine publishes.
type memorySink struct {
	mutex sync.Mutex

	generated     []events.Generated
	vehicleEvents []events.VehicleEvent
}

func (s *memorySink) PublishGenerated(ctx context.Context, generated events.Generated) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.generated = append(s.generated, generated)
}

func (s *memorySink) PublishVehicleEvent(ctx context.Context, event events.VehicleEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.vehicleEvents = append(s.vehicleEvents, event)
}

func (s *memorySink) eventTypes() []events.VehicleEventType {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var types []events.VehicleEventType
	for _, event := range s.vehicleEvents {
		types = append(types, event.Type)
	}

	return types
}

var engineNow = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

func newTestEngine(sink *memorySink) *Engine {
	return NewEngine(
		matcher.DefaultConfig(),
		configcache.New(&testBlockSource{}),
		alwaysValidCalendar{},
		sink,
	).WithClock(func() time.Time { return engineNow })
}

func report(vehicleID string, at time.Time, loc geom.Location, blockID string) AvlReport {
	return AvlReport{
		VehicleID: vehicleID,
		Time:      at,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		BlockID:   blockID,
		Source:    "test",
	}
}

func TestEngineMatch(t *testing.T) {
	sink := &memorySink{}
	engine := newTestEngine(sink)

	result, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(5, 100), "block-1"))
	require.NoError(t, err)

	assert.Equal(t, "vehicle-1", result.VehicleID)
	assert.Equal(t, "block-1", result.BlockID)
	assert.Equal(t, "trip-1", result.Match.TripID)
	assert.Equal(t, 0, result.Match.StopPathIndex)
	assert.InDelta(t, 100, result.Match.DistanceAlongStopPath, 0.5)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), result.ServiceDay)

	require.NotNil(t, result.Match.AdherenceSeconds)
	assert.Equal(t, 300, *result.Match.AdherenceSeconds, "five minutes ahead of the scheduled departure")

	state, found := engine.VehicleState("vehicle-1")
	require.True(t, found)
	assert.True(t, state.Predictable)
	assert.Equal(t, "block-1", state.BlockID)
	assert.Equal(t, engineNow, state.AssignmentTime)

	assert.Equal(t, []events.VehicleEventType{events.VehicleEventAssigned}, sink.eventTypes())
}

func TestEngineRejectsOutOfOrderFix(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	_, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 100), "block-1"))
	require.NoError(t, err)

	_, err = engine.Match(context.Background(), report("vehicle-1", engineNow.Add(-time.Second), locAt(0, 110), "block-1"))
	assert.ErrorIs(t, err, ErrFixOutOfOrder)

	_, err = engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 110), "block-1"))
	assert.ErrorIs(t, err, ErrFixOutOfOrder, "equal timestamps are also rejected")
}

func TestEngineRejectsInvalidFix(t *testing.T) {
	sink := &memorySink{}
	engine := newTestEngine(sink)

	// Null island.
	_, err := engine.Match(context.Background(), AvlReport{VehicleID: "vehicle-1", Time: engineNow, Source: "test"})
	require.Error(t, err)

	assert.Equal(t, []events.VehicleEventType{events.VehicleEventRejectedFix}, sink.eventTypes())

	_, found := engine.VehicleState("vehicle-1")
	assert.False(t, found, "rejected fixes never create state")
}

func TestEngineNoBlockAssignment(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	_, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 100), ""))
	assert.ErrorIs(t, err, ErrNoBlockAssignment)
}

func TestEngineAssignmentSticks(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	_, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 100), "block-1"))
	require.NoError(t, err)

	// Later fixes without an explicit assignment reuse the vehicle's.
	result, err := engine.Match(context.Background(), report("vehicle-1", engineNow.Add(30*time.Second), locAt(0, 120), ""))
	require.NoError(t, err)
	assert.Equal(t, "block-1", result.BlockID)
}

func TestEngineNoActiveTrips(t *testing.T) {
	sink := &memorySink{}
	engine := newTestEngine(sink)

	// 04:00 is hours outside the block's window at every day offset.
	early := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	_, err := engine.Match(context.Background(), report("vehicle-1", early, locAt(0, 100), "block-1"))

	assert.ErrorIs(t, err, ErrNoActiveTrips)
	assert.Equal(t, []events.VehicleEventType{events.VehicleEventUnpredictable}, sink.eventTypes())
}

func TestEngineNoSpatialMatchKeepsAssignment(t *testing.T) {
	sink := &memorySink{}
	engine := newTestEngine(sink)

	_, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 100), "block-1"))
	require.NoError(t, err)

	// Way off route: the vehicle goes unpredictable but keeps its block.
	_, err = engine.Match(context.Background(), report("vehicle-1", engineNow.Add(time.Minute), locAt(5000, 5000), ""))
	assert.ErrorIs(t, err, ErrNoSpatialMatch)

	state, found := engine.VehicleState("vehicle-1")
	require.True(t, found)
	assert.False(t, state.Predictable)
	assert.Equal(t, "block-1", state.BlockID)

	// Back on route it picks the block straight back up.
	result, err := engine.Match(context.Background(), report("vehicle-1", engineNow.Add(2*time.Minute), locAt(0, 130), ""))
	require.NoError(t, err)
	assert.Equal(t, "block-1", result.BlockID)

	types := sink.eventTypes()
	assert.Contains(t, types, events.VehicleEventNoMatch)
	assert.Equal(t, events.VehicleEventAssigned, types[len(types)-1], "re-match republishes the assignment")
}

func TestEngineGeneratesEventsAcrossFixes(t *testing.T) {
	sink := &memorySink{}
	engine := newTestEngine(sink)

	// Approach stop-a, then be at it, then pull away.
	_, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 100), "block-1"))
	require.NoError(t, err)

	atStop, err := engine.Match(context.Background(), report("vehicle-1", engineNow.Add(time.Minute), locAt(0, 150), ""))
	require.NoError(t, err)
	require.True(t, atStop.Match.AtStop)
	require.Len(t, atStop.Events.ArrivalDepartures, 1)
	assert.True(t, atStop.Events.ArrivalDepartures[0].IsArrival)
	assert.Equal(t, "stop-a", atStop.Events.ArrivalDepartures[0].StopID)

	departed, err := engine.Match(context.Background(), report("vehicle-1", engineNow.Add(2*time.Minute), locAt(0, 200), ""))
	require.NoError(t, err)
	require.Len(t, departed.Events.ArrivalDepartures, 1)
	assert.False(t, departed.Events.ArrivalDepartures[0].IsArrival)
	assert.Equal(t, "stop-a", departed.Events.ArrivalDepartures[0].StopID)
	// The departure is interpolated halfway across the gap between the two
	// fixes, so the dwell runs from the arrival to that midpoint.
	require.NotNil(t, departed.Events.ArrivalDepartures[0].DwellTime)
	assert.Equal(t, 30*time.Second, *departed.Events.ArrivalDepartures[0].DwellTime)

	// The sink saw both batches.
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	assert.Len(t, sink.generated, 2)
}

func TestEngineActiveTrips(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	trips, err := engine.ActiveTrips(context.Background(), 0, "block-1", engineNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"trip-1"}, trips)

	_, err = engine.ActiveTrips(context.Background(), 0, "no-such-block", engineNow)
	assert.ErrorIs(t, err, configcache.ErrBlockNotFound)
}

func TestEngineServiceDayAnchoring(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	day := func(d int) time.Time {
		return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
	}

	daytime := &routeconfig.Trip{StartTime: 8 * 3600, EndTime: 9 * 3600}
	assert.Equal(t, day(10), engine.serviceDayFor(daytime, engineNow))

	// Defined past 24:00 and matched just after midnight: the fix belongs
	// to yesterday's service day.
	owl := &routeconfig.Trip{StartTime: 24*3600 + 300, EndTime: 25 * 3600}
	assert.Equal(t, day(9), engine.serviceDayFor(owl, time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)))

	// Defined before 00:00 and matched just before midnight: the fix
	// belongs to tomorrow's service day, never yesterday's.
	predawn := &routeconfig.Trip{StartTime: -900, EndTime: 600}
	assert.Equal(t, day(11), engine.serviceDayFor(predawn, time.Date(2026, 3, 10, 23, 55, 0, 0, time.UTC)))
}

func TestEngineMatchesTripStraddlingMidnight(t *testing.T) {
	nightNow := time.Date(2026, 3, 10, 23, 55, 0, 0, time.UTC)
	engine := NewEngine(
		matcher.DefaultConfig(),
		configcache.New(&testBlockSource{}),
		alwaysValidCalendar{},
		&memorySink{},
	).WithClock(func() time.Time { return nightNow })

	result, err := engine.Match(context.Background(), report("vehicle-9", nightNow, locAt(0, 100), "block-night"))
	require.NoError(t, err)

	assert.Equal(t, "trip-night", result.Match.TripID)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), result.ServiceDay,
		"a pre-midnight fix on a pre-midnight trip anchors to tomorrow")

	// The scheduled departure at -300 is 23:55, so the vehicle is on time.
	require.NotNil(t, result.Match.AdherenceSeconds)
	assert.Equal(t, 0, *result.Match.AdherenceSeconds)
}

func TestEngineMatchConsultsPatternIndex(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	_, err := engine.Match(context.Background(), report("vehicle-1", engineNow, locAt(0, 100), "block-1"))
	require.NoError(t, err)

	engine.indexMutex.Lock()
	built := engine.patternIndexes[0]
	engine.indexMutex.Unlock()

	require.NotNil(t, built, "matching builds the revision's pattern pre-filter")
	assert.NotEmpty(t, built.PatternIDsNear(locAt(0, 100), 100))
}

func TestEnginePatternIndex(t *testing.T) {
	engine := newTestEngine(&memorySink{})

	index, err := engine.PatternIndex(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, index.PatternIDsNear(locAt(0, 100), 100))

	// Same revision returns the already built index.
	again, err := engine.PatternIndex(context.Background(), 0)
	require.NoError(t, err)
	assert.Same(t, index, again)
}
