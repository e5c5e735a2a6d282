package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/configcache"
	"github.com/transitflow/transitflow/pkg/events"
	"github.com/transitflow/transitflow/pkg/matcher"
	"github.com/transitflow/transitflow/pkg/routeconfig"
	"github.com/transitflow/transitflow/pkg/util"
)

// No-match outcomes are ordinary results, not failures: the caller decides
// whether the vehicle goes unpredictable.
var (
	ErrFixOutOfOrder     = errors.New("avl fix out of order for vehicle")
	ErrNoBlockAssignment = errors.New("no block assignment for vehicle")
	ErrNoActiveTrips     = errors.New("no trips active for block at fix time")
	ErrNoSpatialMatch    = errors.New("no segment within allowable distance")
)

// MatchResult is a successful match of one AVL fix.
type MatchResult struct {
	VehicleID string
	BlockID   string

	Match  matcher.TemporalMatch
	Events events.Generated

	ServiceDay time.Time
}

// Engine matches AVL fixes against route configuration and derives events.
// Every collaborator is injected: the config cache, the service calendar
// and the clock all arrive through the constructor so nothing reaches for
// global state mid-match.
type Engine struct {
	config matcher.Config

	cache    *configcache.Cache
	calendar routeconfig.ServiceCalendar

	spatial   *matcher.SpatialMatcher
	temporal  *matcher.TemporalMatcher
	generator *events.Generator
	headways  *events.HeadwayRegistry

	sinks []EventSink
	now   func() time.Time

	assignments *AssignmentCache

	indexMutex     sync.Mutex
	patternIndexes map[int]*matcher.PatternIndex

	statesMutex sync.RWMutex
	states      map[string]*VehicleState
}

func NewEngine(config matcher.Config, cache *configcache.Cache, calendar routeconfig.ServiceCalendar, sinks ...EventSink) *Engine {
	headways := events.NewHeadwayRegistry()

	return &Engine{
		config: config,

		cache:    cache,
		calendar: calendar,

		spatial:   matcher.NewSpatialMatcher(config),
		temporal:  matcher.NewTemporalMatcher(config),
		generator: events.NewGenerator(headways),
		headways:  headways,

		sinks: sinks,
		now:   time.Now,

		patternIndexes: map[int]*matcher.PatternIndex{},
		states:         map[string]*VehicleState{},
	}
}

// WithClock swaps the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithAssignmentCache attaches the redis-backed assignment cache so a
// restarted engine can resume vehicle assignments.
func (e *Engine) WithAssignmentCache(assignments *AssignmentCache) *Engine {
	e.assignments = assignments
	return e
}

// Match runs the full pipeline for one fix: validate, gate by activity
// window, spatial match, temporal match, event generation. Per-vehicle
// calls are serialized on the vehicle's state lock; different vehicles run
// fully in parallel against the immutable config snapshot.
func (e *Engine) Match(ctx context.Context, report AvlReport) (*MatchResult, error) {
	if err := report.Validate(e.now()); err != nil {
		e.publishVehicleEvent(ctx, events.VehicleEvent{
			VehicleID:   report.VehicleID,
			Type:        events.VehicleEventRejectedFix,
			Time:        report.Time,
			Description: err.Error(),
		})

		return nil, err
	}

	state := e.stateFor(report.VehicleID)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	if !state.LastFixTime.IsZero() && !report.Time.After(state.LastFixTime) {
		return nil, fmt.Errorf("%w: %s at %s", ErrFixOutOfOrder, report.VehicleID, report.Time)
	}
	state.LastFixTime = report.Time

	blockID, err := e.resolveBlockID(ctx, state, report)
	if err != nil {
		e.markUnpredictable(ctx, state, report, err)
		return nil, err
	}

	block, err := e.cache.Block(ctx, report.ConfigRev, blockID)
	if err != nil {
		// The revision may just be temporarily unavailable; the vehicle
		// keeps its assignment and the next fix tries again.
		return nil, err
	}

	candidates := block.TripsCurrentlyActive(report.Time, e.config.AllowableEarlyForLayoverSeconds, e.config.AllowableLateSeconds, e.calendar)
	if len(candidates) == 0 {
		e.markUnpredictable(ctx, state, report, ErrNoActiveTrips)
		return nil, fmt.Errorf("%w: block %s", ErrNoActiveTrips, blockID)
	}

	candidates = e.filterByPatternIndex(ctx, report, block, candidates)

	spatialMatch, ok := e.spatial.Match(block, candidates, report.Location())
	if !ok {
		e.markUnpredictable(ctx, state, report, ErrNoSpatialMatch)
		return nil, fmt.Errorf("%w: block %s", ErrNoSpatialMatch, blockID)
	}

	trip, _ := block.Trip(spatialMatch.TripIndex)
	temporalMatch := e.temporal.Match(trip, spatialMatch, report.Time)
	serviceDay := e.serviceDayFor(trip, report.Time)

	generated := e.generator.Generate(report.VehicleID, block, state.LastMatch, &temporalMatch, state.LastMatchTime, report.Time, serviceDay)

	newlyPredictable := !state.Predictable
	state.BlockID = blockID
	state.ConfigRev = report.ConfigRev
	state.Predictable = true
	state.LastMatch = &temporalMatch
	state.LastMatchTime = report.Time
	if newlyPredictable {
		state.AssignmentTime = report.Time
	}

	if e.assignments != nil {
		e.assignments.Store(ctx, report.VehicleID, blockID, report.ConfigRev, report.Time)
	}

	e.publishGenerated(ctx, generated)

	if newlyPredictable {
		e.publishVehicleEvent(ctx, events.VehicleEvent{
			VehicleID: report.VehicleID,
			Type:      events.VehicleEventAssigned,
			Time:      report.Time,
			BlockID:   blockID,
			TripID:    temporalMatch.TripID,
		})
	}
	if temporalMatch.Delayed {
		e.publishVehicleEvent(ctx, events.VehicleEvent{
			VehicleID: report.VehicleID,
			Type:      events.VehicleEventDelayed,
			Time:      report.Time,
			BlockID:   blockID,
			TripID:    temporalMatch.TripID,
		})
	}

	indexMatchEvent(matchElasticEvent{
		Timestamp: report.Time,
		Success:   true,
		VehicleID: report.VehicleID,
		BlockID:   blockID,
		TripID:    temporalMatch.TripID,
		Source:    report.Source,
	})

	return &MatchResult{
		VehicleID:  report.VehicleID,
		BlockID:    blockID,
		Match:      temporalMatch,
		Events:     generated,
		ServiceDay: serviceDay,
	}, nil
}

// VehicleState returns a snapshot of the vehicle's current state.
func (e *Engine) VehicleState(vehicleID string) (VehicleStateSnapshot, bool) {
	e.statesMutex.RLock()
	state := e.states[vehicleID]
	e.statesMutex.RUnlock()

	if state == nil {
		return VehicleStateSnapshot{}, false
	}

	return state.Snapshot(), true
}

// ActiveTrips returns the ids of the block's trips eligible to match at t.
func (e *Engine) ActiveTrips(ctx context.Context, configRev int, blockID string, t time.Time) ([]string, error) {
	block, err := e.cache.Block(ctx, configRev, blockID)
	if err != nil {
		return nil, err
	}

	var tripIDs []string
	for _, index := range block.TripsCurrentlyActive(t, e.config.AllowableEarlyForLayoverSeconds, e.config.AllowableLateSeconds, e.calendar) {
		trip, _ := block.Trip(index)
		tripIDs = append(tripIDs, trip.ID)
	}

	return tripIDs, nil
}

// Headways exposes the rolling per-stop headway state for the API.
func (e *Engine) Headways() *events.HeadwayRegistry {
	return e.headways
}

// PatternIndex lazily builds (once per revision) the spatial pre-filter
// over the revision's trip patterns.
func (e *Engine) PatternIndex(ctx context.Context, configRev int) (*matcher.PatternIndex, error) {
	e.indexMutex.Lock()
	defer e.indexMutex.Unlock()

	if index := e.patternIndexes[configRev]; index != nil {
		return index, nil
	}

	patterns, err := e.cache.Patterns(ctx, configRev)
	if err != nil {
		return nil, err
	}

	index := matcher.NewPatternIndex(patterns)
	e.patternIndexes[configRev] = index

	return index, nil
}

// filterByPatternIndex drops candidate trips whose pattern extent is nowhere
// near the fix, using the revision's rtree index, so the segment scan only
// touches nearby geometry. The query radius is the widest cutoff any
// candidate claims; the filter can only remove trips the scan would reject
// anyway. Malformed candidates pass through to fail closed downstream, and
// an unavailable index filters nothing.
func (e *Engine) filterByPatternIndex(ctx context.Context, report AvlReport, block *routeconfig.Block, candidates []int) []int {
	index, err := e.PatternIndex(ctx, report.ConfigRev)
	if err != nil {
		return candidates
	}

	radius := e.config.MaxDistanceFromSegment
	for _, tripIndex := range candidates {
		if trip, ok := block.Trip(tripIndex); ok {
			if cutoff := e.spatial.MaxAllowableDistance(trip); cutoff > radius {
				radius = cutoff
			}
		}
	}

	near := index.PatternIDsNear(report.Location(), radius)

	filtered := candidates[:0]
	for _, tripIndex := range candidates {
		trip, ok := block.Trip(tripIndex)
		if !ok || trip.Pattern == nil || near[trip.Pattern.ID] {
			filtered = append(filtered, tripIndex)
		}
	}

	return filtered
}

// resolveBlockID picks the block a fix belongs to: the feed's explicit
// assignment, the vehicle's existing assignment, or the redis assignment
// cache after a restart. A vehicle with none of the three cannot be
// matched against anything.
func (e *Engine) resolveBlockID(ctx context.Context, state *VehicleState, report AvlReport) (string, error) {
	if report.BlockID != "" {
		return report.BlockID, nil
	}

	if state.BlockID != "" {
		return state.BlockID, nil
	}

	if e.assignments != nil {
		if assignment, ok := e.assignments.Lookup(ctx, report.VehicleID); ok {
			return assignment.BlockID, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoBlockAssignment, report.VehicleID)
}

// serviceDayFor resolves which service day the trip's window matched on,
// testing the same three day offsets the activity window tests. A
// post-midnight fix matched against a trip defined past 24:00 belongs to
// yesterday's service day; a pre-midnight fix matched against a trip
// defined before 00:00 belongs to tomorrow's. Event schedule times are
// anchored there.
func (e *Engine) serviceDayFor(trip *routeconfig.Trip, t time.Time) time.Time {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()
	early := e.config.AllowableEarlyForLayoverSeconds
	late := e.config.AllowableLateSeconds

	today := util.StartOfDay(t)

	offsets := []struct {
		shift int
		days  int
	}{
		{0, 0},
		{routeconfig.SecondsPerDay, -1},
		{-routeconfig.SecondsPerDay, 1},
	}

	for _, offset := range offsets {
		adjusted := seconds + offset.shift
		if adjusted >= trip.StartTime-early && adjusted <= trip.EndTime+late {
			return today.AddDate(0, 0, offset.days)
		}
	}

	return today
}

func (e *Engine) stateFor(vehicleID string) *VehicleState {
	e.statesMutex.Lock()
	defer e.statesMutex.Unlock()

	state := e.states[vehicleID]
	if state == nil {
		state = &VehicleState{VehicleID: vehicleID}
		e.states[vehicleID] = state
	}

	return state
}

// markUnpredictable records a no-match outcome: the state loses its
// predictable flag, a diagnostic event goes out, and the failed
// identification is indexed. The assignment itself is kept so a vehicle
// that wanders off route can pick its block back up.
func (e *Engine) markUnpredictable(ctx context.Context, state *VehicleState, report AvlReport, cause error) {
	wasPredictable := state.Predictable
	state.Predictable = false
	state.LastMatch = nil

	if wasPredictable {
		log.Info().Str("vehicle", report.VehicleID).Err(cause).Msg("Vehicle became unpredictable")
	}

	eventType := events.VehicleEventUnpredictable
	if errors.Is(cause, ErrNoSpatialMatch) {
		eventType = events.VehicleEventNoMatch
	}

	e.publishVehicleEvent(ctx, events.VehicleEvent{
		VehicleID:   report.VehicleID,
		Type:        eventType,
		Time:        report.Time,
		BlockID:     state.BlockID,
		Description: cause.Error(),
	})

	indexMatchEvent(matchElasticEvent{
		Timestamp:  report.Time,
		Success:    false,
		FailReason: cause.Error(),
		VehicleID:  report.VehicleID,
		BlockID:    state.BlockID,
		Source:     report.Source,
	})
}

func (e *Engine) publishGenerated(ctx context.Context, generated events.Generated) {
	if len(generated.ArrivalDepartures) == 0 && len(generated.Headways) == 0 && len(generated.HoldingTimes) == 0 {
		return
	}

	for _, sink := range e.sinks {
		sink.PublishGenerated(ctx, generated)
	}
}

func (e *Engine) publishVehicleEvent(ctx context.Context, event events.VehicleEvent) {
	for _, sink := range e.sinks {
		sink.PublishVehicleEvent(ctx, event)
	}
}
