package matcher

import (
	"time"

	"github.com/transitflow/transitflow/pkg/routeconfig"
)

// TemporalMatch combines a spatial match with the trip's schedule.
// AdherenceSeconds is scheduled minus actual, so positive means early and
// negative means late. A nil AdherenceSeconds means no adherence is defined
// for this position, which is the normal state for no-schedule frequency
// trips, not an error.
type TemporalMatch struct {
	SpatialMatch

	ScheduledSeconds *int
	AdherenceSeconds *int

	Layover  bool
	WaitStop bool
	Delayed  bool
}

type TemporalMatcher struct {
	config Config
}

func NewTemporalMatcher(config Config) *TemporalMatcher {
	return &TemporalMatcher{config: config}
}

// Match derives schedule adherence and the layover/wait-stop/delayed
// classification for a spatial match observed at time t.
func (m *TemporalMatcher) Match(trip *routeconfig.Trip, spatial SpatialMatch, t time.Time) TemporalMatch {
	match := TemporalMatch{SpatialMatch: spatial}

	if trip == nil || trip.Pattern == nil {
		return match
	}

	if spatial.StopPathIndex >= 0 && spatial.StopPathIndex < len(trip.Pattern.StopPaths) {
		stopPath := trip.Pattern.StopPaths[spatial.StopPathIndex]
		match.Layover = stopPath.LayoverStop && spatial.AtStop
		match.WaitStop = stopPath.WaitStop
	}

	actualSeconds := t.Hour()*3600 + t.Minute()*60 + t.Second()

	scheduled, ok := m.scheduledSeconds(trip, spatial.StopPathIndex, actualSeconds)
	if !ok {
		return match
	}

	adherence := normalizeAdherence(scheduled - actualSeconds)

	match.ScheduledSeconds = &scheduled
	match.AdherenceSeconds = &adherence
	match.Delayed = adherence < -m.config.DelayedThresholdSeconds

	return match
}

// scheduledSeconds resolves the schedule value the matched position should
// be compared against. For timetabled trips that is the stop path's
// departure time, or its arrival time on the trip's final stop path. For
// exact-times frequency trips it is the synthetic schedule
// startTime + n*headway for the nth virtual trip instance. No-schedule
// frequency trips have no value at all.
func (m *TemporalMatcher) scheduledSeconds(trip *routeconfig.Trip, stopPathIndex int, actualSeconds int) (int, bool) {
	if trip.FrequencyBased {
		if !trip.ExactTimesHeadway || trip.HeadwaySeconds <= 0 {
			return 0, false
		}

		instance := (actualSeconds - trip.StartTime) / trip.HeadwaySeconds
		if instance < 0 {
			instance = 0
		}

		return trip.StartTime + instance*trip.HeadwaySeconds, true
	}

	scheduleTime, ok := trip.ScheduleTimeAt(stopPathIndex)
	if !ok {
		return 0, false
	}

	if trip.IsLastStopPath(stopPathIndex) && scheduleTime.ArrivalSeconds != nil {
		return *scheduleTime.ArrivalSeconds, true
	}
	if scheduleTime.DepartureSeconds != nil {
		return *scheduleTime.DepartureSeconds, true
	}

	return scheduleTime.Best()
}

// normalizeAdherence folds a raw difference onto the nearest day so a trip
// scheduled at 24:05 compared against a fix at 00:05 comes out as on time
// rather than a day adrift.
func normalizeAdherence(seconds int) int {
	const halfDay = routeconfig.SecondsPerDay / 2

	for seconds > halfDay {
		seconds -= routeconfig.SecondsPerDay
	}
	for seconds < -halfDay {
		seconds += routeconfig.SecondsPerDay
	}

	return seconds
}
