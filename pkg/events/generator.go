package events

import (
	"sync"
	"time"

	"github.com/transitflow/transitflow/pkg/matcher"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

// Generated bundles everything one match transition produced.
type Generated struct {
	ArrivalDepartures []*ArrivalDeparture
	Headways          []*Headway
	HoldingTimes      []*HoldingTime
}

// Generator derives discrete arrival/departure events, headways and holding
// time recommendations from consecutive matches of the same vehicle.
type Generator struct {
	headways *HeadwayRegistry

	mutex        sync.Mutex
	lastArrivals map[string]*ArrivalDeparture
}

func NewGenerator(headways *HeadwayRegistry) *Generator {
	return &Generator{
		headways:     headways,
		lastArrivals: map[string]*ArrivalDeparture{},
	}
}

// Generate compares a vehicle's previous and current temporal matches and
// emits the events the transition implies. prev may be nil on the vehicle's
// first match. Calls for one vehicle are serialized by the caller, calls for
// different vehicles run in parallel.
func (g *Generator) Generate(vehicleID string, block *routeconfig.Block, prev *matcher.TemporalMatch, curr *matcher.TemporalMatch, prevTime time.Time, currTime time.Time, serviceDay time.Time) Generated {
	var generated Generated

	if curr == nil || block == nil {
		return generated
	}

	trip, ok := block.Trip(curr.TripIndex)
	if !ok || trip.Pattern == nil || len(trip.Pattern.StopPaths) == 0 {
		return generated
	}

	sameStop := prev != nil && prev.TripIndex == curr.TripIndex && prev.StopPathIndex == curr.StopPathIndex

	// Stops fully crossed since the previous fix produce an arrival and an
	// immediate departure each, timed by linear interpolation across the
	// gap between the two fixes.
	if prev != nil && prev.TripIndex == curr.TripIndex && curr.StopPathIndex > prev.StopPathIndex {
		crossed := curr.StopPathIndex - prev.StopPathIndex
		step := currTime.Sub(prevTime) / time.Duration(crossed+1)

		for offset := 0; offset < crossed; offset++ {
			stopPathIndex := prev.StopPathIndex + offset
			eventTime := prevTime.Add(step * time.Duration(offset+1))

			// If the previous fix already had the vehicle sat at this stop
			// the arrival was recorded then; only the departure is new, and
			// the dwell runs from that earlier arrival.
			arrival := g.lastArrival(vehicleID)
			arrivalAlreadyRecorded := offset == 0 && prev.AtStop && arrival != nil &&
				arrival.StopID == trip.Pattern.StopPaths[stopPathIndex].StopID

			if !arrivalAlreadyRecorded {
				arrival = g.newArrivalDeparture(vehicleID, block, trip, stopPathIndex, true, eventTime, serviceDay)
				generated.ArrivalDepartures = append(generated.ArrivalDepartures, arrival)
			}

			departure := g.newArrivalDeparture(vehicleID, block, trip, stopPathIndex, false, eventTime, serviceDay)
			g.attachDwell(vehicleID, arrival, departure)

			generated.ArrivalDepartures = append(generated.ArrivalDepartures, departure)

			if headway := g.headways.RecordDeparture(trip.RouteID, departure.StopID, vehicleID, departure.Time); headway != nil {
				generated.Headways = append(generated.Headways, headway)
			}
		}

		g.clearLastArrival(vehicleID)
	}

	// Newly at a stop: record the arrival once and, at wait stops, a hold
	// until the scheduled departure.
	if curr.AtStop && (!sameStop || (prev != nil && !prev.AtStop)) {
		if g.lastArrival(vehicleID) == nil || !sameStop {
			arrival := g.newArrivalDeparture(vehicleID, block, trip, curr.StopPathIndex, true, currTime, serviceDay)
			generated.ArrivalDepartures = append(generated.ArrivalDepartures, arrival)
			g.setLastArrival(vehicleID, arrival)

			if holding := g.holdingTimeFor(vehicleID, trip, curr.StopPathIndex, arrival, serviceDay); holding != nil {
				generated.HoldingTimes = append(generated.HoldingTimes, holding)
			}
		}
	}

	// Left the stop the previous fix had the vehicle at, without skipping
	// ahead a whole stop path.
	if prev != nil && prev.AtStop && sameStop && !curr.AtStop {
		departure := g.newArrivalDeparture(vehicleID, block, trip, prev.StopPathIndex, false, currTime, serviceDay)
		g.attachDwell(vehicleID, g.lastArrival(vehicleID), departure)
		g.clearLastArrival(vehicleID)

		generated.ArrivalDepartures = append(generated.ArrivalDepartures, departure)

		if headway := g.headways.RecordDeparture(trip.RouteID, departure.StopID, vehicleID, departure.Time); headway != nil {
			generated.Headways = append(generated.Headways, headway)
		}
	}

	return generated
}

func (g *Generator) newArrivalDeparture(vehicleID string, block *routeconfig.Block, trip *routeconfig.Trip, stopPathIndex int, isArrival bool, eventTime time.Time, serviceDay time.Time) *ArrivalDeparture {
	record := &ArrivalDeparture{
		VehicleID:     vehicleID,
		BlockID:       block.ID,
		TripID:        trip.ID,
		RouteID:       trip.RouteID,
		StopID:        trip.Pattern.StopPaths[stopPathIndex].StopID,
		StopPathIndex: stopPathIndex,
		IsArrival:     isArrival,
		Time:          eventTime,
	}

	record.ScheduledTime = attachScheduleTime(trip, stopPathIndex, isArrival, serviceDay)

	return record
}

// attachScheduleTime applies the adherence rule: an arrival only gets a
// schedule time on the trip's final stop path when an arrival time exists,
// a departure only on a non-final stop path when a departure time exists.
// Every other combination has no derivable adherence and stays nil.
func attachScheduleTime(trip *routeconfig.Trip, stopPathIndex int, isArrival bool, serviceDay time.Time) *time.Time {
	scheduleTime, ok := trip.ScheduleTimeAt(stopPathIndex)
	if !ok {
		return nil
	}

	lastStopPath := trip.IsLastStopPath(stopPathIndex)

	var seconds *int
	if isArrival && lastStopPath {
		seconds = scheduleTime.ArrivalSeconds
	} else if !isArrival && !lastStopPath {
		seconds = scheduleTime.DepartureSeconds
	}

	if seconds == nil {
		return nil
	}

	scheduled := timeForSecondsIntoDay(serviceDay, *seconds)

	return &scheduled
}

// holdingTimeFor recommends holding at wait stops until the scheduled
// departure. Without a wait stop flag or a departure time there is nothing
// to hold for.
func (g *Generator) holdingTimeFor(vehicleID string, trip *routeconfig.Trip, stopPathIndex int, arrival *ArrivalDeparture, serviceDay time.Time) *HoldingTime {
	if stopPathIndex >= len(trip.Pattern.StopPaths) || !trip.Pattern.StopPaths[stopPathIndex].WaitStop {
		return nil
	}

	scheduleTime, ok := trip.ScheduleTimeAt(stopPathIndex)
	if !ok || scheduleTime.DepartureSeconds == nil {
		return nil
	}

	departAt := timeForSecondsIntoDay(serviceDay, *scheduleTime.DepartureSeconds)
	if departAt.Before(arrival.Time) {
		return nil
	}

	return &HoldingTime{
		VehicleID:    vehicleID,
		StopID:       arrival.StopID,
		TripID:       trip.ID,
		CreationTime: arrival.Time,
		ArrivalTime:  arrival.Time,
		HoldingTime:  departAt,
	}
}

func (g *Generator) attachDwell(vehicleID string, arrival *ArrivalDeparture, departure *ArrivalDeparture) {
	if arrival == nil || departure == nil || arrival.StopID != departure.StopID {
		return
	}

	dwell := departure.Time.Sub(arrival.Time)
	if dwell < 0 {
		return
	}

	departure.DwellTime = &dwell
}

func (g *Generator) lastArrival(vehicleID string) *ArrivalDeparture {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.lastArrivals[vehicleID]
}

func (g *Generator) setLastArrival(vehicleID string, arrival *ArrivalDeparture) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.lastArrivals[vehicleID] = arrival
}

func (g *Generator) clearLastArrival(vehicleID string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	delete(g.lastArrivals, vehicleID)
}

func timeForSecondsIntoDay(serviceDay time.Time, seconds int) time.Time {
	midnight := time.Date(serviceDay.Year(), serviceDay.Month(), serviceDay.Day(), 0, 0, 0, 0, serviceDay.Location())

	return midnight.Add(time.Duration(seconds) * time.Second)
}
