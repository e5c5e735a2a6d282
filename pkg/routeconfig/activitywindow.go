package routeconfig

import "time"

// ServiceCalendar answers whether a service id runs on a given date. The
// calendar itself (GTFS calendars, special days and so on) lives outside
// this engine.
type ServiceCalendar interface {
	IsServiceValid(serviceID string, date time.Time) bool
}

// dayCandidate is one of the three seconds-into-day interpretations of a
// wall clock time. A fix just after midnight can belong to a trip defined on
// yesterday's service day (seconds > 86400), and a fix just before midnight
// can belong to tomorrow's (seconds < 0), so every window test runs against
// all three, each gated by the matching day's service validity.
type dayCandidate struct {
	seconds int
	date    time.Time
}

func dayCandidates(t time.Time) [3]dayCandidate {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()

	return [3]dayCandidate{
		{seconds: seconds, date: t},
		{seconds: seconds + SecondsPerDay, date: t.AddDate(0, 0, -1)},
		{seconds: seconds - SecondsPerDay, date: t.AddDate(0, 0, 1)},
	}
}

// IsActive reports whether the block is eligible to match at time t.
//
// beforeSecs widens the window ahead of the block start so vehicles heading
// out for their first trip can already be assigned. When afterSecs is
// negative the window runs to the block end; when it is zero or positive the
// window is cut off afterSecs beyond the start instead. No leniency is ever
// applied past the end time itself.
func (b *Block) IsActive(t time.Time, beforeSecs int, afterSecs int, calendar ServiceCalendar) bool {
	start, ok := b.StartTime()
	if !ok {
		// A block without trips fails closed.
		return false
	}
	end, _ := b.EndTime()

	for _, candidate := range dayCandidates(t) {
		if calendar != nil && !calendar.IsServiceValid(b.ServiceID, candidate.date) {
			continue
		}

		windowEnd := end
		if afterSecs >= 0 {
			windowEnd = start + afterSecs
		}

		if candidate.seconds >= start-beforeSecs && candidate.seconds <= windowEnd {
			return true
		}
	}

	return false
}

// ActiveTripIndex finds the trip whose time slot contains t. The slot for a
// trip runs from the previous trip's end to its own end; the first trip's
// slot opens allowableBeforeSecs ahead of its start. If no slot matches but
// the block is only active thanks to the before-start leniency, the vehicle
// is early for its first trip and index 0 is returned.
func (b *Block) ActiveTripIndex(t time.Time, allowableBeforeSecs int, calendar ServiceCalendar) (int, bool) {
	if len(b.Trips) == 0 {
		return 0, false
	}

	for _, candidate := range dayCandidates(t) {
		if calendar != nil && !calendar.IsServiceValid(b.ServiceID, candidate.date) {
			continue
		}

		for i, trip := range b.Trips {
			slotStart := trip.StartTime - allowableBeforeSecs
			if i > 0 {
				slotStart = b.Trips[i-1].EndTime
			}

			if candidate.seconds > slotStart && candidate.seconds <= trip.EndTime {
				return i, true
			}
		}
	}

	if b.IsActive(t, allowableBeforeSecs, -1, calendar) {
		return 0, true
	}

	return 0, false
}

// TripsCurrentlyActive returns the index of every trip whose widened window
// [start - allowableEarlySecs, end + allowableLateSecs] contains t at any of
// the three day offsets. A vehicle near overlapping loop trips can
// legitimately be a candidate for more than one of them.
func (b *Block) TripsCurrentlyActive(t time.Time, allowableEarlySecs int, allowableLateSecs int, calendar ServiceCalendar) []int {
	var active []int

	for i, trip := range b.Trips {
		for _, candidate := range dayCandidates(t) {
			if calendar != nil && !calendar.IsServiceValid(b.ServiceID, candidate.date) {
				continue
			}

			if candidate.seconds >= trip.StartTime-allowableEarlySecs &&
				candidate.seconds <= trip.EndTime+allowableLateSecs {
				active = append(active, i)
				break
			}
		}
	}

	return active
}
