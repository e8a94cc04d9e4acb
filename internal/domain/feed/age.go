package feed

import "time"

const day = 24 * time.Hour

// CurrentAge returns the cycle day for now, counting the start date as day 1.
// Both instants are reduced to their calendar date in now's location, so the
// result does not depend on the hour the caller runs at.
func CurrentAge(start, now time.Time) int {
	loc := now.Location()
	from := calendarDate(start.In(loc))
	to := calendarDate(now)
	return int(to.Sub(from)/day) + 1
}

// BackdatedStart returns the start instant of a cycle that is already age days
// old at now.
func BackdatedStart(now time.Time, age int) time.Time {
	if age <= 1 {
		return now
	}
	return now.AddDate(0, 0, -(age - 1))
}

// calendarDate maps t to midnight UTC of its wall-clock date so that the
// difference between two dates is always a whole number of days.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
