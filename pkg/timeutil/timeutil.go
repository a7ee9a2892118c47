// Package timeutil provides time helpers for the diary service, which speaks
// in Unix epoch milliseconds.
package timeutil

import "time"

// Diary window defaults: the service is asked for lessons starting two days
// ago and spanning two weeks.
const (
	DiaryLookBack = 48 * time.Hour
	DiarySpan     = 14 * 24 * time.Hour
)

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// ToMillis converts t to Unix epoch milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix epoch milliseconds to a UTC time.
// Zero maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// DiaryWindow resolves the [from, to] range for a diary request.
// A zero from means now minus DiaryLookBack; a zero to means from plus DiarySpan.
// Both are truncated to whole seconds.
func DiaryWindow(now, from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = now.Add(-DiaryLookBack)
	}
	if to.IsZero() {
		to = from.Add(DiarySpan)
	}
	return from.Truncate(time.Second), to.Truncate(time.Second)
}
