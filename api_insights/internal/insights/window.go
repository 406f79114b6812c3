package insights

import "time"

// WindowLength is the fixed trailing period of a snapshot.
const WindowLength = 7 * 24 * time.Hour

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WeeklyWindow anchors a seven day window on periodEnd, or on now when
// periodEnd is zero. The anchor is truncated to its UTC calendar date.
func WeeklyWindow(periodEnd, now time.Time) Window {
	anchor := periodEnd
	if anchor.IsZero() {
		anchor = now
	}
	anchor = anchor.UTC()
	end := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: end.Add(-WindowLength), End: end}
}

// Contains includes Start and excludes End.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
