package model

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid checks that the window has positive length
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Overlaps reports whether two windows share at least one instant.
// Abutting windows (w.End == o.Start) do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains checks that o lies entirely inside w
func (w Window) Contains(o Window) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
