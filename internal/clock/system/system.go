// Package system provides the clocks that stamp a screenshot run.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant, for reproducible output paths.
type Fixed struct {
	t time.Time
}

// NewFixed pins the clock to t, converted to UTC.
func NewFixed(t time.Time) Fixed {
	return Fixed{t: t.UTC()}
}

// Now returns the pinned time.
func (f Fixed) Now() time.Time {
	return f.t
}
