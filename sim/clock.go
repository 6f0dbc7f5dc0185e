package sim

import "time"

// Timestamp is an instant on the run's monotonic clock, expressed in
// nanoseconds since the clock origin. All agents and servers in a run share
// one clock, so sojourn times are pure subtractions that are immune to
// wall-clock adjustments.
type Timestamp int64

// Sub returns the duration t - o.
func (t Timestamp) Sub(o Timestamp) time.Duration {
	return time.Duration(t - o)
}

// Add returns the timestamp d after t.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

// Seconds returns the timestamp as seconds since the clock origin.
func (t Timestamp) Seconds() float64 {
	return time.Duration(t).Seconds()
}

// A Clock is the single monotonic time source of a run. The zero instant is
// the moment the clock was created.
type Clock struct {
	origin time.Time
}

// NewClock creates a clock with its origin at the current instant.
func NewClock() *Clock {
	return &Clock{origin: time.Now()}
}

// Now returns the current timestamp.
func (c *Clock) Now() Timestamp {
	return Timestamp(time.Since(c.origin))
}
