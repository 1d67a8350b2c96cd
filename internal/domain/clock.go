package domain

import "time"

// Clock abstracts time reads so time-sensitive components can be tested
// with a controlled clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time {
	return time.Now()
}
