// Package clock abstracts wall-clock reads so expiry and timestamp logic
// can be driven deterministically in tests.
//
// Production code injects Real(); tests inject testutil.FakeClock.
package clock

import "time"

// Clock returns the current time.
//
// Every component that stamps createdAt/expiresAt or evaluates a TTL
// takes a Clock instead of calling time.Now directly.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by time.Now, truncated to millisecond
// precision so values round-trip through the store unchanged.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
