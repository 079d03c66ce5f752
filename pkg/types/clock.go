package types

import "time"

// Clock abstracts time for window math and deterministic tests.
// All guardrail state uses the injected clock, never time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
