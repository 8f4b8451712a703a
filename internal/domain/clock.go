package domain

import "time"

// Clock provides the timestamp each operation reads exactly once at entry.
// Deadlines are enforced by comparison, never by waiting.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
