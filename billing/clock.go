package billing

import "time"

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies the current time. Rule evaluation compares against the
// evaluation-time wall clock, so tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
