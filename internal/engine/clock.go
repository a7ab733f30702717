package engine

import (
	"time"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/schema"
)

const isoLayout = "2006-01-02T15:04:05Z"

// Clock is the deterministic timestamp source for one run.
//
// It is seeded from the caller's `now` and advances one second per call, so
// successive calls are strictly monotonic and fully replayable. Process
// time is never read; every timestamp in the state and trace flows from
// here.
type Clock struct {
	seed time.Time
	n    int64
}

// NewClock parses the ISO-8601 UTC seed and returns a clock positioned on
// it. The first Now() call returns the seed exactly.
func NewClock(seed string) (*Clock, error) {
	if !schema.IsISO8601UTC(seed) {
		return nil, fault.New(fault.CodeSchemaInvalid, "clock seed %q must be an ISO-8601 UTC timestamp", seed)
	}
	t, err := time.Parse(isoLayout, seed)
	if err != nil {
		return nil, fault.New(fault.CodeSchemaInvalid, "clock seed %q does not parse: %v", seed, err)
	}
	return &Clock{seed: t}, nil
}

// Now returns the next timestamp and advances the clock.
func (c *Clock) Now() string {
	t := c.seed.Add(time.Duration(c.n) * time.Second)
	c.n++
	return t.UTC().Format(isoLayout)
}

// Calls returns how many timestamps have been handed out.
func (c *Clock) Calls() int64 {
	return c.n
}
