package clock

import "time"

// FakeClock is a manually advanced Clock. Tests use it to cross the escrow
// hold period and certificate expiry without sleeping.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward. Not safe for concurrent use with Now; tests
// advance between operations, not during them.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
