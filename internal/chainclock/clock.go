// Package chainclock provides the service clock the ledger components
// bucket against. Day buckets and rate-limit intervals always derive from
// this clock, never from caller-supplied timestamps, so a caller cannot
// steer which bucket an operation lands in.
package chainclock

import (
	"sync"
	"time"
)

// Clock is the time source for bucketing and expiry checks.
type Clock interface {
	Now() time.Time
}

// System is the wall-clock Clock used in production.
type System struct{}

func (System) Now() time.Time { return time.Now() }

const secondsPerDay = 86400

// DayBucket maps t to its UTC day-bucket integer.
func DayBucket(t time.Time) int64 {
	return t.Unix() / secondsPerDay
}

// IntervalID maps t to its rate-limit interval identifier for the given
// interval width. The identifier is monotonic for a monotonic clock.
func IntervalID(t time.Time, width time.Duration) int64 {
	if width <= 0 {
		width = time.Second
	}
	return t.UnixNano() / int64(width)
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a Fake pinned to t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}
