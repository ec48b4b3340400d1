package helpers

import (
	"sort"
	"sync"
	"time"
)

// Clock is time source for code that waits on timeouts.
// Production uses SystemClock, tests use FakeClock so windows elapse without real time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// SystemClock uses time.Now, its readings carry monotonic clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (SystemClock) Sleep(d time.Duration)                  { time.Sleep(d) }

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// FakeClock only moves on Advance or Sleep.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: start}
}

func (self *FakeClock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.now
}

func (self *FakeClock) After(d time.Duration) <-chan time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := self.now.Add(d)
	if d <= 0 {
		ch <- self.now
		return ch
	}
	self.waiters = append(self.waiters, fakeWaiter{at: at, ch: ch})
	return ch
}

// Sleep advances fake time instead of blocking.
func (self *FakeClock) Sleep(d time.Duration) { self.Advance(d) }

func (self *FakeClock) Advance(d time.Duration) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if d > 0 {
		self.now = self.now.Add(d)
	}
	sort.Slice(self.waiters, func(i, j int) bool { return self.waiters[i].at.Before(self.waiters[j].at) })
	keep := self.waiters[:0]
	for _, w := range self.waiters {
		if !w.at.After(self.now) {
			w.ch <- self.now
		} else {
			keep = append(keep, w)
		}
	}
	self.waiters = keep
}

// Pending returns number of After() channels not fired yet.
func (self *FakeClock) Pending() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.waiters)
}
