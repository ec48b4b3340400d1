package helpers

import "time"

// Limited exponential backoff for retry delays.
// First failure waits Min, every next failure multiplies delay by K, up to Max.
// Not safe for concurrent use, owner is expected to be single goroutine.
//
// Use scenario:
// for {
//   if !backoff.Ready(clock.Now()) { continue }
//   err := op()
//   backoff.Update(clock.Now(), err==nil)
// }
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms

	next time.Duration
	last time.Time
}

// Ready reports whether enough time passed since last failure.
func (b *Backoff) Ready(now time.Time) bool {
	if b.next == 0 {
		return true
	}
	return now.Sub(b.last) >= b.next
}

// Remaining delay before Ready() becomes true, 0 if ready.
func (b *Backoff) Remaining(now time.Time) time.Duration {
	if b.Ready(now) {
		return 0
	}
	return b.round(b.next - now.Sub(b.last))
}

// Delay that applies after last failure, 0 after Reset.
func (b *Backoff) Delay() time.Duration { return b.next }

// Increase next delay.
func (b *Backoff) Failure(now time.Time) {
	next := b.next
	if next == 0 {
		next = b.Min
	} else {
		k := b.K
		if k < 1 {
			k = 2
		}
		next = time.Duration(float32(next) * k)
	}
	b.next = b.limit(next)
	b.last = now
}

func (b *Backoff) Reset() {
	b.next = 0
	b.last = time.Time{}
}

func (b *Backoff) Update(now time.Time, success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure(now)
	}
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
