package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Time{})
	b := Backoff{Min: time.Second, Max: 5 * time.Second, K: 2}
	assert.True(t, b.Ready(clock.Now()))

	expect := []time.Duration{1, 2, 4, 5, 5}
	for _, e := range expect {
		b.Failure(clock.Now())
		assert.Equal(t, e*time.Second, b.Delay())
		assert.False(t, b.Ready(clock.Now()))
		clock.Advance(e*time.Second - time.Millisecond)
		assert.False(t, b.Ready(clock.Now()))
		assert.Equal(t, time.Millisecond, b.Remaining(clock.Now()))
		clock.Advance(time.Millisecond)
		assert.True(t, b.Ready(clock.Now()))
	}

	b.Update(clock.Now(), true)
	assert.Equal(t, time.Duration(0), b.Delay())
	assert.True(t, b.Ready(clock.Now()))
}
