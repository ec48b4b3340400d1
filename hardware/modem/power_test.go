package modem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
	"github.com/temoto/tracker/helpers"
)

func TestResetLinePulse(t *testing.T) {
	t.Parallel()

	const pin uint32 = 17
	clock := helpers.NewFakeClock(time.Time{})
	var values []byte
	var stamps []time.Time
	set := gpio.LineSetFunc(func(v byte) {
		values = append(values, v)
		stamps = append(stamps, clock.Now())
	})
	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", pin).Return(set)
	lines.On("Flush").Return(nil)
	lines.On("Close").Return(nil)
	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, "modem-reset", pin).Return(lines, nil)
	chip.On("Close").Return(nil)

	r, err := NewResetLine(chip, pin, 150*time.Millisecond, clock)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, values)

	require.NoError(t, r.Pulse())
	assert.Equal(t, []byte{1, 0, 1}, values)
	assert.Equal(t, 150*time.Millisecond, stamps[2].Sub(stamps[1]))

	require.NoError(t, r.Close())
	chip.AssertExpectations(t)
	lines.AssertNumberOfCalls(t, "Flush", 3)
}
