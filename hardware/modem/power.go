package modem

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
	"github.com/temoto/tracker/helpers"
)

const DefaultResetPulse = 200 * time.Millisecond

// ResetLine drives modem RST pin, active low.
type ResetLine struct {
	chip  gpio.Chiper
	lines gpio.Lineser
	set   gpio.LineSetFunc
	pulse time.Duration
	clock helpers.Clock
}

func OpenResetLine(chipPath string, pin uint32, pulse time.Duration) (*ResetLine, error) {
	chip, err := gpio.Open(chipPath, "tracker")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipPath)
	}
	r, err := NewResetLine(chip, pin, pulse, nil)
	if err != nil {
		chip.Close()
		return nil, err
	}
	return r, nil
}

// NewResetLine takes ownership of chip. Pin is released high.
func NewResetLine(chip gpio.Chiper, pin uint32, pulse time.Duration, clock helpers.Clock) (*ResetLine, error) {
	if pulse <= 0 {
		pulse = DefaultResetPulse
	}
	if clock == nil {
		clock = helpers.SystemClock{}
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "modem-reset", pin)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open pin=%d", pin)
	}
	self := &ResetLine{
		chip:  chip,
		lines: lines,
		set:   lines.SetFunc(pin),
		pulse: pulse,
		clock: clock,
	}
	self.set(1)
	if err = lines.Flush(); err != nil {
		lines.Close()
		return nil, errors.Annotate(err, "gpio release reset")
	}
	return self, nil
}

// Pulse holds modem in reset for pulse duration.
// Caller must Session.Reset afterwards, modem needs seconds to boot.
func (self *ResetLine) Pulse() error {
	self.set(0)
	if err := self.lines.Flush(); err != nil {
		return errors.Annotate(err, "gpio assert reset")
	}
	self.clock.Sleep(self.pulse)
	self.set(1)
	return errors.Annotate(self.lines.Flush(), "gpio release reset")
}

func (self *ResetLine) Close() error {
	return helpers.FoldErrors([]error{self.lines.Close(), self.chip.Close()})
}
