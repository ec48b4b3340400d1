// Package envsensor reads ambient pressure and temperature from Bosch BMP280/BME280 over I2C.
package envsensor

import (
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/internal/types"
	"github.com/temoto/tracker/log2"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/bmxx80"
	"periph.io/x/periph/host"
)

const DefaultAddr = 0x77

type PressureUnit uint8

const (
	HectoPascal PressureUnit = iota
	Pascal
)

func ParsePressureUnit(s string) (PressureUnit, error) {
	switch strings.ToLower(s) {
	case "", "hpa":
		return HectoPascal, nil
	case "pa":
		return Pascal, nil
	}
	return 0, errors.NotValidf("pressure unit=%q", s)
}

type senser interface {
	Sense(e *physic.Env) error
	Halt() error
}

type Sensor struct {
	Log  *log2.Log
	bus  i2c.BusCloser
	dev  senser
	unit PressureUnit
}

// Open initializes host drivers once and probes chip at addr.
// Empty busName selects first available bus.
func Open(busName string, addr uint16, unit PressureUnit, log *log2.Log) (*Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph host init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%q", busName)
	}
	if addr == 0 {
		addr = DefaultAddr
	}
	opts := bmxx80.DefaultOpts
	opts.Temperature = bmxx80.O8x
	opts.Pressure = bmxx80.O4x
	opts.Filter = bmxx80.F4
	dev, err := bmxx80.NewI2C(bus, addr, &opts)
	if err != nil {
		bus.Close()
		return nil, errors.Annotatef(err, "bmxx80 addr=%#x", addr)
	}
	log.Infof("sensor %s", dev)
	return &Sensor{Log: log, bus: bus, dev: dev, unit: unit}, nil
}

// TryRead never fails, absent reading is nil field.
func (self *Sensor) TryRead() types.Sensors {
	if self == nil || self.dev == nil {
		return types.Sensors{}
	}
	var e physic.Env
	if err := self.dev.Sense(&e); err != nil {
		self.Log.Errorf("sensor read err=%v", err)
		return types.Sensors{}
	}
	return Convert(e, self.unit)
}

func (self *Sensor) Close() error {
	if self == nil || self.dev == nil {
		return nil
	}
	err := self.dev.Halt()
	if self.bus != nil {
		err = helpers.FoldErrors([]error{err, self.bus.Close()})
	}
	return err
}

func Convert(e physic.Env, unit PressureUnit) types.Sensors {
	celsius := float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)
	pa := float64(e.Pressure) / float64(physic.Pascal)
	if unit == HectoPascal {
		pa /= 100
	}
	return types.Sensors{
		Temperature: types.Float(celsius),
		Pressure:    types.Float(pa),
	}
}
