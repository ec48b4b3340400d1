package state

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/tracker/hardware/envsensor"
	"github.com/temoto/tracker/hardware/gnss"
	"github.com/temoto/tracker/hardware/modem"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/log2"
)

type hardware struct {
	Modem struct {
		once
		// Device set before first Modem() call replaces UART, used by tests
		Device  modem.Device
		Session *modem.Session
	}
	Reset struct {
		once
		Line *modem.ResetLine
	}
	Gnss struct {
		once
		Decoder *gnss.Decoder
		port    io.ReadWriteCloser
	}
	Sensor struct {
		once
		Sensor *envsensor.Sensor
	}
}

func (g *Global) componentLog(prefix string, debug bool) *log2.Log {
	level := log2.LInfo
	if debug {
		level = log2.LDebug
	}
	l := g.Log.Clone(level)
	l.SetPrefix(prefix)
	return l
}

func (g *Global) Modem() (*modem.Session, error) {
	x := &g.Hardware.Modem // short alias
	_ = x.do(func() error {
		cfg := &g.Config.Modem
		if x.Device == nil {
			if cfg.UartDevice == "" {
				return errors.NotValidf("config: modem.uart_device=empty")
			}
			baud := cfg.UartBaudrate
			if baud == 0 {
				baud = DefaultBaudrate
			}
			uart, err := modem.OpenUart(cfg.UartDevice, baud)
			if err != nil {
				return errors.Annotatef(err, "config: modem.uart_device=%s", cfg.UartDevice)
			}
			x.Device = uart
		}
		x.Session = modem.NewSession(x.Device, g.Clock, g.componentLog("modem: ", cfg.LogDebug), g.Config.ModemConfig())
		return nil
	})
	return x.Session, x.err
}

// ModemReset returns nil,nil when reset pin is not configured.
func (g *Global) ModemReset() (*modem.ResetLine, error) {
	x := &g.Hardware.Reset
	_ = x.do(func() error {
		cfg := &g.Config.Modem
		if cfg.ResetPinChip == "" || cfg.ResetPin == "" {
			return nil
		}
		pin, err := strconv.ParseUint(cfg.ResetPin, 10, 32)
		if err != nil {
			return errors.NewNotValid(err, "config: modem.reset_pin")
		}
		pulse := helpers.IntMillisecondDefault(cfg.ResetPulseMs, modem.DefaultResetPulse)
		x.Line, err = modem.OpenResetLine(cfg.ResetPinChip, uint32(pin), pulse)
		return errors.Annotatef(err, "config: modem.reset_pin_chip=%s", cfg.ResetPinChip)
	})
	return x.Line, x.err
}

// Gnss starts background reader when gnss.uart_device is set.
// Without device decoder is returned anyway, tests feed it directly.
func (g *Global) Gnss() (*gnss.Decoder, error) {
	x := &g.Hardware.Gnss
	_ = x.do(func() error {
		cfg := &g.Config.Gnss
		x.Decoder = gnss.NewDecoder(g.Clock, g.componentLog("gnss: ", cfg.LogDebug), g.Config.GnssMaxAge())
		if cfg.UartDevice == "" {
			g.Log.Infof("config: gnss.uart_device=empty, decoder is not fed")
			return nil
		}
		baud := cfg.UartBaudrate
		if baud == 0 {
			baud = DefaultBaudrate
		}
		port, err := gnss.OpenPort(cfg.UartDevice, baud)
		if err != nil {
			return errors.Annotatef(err, "config: gnss.uart_device=%s", cfg.UartDevice)
		}
		x.port = port
		if !g.Alive.Add(1) {
			return errors.Errorf("gnss start after stop")
		}
		go func() {
			defer g.Alive.Done()
			if err := x.Decoder.Pump(g.Alive, port); err != nil && g.Alive.IsRunning() {
				g.Error(err)
				g.Stop()
			}
		}()
		return nil
	})
	return x.Decoder, x.err
}

// Sensor returns nil,nil when sensor.enable=false, TryRead on nil is valid.
func (g *Global) Sensor() (*envsensor.Sensor, error) {
	x := &g.Hardware.Sensor
	_ = x.do(func() error {
		cfg := &g.Config.Sensor
		if !cfg.Enable {
			return nil
		}
		unit, err := envsensor.ParsePressureUnit(cfg.PressureUnit)
		if err != nil {
			return errors.Trace(err)
		}
		x.Sensor, err = envsensor.Open(cfg.I2cBus, uint16(cfg.I2cAddr), unit, g.componentLog("sensor: ", false))
		return errors.Annotatef(err, "config: sensor.i2c_bus=%s", cfg.I2cBus)
	})
	return x.Sensor, x.err
}

// CloseHardware releases opened devices. Stop Alive first so readers exit.
func (g *Global) CloseHardware() error {
	errs := make([]error, 0, 4)
	h := &g.Hardware
	if h.Gnss.done() && h.Gnss.port != nil {
		errs = append(errs, h.Gnss.port.Close())
	}
	if h.Modem.done() && h.Modem.Device != nil {
		errs = append(errs, h.Modem.Device.Close())
	}
	if h.Reset.done() && h.Reset.Line != nil {
		errs = append(errs, h.Reset.Line.Close())
	}
	if h.Sensor.done() {
		errs = append(errs, h.Sensor.Sensor.Close())
	}
	return helpers.FoldErrors(errs)
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
