package state

import (
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/tracker/hardware/envsensor"
	"github.com/temoto/tracker/hardware/modem"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/internal/envelope"
	"github.com/temoto/tracker/log2"
)

const (
	DefaultTickInterval = 1000 * time.Millisecond
	DefaultBaudrate     = 9600
	DefaultBackoffMin   = 1 * time.Second
	DefaultBackoffMax   = 60 * time.Second
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	DeviceId       string `hcl:"device_id"`
	TickIntervalMs int    `hcl:"tick_interval_ms"`

	Crypto struct {
		Key    string `hcl:"key"`
		KeyHex string `hcl:"key_hex"`
	} `hcl:"crypto"`

	Modem struct { //nolint:maligned
		UartDevice      string `hcl:"uart_device"`
		UartBaudrate    int    `hcl:"uart_baudrate"`
		APN             string `hcl:"apn"`
		APNUser         string `hcl:"apn_user"`
		APNPassword     string `hcl:"apn_password"`
		LogDebug        bool   `hcl:"log_debug"`
		ProbeTimeoutMs  int    `hcl:"probe_timeout_ms"`
		ActionTimeoutMs int    `hcl:"action_timeout_ms"`
		CycleBudgetMs   int    `hcl:"cycle_budget_ms"`
		ReadBody        bool   `hcl:"read_body"`
		ResetPinChip    string `hcl:"reset_pin_chip"`
		ResetPin        string `hcl:"reset_pin"`
		ResetPulseMs    int    `hcl:"reset_pulse_ms"`
		BackoffMinMs    int    `hcl:"backoff_min_ms"`
		BackoffMaxMs    int    `hcl:"backoff_max_ms"`
	} `hcl:"modem"`

	Collector struct {
		URL string `hcl:"url"`
	} `hcl:"collector"`

	Gnss struct {
		UartDevice   string `hcl:"uart_device"`
		UartBaudrate int    `hcl:"uart_baudrate"`
		MaxAgeMs     int    `hcl:"max_age_ms"`
		LogDebug     bool   `hcl:"log_debug"`
	} `hcl:"gnss"`

	Sensor struct {
		Enable       bool   `hcl:"enable"`
		I2cBus       string `hcl:"i2c_bus"`
		I2cAddr      int    `hcl:"i2c_addr"`
		PressureUnit string `hcl:"pressure_unit"`
	} `hcl:"sensor"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) TickInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.TickIntervalMs, DefaultTickInterval)
}

// Key returns AES key from exactly one of crypto.key, crypto.key_hex.
func (c *Config) Key() ([]byte, error) {
	return envelope.KeyFromConfig(c.Crypto.Key, c.Crypto.KeyHex)
}

func (c *Config) ModemConfig() modem.Config {
	m := &c.Modem
	return modem.Config{
		APN:           m.APN,
		APNUser:       m.APNUser,
		APNPassword:   m.APNPassword,
		URL:           c.Collector.URL,
		ProbeTimeout:  helpers.IntMillisecondDefault(m.ProbeTimeoutMs, modem.DefaultProbeTimeout),
		ActionTimeout: helpers.IntMillisecondDefault(m.ActionTimeoutMs, modem.DefaultActionTimeout),
		CycleBudget:   helpers.IntMillisecondDefault(m.CycleBudgetMs, modem.DefaultCycleBudget),
		ReadBody:      m.ReadBody,
	}
}

func (c *Config) Backoff() helpers.Backoff {
	return helpers.Backoff{
		Min: helpers.IntMillisecondDefault(c.Modem.BackoffMinMs, DefaultBackoffMin),
		Max: helpers.IntMillisecondDefault(c.Modem.BackoffMaxMs, DefaultBackoffMax),
		K:   2,
	}
}

func (c *Config) GnssMaxAge() time.Duration {
	if c.Gnss.MaxAgeMs <= 0 {
		return 0
	}
	return time.Duration(c.Gnss.MaxAgeMs) * time.Millisecond
}

// Validate reports every problem at once, each one errors.IsNotValid.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	if c.DeviceId == "" {
		errs = append(errs, errors.NotValidf("config: device_id=empty"))
	}
	if c.TickIntervalMs < 0 {
		errs = append(errs, errors.NotValidf("config: tick_interval_ms=%d", c.TickIntervalMs))
	}
	key, err := c.Key()
	if err == nil {
		_, err = envelope.New(key)
	}
	if err != nil {
		errs = append(errs, errors.Annotate(err, "config: crypto"))
	}
	if c.Collector.URL == "" {
		errs = append(errs, errors.NotValidf("config: collector.url=empty"))
	} else if u, err := url.Parse(c.Collector.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.NotValidf("config: collector.url=%q", c.Collector.URL))
	}
	if c.Modem.ResetPin != "" {
		if _, err := strconv.ParseUint(c.Modem.ResetPin, 10, 32); err != nil {
			errs = append(errs, errors.NotValidf("config: modem.reset_pin=%q", c.Modem.ResetPin))
		}
	}
	if _, err := envsensor.ParsePressureUnit(c.Sensor.PressureUnit); err != nil {
		errs = append(errs, errors.Annotate(err, "config: sensor"))
	}
	// every entry above is NotValid, fold keeps single error cause intact
	err = helpers.FoldErrors(errs)
	if err != nil && !errors.IsNotValid(err) {
		err = errors.NewNotValid(err, "")
	}
	return err
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		// content is not logged, it holds key
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
