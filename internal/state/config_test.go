package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/tracker/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, DefaultTickInterval, c.TickInterval())
			mc := c.ModemConfig()
			assert.Equal(t, 15*time.Second, mc.CycleBudget)
			b := c.Backoff()
			assert.Equal(t, time.Second, b.Min)
			assert.Equal(t, time.Minute, b.Max)
			assert.Equal(t, time.Duration(0), c.GnssMaxAge())
		}, ""},

		{"full", `
device_id = "ABC123456789"
tick_interval_ms = 5000
crypto { key = "0123456789abcdef" }
modem {
	uart_device = "/dev/ttyS1"
	uart_baudrate = 115200
	apn = "iot.example"
	apn_user = "u"
	apn_password = "p"
	probe_timeout_ms = 700
	action_timeout_ms = 8000
	cycle_budget_ms = 20000
	read_body = true
	reset_pin_chip = "/dev/gpiochip0"
	reset_pin = "17"
	backoff_min_ms = 2000
	backoff_max_ms = 30000
}
collector { url = "http://example.com/public/receive" }
gnss { uart_device = "/dev/ttyS2" max_age_ms = 3000 }
sensor { enable = true i2c_bus = "1" i2c_addr = 118 pressure_unit = "Pa" }
metrics { listen = "127.0.0.1:9100" }
`, func(t testing.TB, c *Config) {
			assert.Equal(t, "ABC123456789", c.DeviceId)
			assert.Equal(t, 5*time.Second, c.TickInterval())
			assert.Equal(t, "/dev/ttyS1", c.Modem.UartDevice)
			assert.Equal(t, 115200, c.Modem.UartBaudrate)
			mc := c.ModemConfig()
			assert.Equal(t, "iot.example", mc.APN)
			assert.Equal(t, "u", mc.APNUser)
			assert.Equal(t, "p", mc.APNPassword)
			assert.Equal(t, "http://example.com/public/receive", mc.URL)
			assert.Equal(t, 700*time.Millisecond, mc.ProbeTimeout)
			assert.Equal(t, 8*time.Second, mc.ActionTimeout)
			assert.Equal(t, 20*time.Second, mc.CycleBudget)
			assert.True(t, mc.ReadBody)
			assert.Equal(t, "17", c.Modem.ResetPin)
			assert.Equal(t, 2*time.Second, c.Backoff().Min)
			assert.Equal(t, 3*time.Second, c.GnssMaxAge())
			assert.True(t, c.Sensor.Enable)
			assert.Equal(t, 0x76, c.Sensor.I2cAddr)
			assert.Equal(t, "127.0.0.1:9100", c.Metrics.Listen)
			key, err := c.Key()
			require.NoError(t, err)
			assert.Equal(t, []byte("0123456789abcdef"), key)
			assert.NoError(t, c.Validate())
		}, ""},

		{"include-normalize", `
device_id = "first"
include "./empty" {}`,
			func(t testing.TB, c *Config) { assert.Equal(t, "first", c.DeviceId) }, ""},

		{"include-optional", `
include "secrets" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) { assert.Equal(t, "AAAABBBBCCCCDDDD", c.Crypto.Key) }, ""},

		{"include-overwrites", `
device_id = "first"
include "device-second" {}`,
			func(t testing.TB, c *Config) { assert.Equal(t, "second", c.DeviceId) }, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline":   c.input,
				"empty":         "",
				"secrets":       `crypto { key = "AAAABBBBCCCCDDDD" }`,
				"device-second": `device_id = "second"`,
				"include-loop":  `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				require.NoError(t, err)
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		})
	}
}

func validConfig() *Config {
	c := &Config{DeviceId: "ABC123456789"}
	c.Crypto.Key = "0123456789abcdef"
	c.Collector.URL = "http://example.com/public/receive"
	return c
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(c *Config)
		expect string
	}{
		{"ok", func(c *Config) {}, ""},
		{"device-empty", func(c *Config) { c.DeviceId = "" }, "device_id=empty"},
		{"key-short", func(c *Config) { c.Crypto.Key = "short" }, "crypto key length=5 must be 16"},
		{"key-long-hex", func(c *Config) { c.Crypto.Key, c.Crypto.KeyHex = "", "000102030405060708090a0b0c0d0e0f10" }, "crypto key length=17"},
		{"key-bad-hex", func(c *Config) { c.Crypto.Key, c.Crypto.KeyHex = "", "zz" }, "key_hex"},
		{"key-both", func(c *Config) { c.Crypto.KeyHex = "000102030405060708090a0b0c0d0e0f" }, "both set"},
		{"key-empty", func(c *Config) { c.Crypto.Key = "" }, "key is empty"},
		{"url-empty", func(c *Config) { c.Collector.URL = "" }, "collector.url=empty"},
		{"url-relative", func(c *Config) { c.Collector.URL = "/public/receive" }, "collector.url="},
		{"tick-negative", func(c *Config) { c.TickIntervalMs = -1 }, "tick_interval_ms=-1"},
		{"reset-pin", func(c *Config) { c.Modem.ResetPin = "PA7" }, "modem.reset_pin"},
		{"pressure-unit", func(c *Config) { c.Sensor.PressureUnit = "bar" }, "pressure unit"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			cfg := validConfig()
			c.mutate(cfg)
			err := cfg.Validate()
			if c.expect == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsNotValid(err), "err=%v", err)
			assert.Contains(t, err.Error(), c.expect)
		})
	}
}

func TestValidateMany(t *testing.T) {
	t.Parallel()

	err := (&Config{}).Validate()
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
	assert.Contains(t, err.Error(), "device_id=empty")
	assert.Contains(t, err.Error(), "collector.url=empty")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvDeviceId:     "ENV000000001",
		EnvKeyHex:       "000102030405060708090a0b0c0d0e0f",
		EnvAPN:          "env.apn",
		EnvCollectorURL: "http://env.test/receive",
	}
	c := validConfig()
	applied := c.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, []string{EnvDeviceId, EnvKeyHex, EnvAPN, EnvCollectorURL}, applied)
	assert.Equal(t, "ENV000000001", c.DeviceId)
	assert.Equal(t, "env.apn", c.Modem.APN)
	assert.Equal(t, "http://env.test/receive", c.Collector.URL)
	// file key dropped, no conflict
	assert.Equal(t, "", c.Crypto.Key)
	assert.NoError(t, c.Validate())

	c = validConfig()
	assert.Len(t, c.ApplyEnv(func(string) string { return "" }), 0)
	assert.Equal(t, "ABC123456789", c.DeviceId)
}

func TestGlobalInit(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	assert.Equal(t, g, GetGlobal(ctx))

	bad := validConfig()
	bad.Crypto.Key = "short"
	err := g.Init(ctx, bad)
	assert.True(t, errors.IsNotValid(err), "err=%v", err)
	assert.Nil(t, g.Packager)

	require.NoError(t, g.Init(ctx, validConfig()))
	assert.NotNil(t, g.Packager)
	assert.Panics(t, func() { GetGlobal(context.Background()) })
}

func TestTestContext(t *testing.T) {
	t.Parallel()

	_, g, mock, _ := NewTestContext(t, `tick_interval_ms = 250`)
	assert.Equal(t, 250*time.Millisecond, g.Config.TickInterval())
	s, err := g.Modem()
	require.NoError(t, err)
	require.NoError(t, s.Init())
	assert.Equal(t, []string{"AT", "ATE0"}, mock.Sent())

	d, err := g.Gnss()
	require.NoError(t, err)
	assert.False(t, d.FixValid())

	sensor, err := g.Sensor()
	require.NoError(t, err)
	assert.Nil(t, sensor)
	assert.Nil(t, sensor.TryRead().Pressure)

	r, err := g.ModemReset()
	assert.NoError(t, err)
	assert.Nil(t, r)

	g.Stop()
	assert.NoError(t, g.CloseHardware())
}
