package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/temoto/tracker/hardware/modem"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/log2"
)

const TestConfig = `
device_id = "ABC123456789"
crypto { key_hex = "000102030405060708090a0b0c0d0e0f" }
modem { apn = "internet" log_debug = true }
collector { url = "http://collector.test/public/receive" }
`

// NewTestContext returns Global with simulated modem and fake clock.
// Extra HCL in confString is applied on top of TestConfig.
func NewTestContext(t testing.TB, confString string) (context.Context, *Global, *modem.Mock, *helpers.FakeClock) {
	fs := NewMockFullReader(map[string]string{
		"test-base":   TestConfig,
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("tracker_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	clock := helpers.NewFakeClock(time.Time{})
	g.Clock = clock
	g.BuildVersion = "test"
	g.MustInit(ctx, MustReadConfig(log, fs, "test-base", "test-inline"))

	mock := modem.NewMockSIM800(clock)
	g.Hardware.Modem.Device = mock
	return ctx, g, mock, clock
}
