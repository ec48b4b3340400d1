// Package agent runs the transmission loop: every tick one fix+sensors record is
// assembled, sealed into envelope and posted to collector through the modem.
//
// Agent is the only owner of modem session, all modem access goes through its goroutine.
// GNSS decoder is fed concurrently by its own reader, agent only takes snapshots.
package agent

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/alive/v2"
	"github.com/temoto/tracker/hardware/envsensor"
	"github.com/temoto/tracker/hardware/gnss"
	"github.com/temoto/tracker/hardware/modem"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/internal/record"
	"github.com/temoto/tracker/internal/state"
	"github.com/temoto/tracker/log2"
)

type Outcome uint8

const (
	OutcomeSent Outcome = iota
	OutcomeNoFix
	OutcomePackFailed
	OutcomeLinkDown
	OutcomeFailed
)

var outcomes = []Outcome{OutcomeSent, OutcomeNoFix, OutcomePackFailed, OutcomeLinkDown, OutcomeFailed}

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeNoFix:
		return "no-fix"
	case OutcomePackFailed:
		return "pack-failed"
	case OutcomeLinkDown:
		return "link-down"
	case OutcomeFailed:
		return "failed"
	}
	return "invalid"
}

type Agent struct {
	Log   *log2.Log
	Stats *Stats
	// Watchdog is called after every cycle, e.g. systemd WATCHDOG=1
	Watchdog func()

	g       *state.Global
	gnss    *gnss.Decoder
	sensor  *envsensor.Sensor
	session *modem.Session
	reset   *modem.ResetLine
	backoff helpers.Backoff
	faulted bool
}

// New takes hardware from Global. Modem and GNSS are required,
// sensor and reset line failures are logged and agent works without them.
func New(ctx context.Context, reg prometheus.Registerer) (*Agent, error) {
	g := state.GetGlobal(ctx)
	self := &Agent{
		g:       g,
		Log:     g.Log.Clone(log2.LInfo),
		backoff: g.Config.Backoff(),
	}
	self.Log.SetPrefix("agent: ")

	self.Stats = NewStats(reg)
	// component loggers are cloned lazily below and inherit the hook
	countError := func(error) { self.Stats.Errors.Inc() }
	g.Log.SetErrorFunc(countError)
	self.Log.SetErrorFunc(countError)

	var err error
	if self.gnss, err = g.Gnss(); err != nil {
		return nil, errors.Annotate(err, "gnss")
	}
	self.Stats.registerGnss(reg, self.gnss)

	if self.session, err = g.Modem(); err != nil {
		return nil, errors.Annotate(err, "modem")
	}
	self.Stats.setModemState(self.session.State())
	self.session.OnState(self.Stats.setModemState)

	if self.sensor, err = g.Sensor(); err != nil {
		self.Log.Error(errors.Annotate(err, "sensor disabled"))
		self.sensor = nil
	}
	if self.reset, err = g.ModemReset(); err != nil {
		self.Log.Error(errors.Annotate(err, "modem reset line disabled"))
		self.reset = nil
	}
	return self, nil
}

// Cycle runs one sample-seal-post sequence. Every failure is local to the cycle.
func (self *Agent) Cycle() Outcome {
	start := self.g.Clock.Now()
	o := self.cycle()
	self.Stats.CycleDuration.Observe(self.g.Clock.Now().Sub(start).Seconds())
	self.Stats.observe(o)
	return o
}

func (self *Agent) cycle() Outcome {
	fix := self.gnss.CurrentFix()
	if !fix.Valid {
		self.Log.Debugf("no fix")
		return OutcomeNoFix
	}
	rec, ok := record.Assemble(self.g.Config.DeviceId, fix, self.sensor.TryRead())
	if !ok {
		return OutcomeNoFix
	}
	body, err := self.pack(rec)
	if err != nil {
		self.Log.Error(errors.Annotate(err, "pack"))
		return OutcomePackFailed
	}

	if self.session.State() != modem.StateBearerOpen {
		now := self.g.Clock.Now()
		if !self.backoff.Ready(now) {
			self.Log.Debugf("link down, next attempt in %v", self.backoff.Remaining(now))
			return OutcomeLinkDown
		}
		err = self.connect()
		self.backoff.Update(self.g.Clock.Now(), err == nil)
		if err != nil {
			self.Stats.LinkAttempts.WithLabelValues("fail").Inc()
			self.Log.Error(errors.Annotatef(err, "link, next attempt in %v", self.backoff.Delay()))
			return OutcomeLinkDown
		}
		self.Stats.LinkAttempts.WithLabelValues("ok").Inc()
	}

	resp, err := self.session.Post(body)
	if err != nil {
		self.Log.Error(errors.Annotate(err, "post"))
		return OutcomeFailed
	}
	self.Log.Infof("sent fix=%.5f,%.5f time=%s status=%d", fix.Latitude, fix.Longitude, fix.Time, resp.Status)
	if resp.Body != nil {
		self.Log.Debugf("collector response=%q", resp.Body)
	}
	return OutcomeSent
}

func (self *Agent) pack(rec record.Record) ([]byte, error) {
	plain, err := rec.Bytes()
	if err != nil {
		return nil, errors.Trace(err)
	}
	env, err := self.g.Packager.Seal(plain)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return env.Marshal()
}

// connect brings session to BearerOpen, pulsing reset line first
// if modem was left in undefined state.
func (self *Agent) connect() error {
	if self.faulted || self.session.State() == modem.StateFaulted {
		if self.reset != nil {
			self.Log.Infof("modem reset pulse")
			if err := self.reset.Pulse(); err != nil {
				self.Log.Error(errors.Annotate(err, "modem reset"))
			}
		}
		self.session.Reset()
		self.faulted = false
	}
	err := self.link()
	if modem.IsFaulted(err) {
		self.faulted = true
	}
	return err
}

func (self *Agent) link() error {
	if self.session.State() == modem.StateUninitialized {
		if err := self.session.Init(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(self.session.OpenBearer())
}

// Run calls Cycle every tick until a is stopped.
// Slow cycle is followed by next one immediately, missed ticks are not replayed.
func (self *Agent) Run(a *alive.Alive) {
	interval := self.g.Config.TickInterval()
	clock := self.g.Clock
	self.Log.Infof("running tick=%v", interval)
	stopCh := a.StopChan()
	next := clock.Now()
	for a.IsRunning() {
		self.Cycle()
		if self.Watchdog != nil {
			self.Watchdog()
		}
		now := clock.Now()
		next = nextTick(next, interval, now)
		select {
		case <-stopCh:
			return
		case <-clock.After(next.Sub(now)):
		}
	}
}

func nextTick(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if !now.Before(next) {
		return now
	}
	return next
}
