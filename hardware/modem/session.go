// Package modem drives SIM800 family cellular modem over AT command protocol:
// probe, packet data bearer setup and HTTP POST of one payload per cycle.
//
// Session is not safe for concurrent use, agent owns it exclusively.
// Response windows block the caller for up to their full length, GNSS decoding
// runs in its own goroutine and is not stalled by them.
package modem

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/log2"
)

const ContentType = "application/json"

// Response windows. Unexported values are modem timings, not worth configuring.
const (
	DefaultProbeTimeout  = 1000 * time.Millisecond
	DefaultActionTimeout = 6000 * time.Millisecond
	DefaultCycleBudget   = 15 * time.Second

	commandTimeout   = 500 * time.Millisecond
	bearerOpenWindow = 2000 * time.Millisecond
	bearerQueryWait  = 3000 * time.Millisecond
	termWindow       = 300 * time.Millisecond
	downloadWindow   = 1000 * time.Millisecond
	payloadWindow    = 2000 * time.Millisecond
	readWindow       = 2000 * time.Millisecond
	dataInputMs      = 10000
)

type Config struct {
	APN          string
	APNUser      string
	APNPassword  string
	URL          string
	ProbeTimeout time.Duration
	// ActionTimeout bounds wait for +HTTPACTION result after POST is started.
	ActionTimeout time.Duration
	// CycleBudget bounds whole Post, including terminate steps.
	CycleBudget time.Duration
	ReadBody    bool
}

func (c *Config) setDefaults() {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = DefaultCycleBudget
	}
}

// Response of collector, Body only when Config.ReadBody.
type Response struct {
	Status int
	Length int
	Body   []byte
}

type Session struct {
	Log     *log2.Log
	dev     Device
	clock   helpers.Clock
	config  Config
	state   State
	onState func(State)

	deadline time.Time // zero outside of Post
}

func NewSession(dev Device, clock helpers.Clock, log *log2.Log, config Config) *Session {
	if clock == nil {
		clock = helpers.SystemClock{}
	}
	config.setDefaults()
	return &Session{
		Log:    log,
		dev:    dev,
		clock:  clock,
		config: config,
	}
}

func (self *Session) State() State { return self.state }

// OnState registers hook called after every state change.
func (self *Session) OnState(f func(State)) { self.onState = f }

func (self *Session) setState(s State) {
	if s == self.state {
		return
	}
	self.Log.Debugf("modem state %s -> %s", self.state, s)
	self.state = s
	if self.onState != nil {
		self.onState(s)
	}
}

// Reset forgets protocol state, e.g. after hardware reset pulse.
func (self *Session) Reset() { self.setState(StateUninitialized) }

// Init probes modem and disables echo.
// Uninitialized|Faulted -> Ready or unchanged + ErrModemUnresponsive.
func (self *Session) Init() error {
	switch self.state {
	case StateUninitialized, StateFaulted:
	default:
		return errors.Annotatef(ErrState, "Init in state=%s", self.state)
	}

	r, err := self.exec(CmdProbe, self.config.ProbeTimeout, expectFinal)
	if err != nil {
		return err
	}
	if !r.Ok() {
		return errors.Annotatef(ErrModemUnresponsive, "probe result=%s", r)
	}
	// echo may stay on, echo lines are ignored anyway
	if r, err = self.exec(CmdEchoOff, commandTimeout, expectFinal); err != nil {
		return err
	} else if !r.Ok() {
		self.Log.Debugf("modem echo off result=%s", r)
	}
	self.setState(StateReady)
	return nil
}

// OpenBearer configures packet data context and opens it.
// Ready -> BearerOpen or unchanged + ErrBearerSetupFailed.
func (self *Session) OpenBearer() error {
	if self.state != StateReady {
		return errors.Annotatef(ErrState, "OpenBearer in state=%s", self.state)
	}

	params := [][2]string{{"Contype", "GPRS"}, {"APN", self.config.APN}}
	if self.config.APNUser != "" {
		params = append(params, [2]string{"USER", self.config.APNUser})
	}
	if self.config.APNPassword != "" {
		params = append(params, [2]string{"PWD", self.config.APNPassword})
	}
	for _, p := range params {
		r, err := self.exec(CmdBearerParam(p[0], p[1]), commandTimeout, expectFinal)
		if err != nil {
			return err
		}
		if !r.Ok() {
			self.Log.Debugf("modem bearer param=%s result=%s", p[0], r)
		}
	}

	// ERROR here usually means bearer is already open, query decides
	r, err := self.exec(CmdBearerOpen, bearerOpenWindow, expectFinal)
	if err != nil {
		return err
	}
	if !r.Ok() {
		self.Log.Debugf("modem bearer open result=%s", r)
	}

	r, err = self.exec(CmdBearerQuery, bearerQueryWait, expectFinal)
	if err != nil {
		return err
	}
	line, ok := r.Find(PrefixBearer)
	if !ok {
		return errors.Annotatef(ErrBearerSetupFailed, "query result=%s", r)
	}
	bs, err := ParseBearer(line.Text)
	if err != nil {
		return errors.Annotatef(ErrBearerSetupFailed, "query parse err=%v", err)
	}
	if bs.Status != BearerConnected {
		return errors.Annotatef(ErrBearerSetupFailed, "bearer status=%d", bs.Status)
	}
	self.Log.Infof("modem bearer open addr=%s", bs.Addr)
	self.setState(StateBearerOpen)
	return nil
}

// Post sends body to Config.URL as one HTTP POST.
// BearerOpen -> RequestInFlight -> BearerOpen, or Faulted on device/protocol failure.
// HTTP service is terminated on every exit path.
func (self *Session) Post(body []byte) (Response, error) {
	if self.state != StateBearerOpen {
		return Response{}, errors.Annotatef(ErrState, "Post in state=%s", self.state)
	}
	self.setState(StateRequestInFlight)
	self.deadline = self.clock.Now().Add(self.config.CycleBudget)

	resp, err := self.post(body)

	// terminate gets own window, budget may be exhausted already
	self.deadline = time.Time{}
	r, termErr := self.exec(CmdHttpTerm, termWindow, expectFinal)
	switch {
	case termErr != nil && err == nil:
		err = termErr
	case termErr != nil:
		err = errors.Annotatef(ErrFaulted, "%v, then terminate: %v", err, termErr)
	case !r.Ok():
		self.Log.Debugf("modem terminate result=%s", r)
	}

	if IsFaulted(err) {
		self.setState(StateFaulted)
	} else {
		self.setState(StateBearerOpen)
	}
	return resp, err
}

func (self *Session) post(body []byte) (Response, error) {
	// stale session from previous failed cycle, ERROR expected when none
	if _, err := self.exec(CmdHttpTerm, termWindow, expectFinal); err != nil {
		return Response{}, err
	}

	r, err := self.exec(CmdHttpInit, commandTimeout, expectFinal)
	if err != nil {
		return Response{}, err
	}
	if !r.Ok() {
		// fresh session must init, modem state is unknown
		return Response{}, errors.Annotatef(ErrFaulted, "http init result=%s", r)
	}

	paras := []string{
		CmdHttpParam("CID", 1),
		CmdHttpParam("URL", self.config.URL),
		CmdHttpParam("CONTENT", ContentType),
	}
	for _, cmd := range paras {
		if err = self.step(cmd, commandTimeout, expectFinal); err != nil {
			return Response{}, err
		}
	}

	if err = self.step(CmdHttpData(len(body), dataInputMs), downloadWindow, expectPrompt); err != nil {
		return Response{}, err
	}
	if err = self.dev.Write(body); err != nil {
		return Response{}, errors.Annotate(ErrFaulted, err.Error())
	}
	self.Log.Debugf("modem > (%d bytes)", len(body))
	if r, err = self.wait("", payloadWindow, expectFinal); err != nil {
		return Response{}, err
	} else if !r.Ok() {
		return Response{}, errors.Annotatef(ErrTransmissionFailed, "payload result=%s", r)
	}

	// one window for OK and result, both may arrive in single burst
	if r, err = self.exec(CmdHttpActionPost, self.config.ActionTimeout, expectData(PrefixHttpAction)); err != nil {
		return Response{}, err
	}
	if !r.Ok() {
		return Response{}, errors.Annotatef(ErrTransmissionFailed, "action result=%s", r)
	}
	line, _ := r.Find(PrefixHttpAction)
	status, err := ParseAction(line.Text)
	if err != nil {
		return Response{}, errors.Annotatef(ErrTransmissionFailed, "action parse err=%v", err)
	}
	resp := Response{Status: status.Status, Length: status.Length}
	if !status.Success() {
		return resp, errors.Annotatef(ErrTransmissionFailed, "http status=%d", status.Status)
	}

	if self.config.ReadBody && status.Length > 0 {
		if r, err = self.exec(CmdHttpRead, readWindow, expectBody); err != nil {
			return resp, err
		}
		if b, ok := ParseReadBody(r.Raw); ok && r.Ok() {
			resp.Body = b
		} else {
			self.Log.Debugf("modem read body result=%s", r)
		}
	}
	return resp, nil
}

// step runs command which must succeed for transmission to continue.
func (self *Session) step(cmd string, window time.Duration, e expectation) error {
	r, err := self.exec(cmd, window, e)
	if err != nil {
		return err
	}
	if !r.Ok() {
		return errors.Annotatef(ErrTransmissionFailed, "cmd=%s result=%s", cmd, r)
	}
	return nil
}

// Command sends arbitrary line and returns everything received within window.
// Used by interactive console, does not change session state.
func (self *Session) Command(cmd string, window time.Duration) (Result, error) {
	return self.exec(cmd, window, expectFinal)
}

// exec sends cmd and waits until expectation is met or window passes.
// error is returned only for device failure, protocol outcome is in Result.
func (self *Session) exec(cmd string, window time.Duration, e expectation) (Result, error) {
	if err := self.dev.SendLine(cmd); err != nil {
		return Result{}, errors.Annotatef(ErrFaulted, "send cmd=%s err=%v", cmd, err)
	}
	self.Log.Debugf("modem > %s", cmd)
	return self.wait(cmd, window, e)
}

func (self *Session) wait(echo string, window time.Duration, e expectation) (Result, error) {
	start := self.clock.Now()
	deadline := start.Add(window)
	if !self.deadline.IsZero() && self.deadline.Before(deadline) {
		deadline = self.deadline
	}
	raw := ""
	for {
		remaining := deadline.Sub(self.clock.Now())
		if remaining <= 0 {
			break
		}
		chunk, err := self.dev.ReadAvailable(remaining)
		if err != nil {
			return Result{}, errors.Annotatef(ErrFaulted, "read err=%v", err)
		}
		if chunk == "" {
			break
		}
		raw += chunk
		if _, ok := e.done(raw, echo); ok {
			break
		}
	}
	r := e.classify(raw, echo)
	self.Log.Debugf("modem < %q (%s) %v", raw, r.Kind, self.clock.Now().Sub(start))
	incomplete := r.Kind == ResultTimeout || r.Kind == ResultMalformed
	if incomplete && !self.deadline.IsZero() && !self.clock.Now().Before(self.deadline) {
		return r, errors.Annotatef(ErrTransmissionFailed, "cycle budget %v exceeded", self.config.CycleBudget)
	}
	return r, nil
}

func (self *Session) String() string {
	return fmt.Sprintf("modem(state=%s url=%s)", self.state, self.config.URL)
}
