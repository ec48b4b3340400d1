// Package at is interactive AT console for field debugging of modem and bearer.
package at

import (
	"context"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/tracker/cmd/tracker/subcmd"
	"github.com/temoto/tracker/hardware/modem"
	"github.com/temoto/tracker/helpers/cli"
	"github.com/temoto/tracker/internal/state"
)

const usage = `syntax: one command per line
(session)
- /init      probe modem, disable echo
- /bearer    configure APN and open bearer
- /post TEXT POST TEXT to collector.url
- /state     show session state
(raw)
- AT...      send line, print everything received within window
- /wN        set window to N milliseconds, default 2000
`

const defaultWindow = 2 * time.Second

var Mod = subcmd.Mod{Name: "at", Usage: "interactive modem console", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.Config = config
	// key and device are not needed here, so config is not validated
	config.Modem.LogDebug = true
	s, err := g.Modem()
	if err != nil {
		return errors.Annotate(err, "modem")
	}

	c := &console{session: s, window: defaultWindow}
	return cli.MainLoop("tracker-at", c.exec(g), newCompleter())
}

type console struct {
	session *modem.Session
	window  time.Duration
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "/init", Description: "probe and echo off"},
		{Text: "/bearer", Description: "open bearer"},
		{Text: "/post", Description: "POST text to collector"},
		{Text: "/state", Description: "show session state"},
		{Text: "/wN", Description: "response window N ms"},
		{Text: modem.CmdSignal, Description: "signal quality"},
		{Text: modem.CmdBearerQuery, Description: "bearer status"},
		{Text: "help"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return cli.FilterSuggest(suggests, d)
	}
}

func (self *console) exec(g *state.Global) cli.Executor {
	return func(line string) {
		if err := self.do(g, line); err != nil {
			g.Log.Error(errors.ErrorStack(err))
		}
		g.Log.Infof("state=%s", self.session.State())
	}
}

func (self *console) do(g *state.Global, line string) error {
	switch {
	case line == "help" || line == "/help":
		g.Log.Info(usage)
		return nil
	case line == "/init":
		if self.session.State() != modem.StateUninitialized {
			self.session.Reset()
		}
		return self.session.Init()
	case line == "/bearer":
		return self.session.OpenBearer()
	case strings.HasPrefix(line, "/post "):
		resp, err := self.session.Post([]byte(strings.TrimPrefix(line, "/post ")))
		if err != nil {
			return err
		}
		g.Log.Infof("status=%d length=%d body=%q", resp.Status, resp.Length, resp.Body)
		return nil
	case line == "/state":
		g.Log.Infof("%s", self.session)
		return nil
	case strings.HasPrefix(line, "/w"):
		ms, err := strconv.ParseUint(line[2:], 10, 32)
		if err != nil {
			return errors.Annotatef(err, "line=%s", line)
		}
		self.window = time.Duration(ms) * time.Millisecond
		return nil
	case strings.HasPrefix(strings.ToUpper(line), "AT"):
		r, err := self.session.Command(line, self.window)
		if err != nil {
			return err
		}
		for _, l := range r.Lines {
			g.Log.Infof("< %s (%s)", l.Text, l.Kind)
		}
		g.Log.Infof("result=%s", r.Kind)
		return nil
	}
	return errors.Errorf("unknown command '%s', try help", line)
}
