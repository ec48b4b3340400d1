// Package run is the main tracker service: sample, seal, post every tick.
package run

import (
	"context"
	"net/http"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/tracker/cmd/tracker/subcmd"
	"github.com/temoto/tracker/internal/agent"
	"github.com/temoto/tracker/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "telemetry service (default)", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a, err := agent.New(ctx, reg)
	if err != nil {
		return errors.Annotate(err, "agent init")
	}
	if addr := g.Config.Metrics.Listen; addr != "" {
		srv, err := serveMetrics(g, reg, addr)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	a.Watchdog = func() { subcmd.SdNotify(daemon.SdNotifyWatchdog) }
	subcmd.SdNotify(daemon.SdNotifyReady)
	a.Run(g.Alive)
	g.Log.Infof("stopped")
	return nil
}

func serveMetrics(g *state.Global, reg *prometheus.Registry, addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	if !g.Alive.Add(1) {
		return nil, errors.Errorf("metrics start after stop")
	}
	go func() {
		defer g.Alive.Done()
		g.Log.Infof("metrics listen=%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.Error(err, "metrics listen=%s", addr)
		}
	}()
	return srv, nil
}
