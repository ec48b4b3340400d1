package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/temoto/tracker/cmd/tracker/at"
	"github.com/temoto/tracker/cmd/tracker/open"
	"github.com/temoto/tracker/cmd/tracker/run"
	"github.com/temoto/tracker/cmd/tracker/subcmd"
	"github.com/temoto/tracker/internal/state"
	"github.com/temoto/tracker/log2"
)

var log = log2.NewStderr(log2.LDebug)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	at.Mod,
	open.Mod,
}

func main() {
	flagset := flag.NewFlagSet("tracker", flag.ContinueOnError)
	flagConfig := flagset.String("config", "tracker.hcl", "")
	flagEnv := flagset.String("env", "", "dotenv file, default .env if exists")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: tracker [option...] command\n\nOptions:\n")
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-6s %s\n", m.Name, m.Usage)
		}
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	command := "run"
	if flagset.NArg() > 0 {
		command = flagset.Arg(0)
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Debugf("hello command=%s version=%s", mod.Name, BuildVersion)

	if err := loadEnv(*flagEnv); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if applied := config.ApplyEnv(os.Getenv); len(applied) != 0 {
		log.Debugf("config overrides from environment: %v", applied)
	}

	ctx, g := state.NewContext(log)
	if flagset.NArg() > 1 {
		ctx = subcmd.WithArgs(ctx, flagset.Args()[1:])
	}
	g.BuildVersion = BuildVersion
	go stopOnSignal(g)

	if err := mod.Main(ctx, config); err != nil {
		g.Fatal(err)
	}
	if err := g.CloseHardware(); err != nil {
		g.Error(err, "close hardware")
	}
}

// explicit path must exist, default .env is optional
func loadEnv(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
	}
	return errors.Annotatef(godotenv.Load(path), "dotenv path=%s", path)
}

func stopOnSignal(g *state.Global) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	g.Log.Infof("signal=%v stopping", sig)
	g.Stop()
}
