// Package open decrypts envelopes like collector does, for checking keys and captured traffic.
package open

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/tracker/cmd/tracker/subcmd"
	"github.com/temoto/tracker/helpers/cli"
	"github.com/temoto/tracker/internal/envelope"
	"github.com/temoto/tracker/internal/state"
)

var Mod = subcmd.Mod{Name: "open", Usage: "decrypt envelope JSON from args or stdin lines", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	key, err := config.Key()
	if err != nil {
		return errors.Trace(err)
	}
	p, err := envelope.New(key)
	if err != nil {
		return errors.Trace(err)
	}

	failed := 0
	exec := func(line string) {
		plain, err := Open(p, []byte(line))
		if err != nil {
			failed++
			g.Log.Error(err)
			return
		}
		fmt.Fprintln(os.Stdout, string(plain))
	}

	inputs := subcmd.Args(ctx)
	if len(inputs) == 0 {
		if err := cli.RunLines(os.Stdin, exec); err != nil {
			return errors.Annotate(err, "stdin")
		}
	}
	for _, in := range inputs {
		exec(in)
	}
	if failed != 0 {
		return errors.Errorf("failed to open %d envelopes", failed)
	}
	return nil
}

// Open parses envelope JSON and returns plaintext record.
func Open(p *envelope.Packager, b []byte) ([]byte, error) {
	e, err := envelope.Parse(b)
	if err != nil {
		return nil, err
	}
	return p.Open(e)
}
