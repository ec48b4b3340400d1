// Package cli runs line oriented debug consoles.
package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

type Executor func(line string)
type Completer func(d prompt.Document) []prompt.Suggest

// MainLoop reads commands from stdin.
// Terminal gets go-prompt with completion, pipe input is executed line by line.
func MainLoop(tag string, exec Executor, complete Completer) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(prompt.Executor(exec), prompt.Completer(complete),
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return RunLines(os.Stdin, exec)
}

// RunLines executes every non-empty line from r.
func RunLines(r io.Reader, exec Executor) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exec(line)
	}
	return scanner.Err()
}

// FilterSuggest is fuzzy prefix filter for word before cursor.
func FilterSuggest(suggests []prompt.Suggest, d prompt.Document) []prompt.Suggest {
	w := d.GetWordBeforeCursor()
	if w == "" {
		return nil
	}
	return prompt.FilterHasPrefix(suggests, w, true)
}
