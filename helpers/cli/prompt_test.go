package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLines(t *testing.T) {
	t.Parallel()

	input := "AT\n\n# comment\n  AT+CSQ  \n"
	var got []string
	err := RunLines(strings.NewReader(input), func(line string) { got = append(got, line) })
	require.NoError(t, err)
	assert.Equal(t, []string{"AT", "AT+CSQ"}, got)
}
