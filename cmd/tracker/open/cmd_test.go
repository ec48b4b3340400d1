package open

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/internal/envelope"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	p, err := envelope.New(helpers.MustHex("000102030405060708090a0b0c0d0e0f"))
	require.NoError(t, err)
	plain := []byte(`{"device":"ABC123456789"}`)
	e, err := p.Seal(plain)
	require.NoError(t, err)
	b, err := e.Marshal()
	require.NoError(t, err)

	got, err := Open(p, b)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = Open(p, []byte(`{"payload":""}`))
	assert.Error(t, err)
	_, err = Open(p, []byte(`not json`))
	assert.Error(t, err)
}
