package gnss

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/internal/types"
	"github.com/temoto/tracker/log2"
)

const (
	sentenceGGA         = "$GPGGA,140509.00,2333.0312,S,04637.9986,W,1,08,0.9,760.0,M,-5.0,M,,*7B"
	sentenceRMC         = "$GNRMC,140510.00,A,2333.0312,S,04637.9986,W,0.02,0.0,170126,,,A*76"
	sentenceGGANoFix    = "$GPGGA,140511.00,,,,,0,00,99.99,,,,,,*66"
	sentenceRMCVoid     = "$GNRMC,140512.00,V,,,,,,,170126,,,N*63"
	sentenceGSV         = "$GPGSV,1,1,01,05,40,083,46*40"
	sentenceBadChecksum = "$GPGGA,140509.00,2333.0312,S,04637.9986,W,1,08,0.9,760.0,M,-5.0,M,,*00"
)

func feedString(d *Decoder, s string) {
	for i := 0; i < len(s); i++ {
		d.Feed(s[i])
	}
}

func TestDecoderGGA(t *testing.T) {
	t.Parallel()

	d := NewDecoder(helpers.NewFakeClock(time.Time{}), log2.NewTest(t, log2.LDebug), 0)
	assert.False(t, d.FixValid())
	feedString(d, sentenceGGA+"\r\n")
	require.True(t, d.FixValid())
	f := d.CurrentFix()
	assert.InDelta(t, -23.55052, f.Latitude, 1e-6)
	assert.InDelta(t, -46.63331, f.Longitude, 1e-6)
	assert.Equal(t, 760.0, f.Altitude)
	assert.Equal(t, 0.9, f.HDOP)
	assert.Equal(t, types.TimeOfDay{Hour: 14, Minute: 5, Second: 9}, f.Time)
	assert.Equal(t, "14:5:9", f.Time.String())
	assert.Equal(t, Stats{Sentences: 1}, d.Stats())
}

func TestDecoderRMCKeepsAltitude(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil, log2.NewTest(t, log2.LDebug), 0)
	_, _ = d.Write([]byte(sentenceGGA + "\r\n" + sentenceGSV + "\r\n" + sentenceRMC + "\r\n"))
	f := d.CurrentFix()
	require.True(t, f.Valid)
	assert.Equal(t, 760.0, f.Altitude)
	assert.Equal(t, 10, f.Time.Second)
	assert.Equal(t, uint64(3), d.Stats().Sentences)
}

func TestDecoderLosesFix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		lost string
	}{
		{"gga", sentenceGGANoFix},
		{"rmc", sentenceRMCVoid},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			d := NewDecoder(nil, log2.NewTest(t, log2.LDebug), 0)
			feedString(d, sentenceGGA+"\n")
			require.True(t, d.FixValid())
			feedString(d, c.lost+"\n")
			assert.False(t, d.FixValid())
			// last known position stays for diagnostics
			assert.InDelta(t, -23.55052, d.CurrentFix().Latitude, 1e-6)
		})
	}
}

func TestDecoderGarbage(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil, log2.NewTest(t, log2.LDebug), 0)
	noise := string(bytes.Repeat([]byte{'x'}, maxLineLength*2))
	feedString(d, noise+"\r\n")
	feedString(d, sentenceBadChecksum+"\r\n")
	feedString(d, "\x00\xff"+sentenceGGA[:20]+"\r\n")
	assert.False(t, d.FixValid())

	// garbage right before sentence start is dropped on '$'
	feedString(d, "\x07\x07"+sentenceGGA+"\r\n")
	assert.True(t, d.FixValid())
	st := d.Stats()
	assert.Equal(t, uint64(1), st.Sentences)
	assert.Equal(t, uint64(2), st.Errors)
	assert.Equal(t, uint64(1), st.Overflows)
}

func TestDecoderMaxAge(t *testing.T) {
	t.Parallel()

	clock := helpers.NewFakeClock(time.Time{})
	d := NewDecoder(clock, log2.NewTest(t, log2.LDebug), 5*time.Second)
	feedString(d, sentenceRMC+"\r\n")
	assert.True(t, d.FixValid())
	clock.Advance(5 * time.Second)
	assert.True(t, d.FixValid())
	clock.Advance(time.Millisecond)
	assert.False(t, d.FixValid())
	assert.False(t, d.CurrentFix().Valid)

	feedString(d, sentenceRMC+"\r\n")
	assert.True(t, d.FixValid())
}

type chunkReader struct {
	chunks []string
	a      *alive.Alive
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		r.a.Stop()
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestPump(t *testing.T) {
	t.Parallel()

	a := alive.NewAlive()
	d := NewDecoder(nil, log2.NewTest(t, log2.LDebug), 0)
	r := &chunkReader{a: a, chunks: []string{sentenceGGA[:30], "", sentenceGGA[30:] + "\r\n"}}
	require.NoError(t, d.Pump(a, r))
	assert.True(t, d.FixValid())
}

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestPumpError(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil, log2.NewTest(t, log2.LDebug), 0)
	err := d.Pump(alive.NewAlive(), failReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gnss read")
}
