// Package gnss decodes NMEA 0183 stream from satellite receiver into position fix.
package gnss

import (
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/temoto/tracker/helpers"
	"github.com/temoto/tracker/internal/types"
	"github.com/temoto/tracker/log2"
)

// NMEA limit is 82, some receivers emit longer proprietary sentences.
const maxLineLength = 128

type Stats struct {
	Sentences uint64
	Errors    uint64
	Overflows uint64
}

// Decoder is fed bytes by reader goroutine while agent takes snapshots,
// so all methods are safe for concurrent use.
type Decoder struct {
	Log    *log2.Log
	clock  helpers.Clock
	maxAge time.Duration

	mu       sync.Mutex
	line     []byte
	overflow bool
	fix      types.Fix
	stats    Stats
}

// NewDecoder maxAge<=0 disables staleness check.
func NewDecoder(clock helpers.Clock, log *log2.Log, maxAge time.Duration) *Decoder {
	if clock == nil {
		clock = helpers.SystemClock{}
	}
	return &Decoder{
		Log:    log,
		clock:  clock,
		maxAge: maxAge,
		line:   make([]byte, 0, maxLineLength),
	}
}

func (self *Decoder) Feed(b byte) {
	self.mu.Lock()
	self.feed(b)
	self.mu.Unlock()
}

// Write implements io.Writer so port can be copied into decoder.
func (self *Decoder) Write(p []byte) (int, error) {
	self.mu.Lock()
	for _, b := range p {
		self.feed(b)
	}
	self.mu.Unlock()
	return len(p), nil
}

func (self *Decoder) FixValid() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.valid()
}

// CurrentFix returns copy of decoder state, Valid includes staleness check.
func (self *Decoder) CurrentFix() types.Fix {
	self.mu.Lock()
	defer self.mu.Unlock()
	f := self.fix
	f.Valid = self.valid()
	return f
}

func (self *Decoder) Stats() Stats {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.stats
}

func (self *Decoder) valid() bool {
	if !self.fix.Valid {
		return false
	}
	return self.maxAge <= 0 || self.clock.Now().Sub(self.fix.Updated) <= self.maxAge
}

func (self *Decoder) feed(b byte) {
	switch b {
	case '\n', '\r':
		if len(self.line) > 0 && !self.overflow {
			self.sentence(string(self.line))
		}
		self.line = self.line[:0]
		self.overflow = false
		return
	case '$':
		// sentence start resyncs after garbage
		self.line = self.line[:0]
		self.overflow = false
	}
	if self.overflow {
		return
	}
	if len(self.line) >= maxLineLength {
		self.overflow = true
		self.stats.Overflows++
		return
	}
	self.line = append(self.line, b)
}

func (self *Decoder) sentence(raw string) {
	if raw[0] != '$' {
		return
	}
	s, err := nmea.Parse(raw)
	if err != nil {
		self.stats.Errors++
		self.Log.Debugf("gnss parse line=%q err=%v", raw, err)
		return
	}
	self.stats.Sentences++
	now := self.clock.Now()
	switch v := s.(type) {
	case nmea.GGA:
		if v.FixQuality == nmea.Invalid || v.FixQuality == "" {
			self.fix.Valid = false
			return
		}
		self.fix.Latitude = v.Latitude
		self.fix.Longitude = v.Longitude
		self.fix.Altitude = v.Altitude
		self.fix.HDOP = v.HDOP
		self.setTime(v.Time)
		self.fix.Valid = true
		self.fix.Updated = now
	case nmea.RMC:
		if v.Validity != nmea.ValidRMC {
			self.fix.Valid = false
			return
		}
		self.fix.Latitude = v.Latitude
		self.fix.Longitude = v.Longitude
		self.setTime(v.Time)
		self.fix.Valid = true
		self.fix.Updated = now
	}
}

func (self *Decoder) setTime(t nmea.Time) {
	if !t.Valid {
		return
	}
	self.fix.Time = types.TimeOfDay{
		Hour:        t.Hour,
		Minute:      t.Minute,
		Second:      t.Second,
		Millisecond: t.Millisecond,
	}
}
