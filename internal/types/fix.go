package types

import (
	"strconv"
	"time"
)

// TimeOfDay is UTC time reported by satellite receiver, no date.
type TimeOfDay struct {
	Hour        int
	Minute      int
	Second      int
	Millisecond int
}

// String formats H:M:S without zero padding, e.g. 14:5:9.
// Collector parser expects exactly this shape.
func (t TimeOfDay) String() string {
	b := make([]byte, 0, 8)
	b = strconv.AppendInt(b, int64(t.Hour), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(t.Minute), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(t.Second), 10)
	return string(b)
}

// Fix is snapshot of decoder state taken at tick boundary.
type Fix struct {
	Latitude  float64 // decimal degrees
	Longitude float64 // decimal degrees
	Altitude  float64 // meters above mean sea level
	HDOP      float64
	Time      TimeOfDay
	Valid     bool

	// Updated is local monotonic time of last position update, zero if never.
	Updated time.Time
}
