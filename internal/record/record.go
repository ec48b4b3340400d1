// Package record assembles canonical telemetry records.
package record

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/juju/errors"
	"github.com/temoto/tracker/internal/types"
)

// Record is immutable once assembled, one per tick.
type Record struct {
	DeviceId string
	Fix      types.Fix
	Sensors  types.Sensors
}

// Assemble returns ok=false when fix is not valid. That is normal idle state
// before satellite lock, not an error.
func Assemble(deviceId string, fix types.Fix, sensors types.Sensors) (Record, bool) {
	if !fix.Valid {
		return Record{}, false
	}
	return Record{DeviceId: deviceId, Fix: fix, Sensors: sensors}, true
}

// Field order and precision are fixed, collector may parse naively.
// battery is reserved and always null.
type wire struct {
	Device   string       `json:"device"`
	Lat      json.Number  `json:"lat"`
	Lon      json.Number  `json:"lon"`
	Alt      json.Number  `json:"alt"`
	HDOP     json.Number  `json:"hdop"`
	Time     string       `json:"time"`
	Pressure *json.Number `json:"pressure"`
	Temp     *json.Number `json:"temp"`
	Battery  *json.Number `json:"battery"`
}

func fixed(v float64, prec int) json.Number {
	return json.Number(strconv.FormatFloat(v, 'f', prec, 64))
}

func optional(v *float64, prec int) *json.Number {
	if v == nil {
		return nil
	}
	n := fixed(*v, prec)
	return &n
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := wire{
		Device:   r.DeviceId,
		Lat:      fixed(r.Fix.Latitude, 8),
		Lon:      fixed(r.Fix.Longitude, 8),
		Alt:      fixed(r.Fix.Altitude, 2),
		HDOP:     fixed(r.Fix.HDOP, 2),
		Time:     r.Fix.Time.String(),
		Pressure: optional(r.Sensors.Pressure, 2),
		Temp:     optional(r.Sensors.Temperature, 2),
	}
	// device id goes out as is, no \u003c for < > &
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, errors.Annotatef(err, "record device=%s", r.DeviceId)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Bytes is canonical plaintext for the packager.
func (r Record) Bytes() ([]byte, error) { return r.MarshalJSON() }
