package types

import "math"

// Sensors is one on-demand ambient reading.
// nil means sensor unavailable or read failed, distinct from legitimate zero.
type Sensors struct {
	Pressure    *float64
	Temperature *float64
}

// Float returns pointer for optional sensor value, nil for NaN or Inf.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
