package helpers

import (
	"math/rand"
	"time"
)

// RandUnix is seeded from clock, for randomized test inputs.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
