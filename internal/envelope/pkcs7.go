package envelope

import (
	"bytes"

	"github.com/juju/errors"
)

// PaddedLen is smallest multiple of blockSize strictly greater than n.
// Aligned input still gets full block of padding, removal stays unambiguous.
func PaddedLen(n, blockSize int) int { return (n/blockSize + 1) * blockSize }

// Pad returns new slice with PKCS7 padding, 1..blockSize bytes added.
func Pad(b []byte, blockSize int) []byte {
	plen := PaddedLen(len(b), blockSize)
	pad := plen - len(b)
	out := make([]byte, plen)
	copy(out, b)
	copy(out[len(b):], bytes.Repeat([]byte{byte(pad)}, pad))
	return out
}

// Unpad verifies and strips PKCS7 padding.
func Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.NotValidf("padded length=%d block=%d", len(b), blockSize)
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > blockSize {
		return nil, errors.NotValidf("padding byte=%d", pad)
	}
	for _, x := range b[len(b)-pad:] {
		if int(x) != pad {
			return nil, errors.NotValidf("padding content")
		}
	}
	return b[:len(b)-pad], nil
}
