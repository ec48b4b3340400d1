package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/tracker/helpers"
)

var testKey = []byte("0123456789abcdef")

func TestNewKeyLength(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 15, 17, 24, 32} {
		_, err := New(make([]byte, n))
		require.Error(t, err, "len=%d", n)
		assert.True(t, errors.IsNotValid(err), "len=%d err=%v", n, err)
	}
	p, err := New(testKey)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestKeyFromConfig(t *testing.T) {
	t.Parallel()

	k, err := KeyFromConfig("0123456789abcdef", "")
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	k, err = KeyFromConfig("", "2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)
	assert.Len(t, k, KeySize)

	_, err = KeyFromConfig("a", "bb")
	assert.True(t, errors.IsNotValid(err))
	_, err = KeyFromConfig("", "zz")
	assert.True(t, errors.IsNotValid(err))
	_, err = KeyFromConfig("", "")
	assert.True(t, errors.IsNotValid(err))
}

func TestPad(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 64; n++ {
		in := bytes.Repeat([]byte{'x'}, n)
		padded := Pad(in, BlockSize)
		pad := len(padded) - n
		assert.Equal(t, 0, len(padded)%BlockSize)
		assert.True(t, pad >= 1 && pad <= BlockSize, "n=%d pad=%d", n, pad)
		assert.Equal(t, bytes.Repeat([]byte{byte(pad)}, pad), padded[n:])
		out, err := Unpad(padded, BlockSize)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
	assert.Equal(t, 32, PaddedLen(16, 16))
	assert.Equal(t, 16, PaddedLen(15, 16))
}

func TestUnpadInvalid(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		nil,
		make([]byte, 15),
		make([]byte, 16), // pad byte 0
		append(bytes.Repeat([]byte{1}, 15), 17),
		append(bytes.Repeat([]byte{1}, 14), 3, 2),
	}
	for _, c := range cases {
		_, err := Unpad(c, BlockSize)
		assert.True(t, errors.IsNotValid(err), "input=%x err=%v", c, err)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := New(testKey)
	require.NoError(t, err)
	rnd := helpers.RandUnix()
	for n := 1; n <= 1000; n++ {
		plain := make([]byte, n)
		rnd.Read(plain)
		e, err := p.Seal(plain)
		require.NoError(t, err)

		ciphertext, err := base64.StdEncoding.DecodeString(e.Payload)
		require.NoError(t, err)
		assert.Equal(t, PaddedLen(n, BlockSize), len(ciphertext))
		iv, err := base64.StdEncoding.DecodeString(e.IV)
		require.NoError(t, err)
		assert.Len(t, iv, IVSize)

		out, err := p.Open(e)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, plain, out, "n=%d", n)
	}
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := New(testKey)
	require.NoError(t, err)
	for n := 0; n <= 8*BlockSize; n += 7 {
		plain := make([]byte, n)
		_, _ = rand.Read(plain)
		sealed, err := p.Seal(plain)
		require.NoError(t, err)

		b, err := sealed.Marshal()
		require.NoError(t, err)
		e, err := Parse(b)
		require.NoError(t, err, "wire=%s", b)
		assert.Equal(t, sealed, e)

		iv, err := base64.StdEncoding.DecodeString(e.IV)
		require.NoError(t, err)
		assert.Len(t, iv, IVSize)
		ct, err := base64.StdEncoding.DecodeString(e.Payload)
		require.NoError(t, err)
		assert.Equal(t, 0, len(ct)%BlockSize, "n=%d", n)

		out, err := p.Open(e)
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, plain, out, "n=%d", n)
	}
}

func TestFreshIV(t *testing.T) {
	t.Parallel()

	p, err := New(testKey)
	require.NoError(t, err)
	plain := []byte(`{"device":"same"}`)
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		e, err := p.Seal(plain)
		require.NoError(t, err)
		_, dup := seen[e.IV]
		require.False(t, dup, "iv reused iteration=%d", i)
		seen[e.IV] = struct{}{}
	}
}

func TestKnownVector(t *testing.T) {
	t.Parallel()

	// NIST SP 800-38A F.2.1 CBC-AES128.Encrypt, first block
	key := helpers.MustHex("2b7e151628aed2a6abf7158809cf4f3c")
	iv := helpers.MustHex("000102030405060708090a0b0c0d0e0f")
	plain := helpers.MustHex("6bc1bee22e409f96e93d7e117393172a")
	p, err := New(key)
	require.NoError(t, err)
	p.rand = bytes.NewReader(iv)

	e, err := p.Seal(plain)
	require.NoError(t, err)
	ct, err := base64.StdEncoding.DecodeString(e.Payload)
	require.NoError(t, err)
	require.Len(t, ct, 32)
	assert.Equal(t, "7649abac8119b246cee98e9b12e9197d", hex.EncodeToString(ct[:16]))
	assert.Equal(t, base64.StdEncoding.EncodeToString(iv), e.IV)
}

func TestEnvelopeWire(t *testing.T) {
	t.Parallel()

	b, err := Envelope{Payload: "cGF5", IV: "aXY="}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"payload":"cGF5","iv":"aXY="}`, string(b))

	e, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, "cGF5", e.Payload)

	_, err = Parse([]byte(`{"payload":""}`))
	assert.True(t, errors.IsNotValid(err))
}

func TestOpenInvalid(t *testing.T) {
	t.Parallel()

	p, err := New(testKey)
	require.NoError(t, err)
	good, err := p.Seal([]byte("hello"))
	require.NoError(t, err)

	other, err := New([]byte("fedcba9876543210"))
	require.NoError(t, err)

	cases := []Envelope{
		{Payload: good.Payload, IV: "!!!"},
		{Payload: good.Payload, IV: base64.StdEncoding.EncodeToString([]byte("short"))},
		{Payload: "!!!", IV: good.IV},
		{Payload: base64.StdEncoding.EncodeToString([]byte("not-a-block")), IV: good.IV},
	}
	for _, c := range cases {
		_, err := p.Open(c)
		assert.Error(t, err)
	}
	// wrong key almost always breaks padding; accept rare valid padding as long as text differs
	if out, err := other.Open(good); err == nil {
		assert.NotEqual(t, []byte("hello"), out)
	}
}
