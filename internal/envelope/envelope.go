// Package envelope encrypts plaintext records into transport envelopes.
//
// AES-128-CBC, PKCS7 padding always added, fresh random IV per record,
// ciphertext and IV base64 encoded separately:
// {"payload":"<base64 ciphertext>","iv":"<base64 16-byte IV>"}
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/juju/errors"
)

const (
	KeySize   = 16
	BlockSize = aes.BlockSize
	IVSize    = aes.BlockSize
)

type Envelope struct {
	Payload string `json:"payload"`
	IV      string `json:"iv"`
}

func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.Trace(err)
}

func Parse(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return e, errors.Annotate(err, "envelope parse")
	}
	if e.Payload == "" || e.IV == "" {
		return e, errors.NotValidf("envelope payload or iv empty")
	}
	return e, nil
}

// Packager holds pre-shared key, read-only after New.
type Packager struct {
	block cipher.Block
	rand  io.Reader
}

// New checks key once at startup.
// Wrong length is configuration error: errors.IsNotValid(err) == true.
func New(key []byte) (*Packager, error) {
	if len(key) != KeySize {
		return nil, errors.NotValidf("crypto key length=%d must be %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Annotate(err, "crypto key")
	}
	return &Packager{block: block, rand: rand.Reader}, nil
}

// KeyFromConfig accepts either raw 16 byte string or 32 hex digits.
func KeyFromConfig(raw, hexKey string) ([]byte, error) {
	switch {
	case raw != "" && hexKey != "":
		return nil, errors.NotValidf("crypto key and key_hex both set")
	case hexKey != "":
		b, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, errors.NewNotValid(err, "crypto key_hex")
		}
		return b, nil
	case raw != "":
		return []byte(raw), nil
	}
	return nil, errors.NotValidf("crypto key is empty")
}

// Seal pads, encrypts under new IV and frames result.
func (self *Packager) Seal(plain []byte) (Envelope, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(self.rand, iv); err != nil {
		return Envelope{}, errors.Annotate(err, "iv generate")
	}
	padded := Pad(plain, BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(self.block, iv).CryptBlocks(ciphertext, padded)
	return Envelope{
		Payload: base64.StdEncoding.EncodeToString(ciphertext),
		IV:      base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Open is collector side inverse of Seal.
func (self *Packager) Open(e Envelope) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil {
		return nil, errors.NewNotValid(err, "iv base64")
	}
	if len(iv) != IVSize {
		return nil, errors.NotValidf("iv length=%d", len(iv))
	}
	ciphertext, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, errors.NewNotValid(err, "payload base64")
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, errors.NotValidf("payload length=%d", len(ciphertext))
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(self.block, iv).CryptBlocks(padded, ciphertext)
	plain, err := Unpad(padded, BlockSize)
	return plain, errors.Annotate(err, "decrypt")
}
