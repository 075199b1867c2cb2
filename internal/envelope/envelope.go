package envelope

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"trustpipe/internal/domain"
	"trustpipe/internal/util/memzero"
)

const (
	// KeySize is the size of an envelope key in bytes.
	KeySize = chacha20poly1305.KeySize

	formatVersion = 1

	// header: 1-byte version || 8-byte big-endian unix-seconds issue time
	headerSize = 1 + 8
)

var (
	// ErrMalformed marks a payload too short to be an envelope or
	// carrying an unknown format version.
	ErrMalformed = errors.New("envelope: malformed payload")

	// ErrIntegrity marks an authentication failure: the payload was
	// tampered with or sealed under a different key.
	ErrIntegrity = errors.New("envelope: integrity check failed")

	// ErrPayload marks a payload that decrypted fine but does not
	// deserialize to a string-keyed map.
	ErrPayload = errors.New("envelope: payload is not a string-keyed map")
)

// Canonical encoding keeps sealed bytes deterministic for a given message.
var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// Decode integers to int64 and map keys to strings so round-tripped
// messages compare equal and nested maps stay string-keyed.
var decMode, _ = cbor.DecOptions{
	IntDec:         cbor.IntDecConvertSigned,
	DefaultMapType: reflect.TypeOf(domain.Message(nil)),
}.DecMode()

// Seal serializes msg to its canonical byte form and encrypts it under
// key. The result is self-contained: version, issue time, and nonce ride
// along, and the header is authenticated with the ciphertext.
func Seal(msg domain.Message, key []byte) ([]byte, error) {
	raw, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to encode message: %w", err)
	}
	defer memzero.Zero(raw)
	return sealBytes(raw, key)
}

// Open reverses Seal. Failures are distinguishable: ErrMalformed for a
// truncated or unversioned blob, ErrIntegrity when authentication fails,
// ErrPayload when the plaintext is not a string-keyed map.
func Open(blob, key []byte) (domain.Message, error) {
	raw, err := openBytes(blob, key)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(raw)

	var msg domain.Message
	if err := decMode.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	if msg == nil {
		return nil, ErrPayload
	}
	return msg, nil
}

// IssuedAt extracts the freshness token from a sealed payload without
// opening it. The value is authenticated only once Open succeeds.
func IssuedAt(blob []byte) (time.Time, error) {
	if len(blob) < headerSize || blob[0] != formatVersion {
		return time.Time{}, ErrMalformed
	}
	sec := binary.BigEndian.Uint64(blob[1:headerSize])
	return time.Unix(int64(sec), 0), nil
}

func sealBytes(raw, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: bad key: %w", err)
	}

	out := make([]byte, headerSize+aead.NonceSize(), headerSize+aead.NonceSize()+len(raw)+aead.Overhead())
	out[0] = formatVersion
	binary.BigEndian.PutUint64(out[1:headerSize], uint64(time.Now().Unix()))
	nonce := out[headerSize : headerSize+aead.NonceSize()]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, raw, out[:headerSize]), nil
}

func openBytes(blob, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: bad key: %w", err)
	}
	if len(blob) < headerSize+aead.NonceSize()+aead.Overhead() || blob[0] != formatVersion {
		return nil, ErrMalformed
	}
	nonce := blob[headerSize : headerSize+aead.NonceSize()]
	raw, err := aead.Open(nil, nonce, blob[headerSize+aead.NonceSize():], blob[:headerSize])
	if err != nil {
		return nil, ErrIntegrity
	}
	return raw, nil
}
