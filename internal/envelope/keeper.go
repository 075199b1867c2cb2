package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

// obfuscationKey wraps the operational key at rest. It is baked into the
// distribution, so this is a defense against casual disk inspection only,
// not a secrecy boundary against a determined local attacker.
var obfuscationKey = []byte{
	0x79, 0x38, 0x72, 0x4b, 0x6e, 0x55, 0x38, 0x4d,
	0x72, 0x36, 0x46, 0x77, 0x72, 0x57, 0x50, 0x44,
	0x6d, 0x45, 0x78, 0x65, 0x4c, 0x75, 0x61, 0x61,
	0x43, 0x4f, 0x36, 0x6e, 0x55, 0x51, 0x38, 0x59,
}

// Keeper owns the operational envelope key: generated once, persisted in
// wrapped form, unwrapped and cached for the process lifetime.
type Keeper struct {
	path string
	log  *logging.Logger

	mu  sync.Mutex
	key []byte
}

// NewKeeper returns a Keeper backed by the wrapped key file at path.
func NewKeeper(path string, log *logging.Logger) *Keeper {
	return &Keeper{path: path, log: log}
}

// Create generates and persists a fresh operational key. It is a no-op
// when the key file already exists, unless force is set.
func (k *Keeper) Create(force bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !force {
		if _, err := os.Stat(k.path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("envelope: failed to generate key: %w", err)
	}
	wrapped, err := sealBytes(key, obfuscationKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(k.path, wrapped, 0600); err != nil {
		return fmt.Errorf("envelope: failed to write key file: %w", err)
	}
	k.key = key
	k.log.Noticef("created envelope key at %s", k.path)
	return nil
}

// Load unwraps the persisted key and caches it. Subsequent calls return
// the cached copy.
func (k *Keeper) Load() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != nil {
		return k.key, nil
	}
	wrapped, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to read key file: %w", err)
	}
	key, err := openBytes(wrapped, obfuscationKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to unwrap key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrMalformed
	}
	k.key = key
	return k.key, nil
}
