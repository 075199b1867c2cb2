package certauth

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	lockRetryDelay = 10 * time.Millisecond
	lockTimeout    = 5 * time.Second
)

// nextSerial performs the read-increment-rewrite cycle on the ca-serial
// file under an exclusive lock, so concurrent issuance cannot hand out a
// duplicate serial. A missing counter file starts from zero.
func (a *Authority) nextSerial() (*big.Int, error) {
	path := a.cfg.SerialPath()
	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var serial int64
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		serial, err = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("certauth: corrupt serial file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		serial = 0
	default:
		return nil, fmt.Errorf("certauth: failed to read serial file: %w", err)
	}

	serial++
	if err := os.WriteFile(path, []byte(strconv.FormatInt(serial, 10)), 0600); err != nil {
		return nil, fmt.Errorf("certauth: failed to rewrite serial file: %w", err)
	}
	return big.NewInt(serial), nil
}

// lockFile acquires an exclusive advisory lock by creating path with
// O_EXCL, retrying until lockTimeout elapses.
func lockFile(path string) (func(), error) {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			return func() {
				f.Close()
				os.Remove(path)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("certauth: failed to acquire serial lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("certauth: timed out waiting for serial lock %s", path)
		}
		time.Sleep(lockRetryDelay)
	}
}
