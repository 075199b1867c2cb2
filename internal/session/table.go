package session

import (
	"sync"
	"time"
)

// Table maps a peer address to its authentication expiry. It is shared
// between the request handlers and the supervisor's sweep loop; every
// operation is an atomic critical section, including the check-then-delete
// inside Authorized, so a sweep and an authorization check on the same
// address cannot race.
type Table struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewTable returns an empty table. A nil clock means time.Now.
func NewTable(clock func() time.Time) *Table {
	if clock == nil {
		clock = time.Now
	}
	return &Table{
		entries: make(map[string]time.Time),
		now:     clock,
	}
}

// Refresh installs or renews the session for addr, expiring after ttl.
func (t *Table) Refresh(addr string, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[addr] = t.now().Add(ttl)
}

// Authorized reports whether addr holds an unexpired session. An expired
// entry is removed on the way out.
func (t *Table) Authorized(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.entries[addr]
	if !ok {
		return false
	}
	if !t.now().Before(expiry) {
		delete(t.entries, addr)
		return false
	}
	return true
}

// Remove purges addr's session, expired or not.
func (t *Table) Remove(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

// Sweep removes every expired entry and returns how many were dropped.
func (t *Table) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for addr, expiry := range t.entries {
		if !now.Before(expiry) {
			delete(t.entries, addr)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries, expired or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
