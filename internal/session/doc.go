// Package session tracks which peer addresses hold a live authenticated
// session. A peer is authorized iff an entry exists for its address and
// the current time is before the entry's expiry.
package session
