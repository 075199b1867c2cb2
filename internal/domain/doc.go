// Package domain holds the shared types and consumer-side interfaces of
// trustpipe: the wire message shape, credential pairs, and the contracts
// the transport server consumes (credential verification, message sink).
package domain
