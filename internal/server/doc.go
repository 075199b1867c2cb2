// Package server implements the authenticated transport server and its
// lifecycle supervisor.
//
// Three endpoints are exposed: GET /is/running (liveness),
// POST /client/auth (credential check, installs a session for the
// caller's address), and POST /message/submit (sealed message delivery,
// gated on a live session). Bodies are raw sealed envelope bytes.
//
// The supervisor runs the HTTP listener in a dedicated worker goroutine
// and a control loop that periodically sweeps expired sessions and
// watches for worker death. Start and Stop are both idempotent.
package server
