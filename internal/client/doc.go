// Package client implements the transport client: liveness checks,
// credential-based session establishment, and message submission with
// bounded retry and automatic re-authentication.
package client
