package domain

// CredentialVerifier is the capability the server borrows from the
// credential store: check a username/password pair.
type CredentialVerifier interface {
	Verify(username, password string) bool
}

// Sink receives messages that passed decryption and authorization.
// Deliver must not block; a full sink returns an error and the message
// is dropped with a log line, never a failed request.
type Sink interface {
	Deliver(msg Message) error
}
