// Package commands wires the trustpipe CLI: environment initialization,
// certificate issuance, user management, the server runner, and an
// end-to-end smoke test.
package commands
