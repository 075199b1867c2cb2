// Package envelope seals wire messages into opaque authenticated
// ciphertexts and back.
//
// A sealed payload is self-contained: a version byte, an issue timestamp,
// and a random XChaCha20-Poly1305 nonce precede the ciphertext, with the
// header authenticated as additional data. Callers never manage nonces.
//
// The package also owns the operational key's at-rest handling: the key
// is wrapped with a fixed obfuscation key embedded in the distribution
// before being written to disk. That wrap deters casual disk inspection
// and nothing more.
package envelope
