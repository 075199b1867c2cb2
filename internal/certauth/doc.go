// Package certauth implements the deployment's private certificate
// authority: root key and self-signed CA certificate generation, leaf
// certificate issuance for named peers, and monotonic serial allocation
// backed by a locked counter file.
package certauth
