// Package userdb stores username/password records in a bbolt database
// with bcrypt salted hashes, and provides the credential verification
// capability the transport server authenticates against.
package userdb
