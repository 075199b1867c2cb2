package userdb

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/domain"
)

const usersBucket = "users"

// maxPasswordLen is bcrypt's input bound: bytes past 72 would be
// silently ignored at best, so longer passwords are rejected outright.
const maxPasswordLen = 72

// ErrUserExists is returned by Add when the username is already taken.
var ErrUserExists = errors.New("userdb: user already exists")

// ErrPasswordTooLong is returned by Add and Update for passwords over
// bcrypt's 72-byte limit.
var ErrPasswordTooLong = errors.New("userdb: password exceeds 72 bytes")

// DB is a bbolt backed username/password store with bcrypt hashing.
type DB struct {
	db  *bolt.DB
	log *logging.Logger
}

// Open opens or creates the user database at path.
func Open(path string, log *logging.Logger) (*DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("userdb: failed to open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("userdb: failed to create bucket: %w", err)
	}
	return &DB{db: db, log: log}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Add creates a user with a bcrypt hash of password. It fails if the
// user already exists.
func (d *DB) Add(username, password string) error {
	if username == "" {
		return errors.New("userdb: empty username")
	}
	if len(password) > maxPasswordLen {
		return ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("userdb: failed to hash password: %w", err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))
		if bkt.Get([]byte(username)) != nil {
			return ErrUserExists
		}
		return bkt.Put([]byte(username), hash)
	})
	if err != nil {
		return err
	}
	d.log.Infof("created user %s", username)
	return nil
}

// Update replaces an existing user's password. It fails if the user is
// unknown.
func (d *DB) Update(username, password string) error {
	if len(password) > maxPasswordLen {
		return ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("userdb: failed to hash password: %w", err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))
		if bkt.Get([]byte(username)) == nil {
			return fmt.Errorf("userdb: user %s does not exist", username)
		}
		return bkt.Put([]byte(username), hash)
	})
	if err != nil {
		return err
	}
	d.log.Infof("updated password for user %s", username)
	return nil
}

// Delete removes a user. Deleting an unknown user is an error.
func (d *DB) Delete(username string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))
		if bkt.Get([]byte(username)) == nil {
			return fmt.Errorf("userdb: user %s does not exist", username)
		}
		return bkt.Delete([]byte(username))
	})
}

// Exists reports whether a user is present.
func (d *DB) Exists(username string) bool {
	var exists bool
	_ = d.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(usersBucket)).Get([]byte(username)) != nil
		return nil
	})
	return exists
}

// List returns all usernames.
func (d *DB) List() ([]string, error) {
	var users []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(usersBucket)).ForEach(func(k, _ []byte) error {
			users = append(users, string(k))
			return nil
		})
	})
	return users, err
}

// Verify checks a username/password pair against the stored hash.
func (d *DB) Verify(username, password string) bool {
	var hash []byte
	_ = d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(usersBucket)).Get([]byte(username)); v != nil {
			hash = append([]byte(nil), v...)
		}
		return nil
	})
	if hash == nil {
		d.log.Errorf("invalid credentials for unknown user")
		return false
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		d.log.Errorf("invalid credentials for user %s", username)
		return false
	}
	return true
}

var _ domain.CredentialVerifier = (*DB)(nil)

const (
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
		"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	usernameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// GeneratePassword returns a random password of length n.
func GeneratePassword(n int) string {
	return randomString(passwordAlphabet, n)
}

// GenerateUsername returns a random alphabetic username of length n.
func GenerateUsername(n int) string {
	return randomString(usernameAlphabet, n)
}

func randomString(alphabet string, n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("userdb: rand.Int: " + err.Error())
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}
