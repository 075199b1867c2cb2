// Package bootstrap initializes a deployment environment: user database,
// envelope key, default admin account, serial counter, root authority,
// and the server's own certificate. Every step is idempotent unless
// forced; forcing recreates the objects and invalidates prior trust.
package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/certauth"
	"trustpipe/internal/config"
	"trustpipe/internal/domain"
	"trustpipe/internal/envelope"
	"trustpipe/internal/logger"
	"trustpipe/internal/userdb"
)

// bcrypt hashes at most 72 bytes of input, so the generated password
// stays under that bound.
const adminPasswordLen = 64

// Run performs the initialization sequence against cfg's environment
// directory.
func Run(cfg *config.Config, force bool, backend *logger.Backend) error {
	log := backend.GetLogger("bootstrap")

	if err := os.MkdirAll(cfg.EnvDir, 0700); err != nil {
		return fmt.Errorf("bootstrap: failed to create environment dir: %w", err)
	}
	keeper := envelope.NewKeeper(cfg.EnvelopeKeyPath(), log)

	steps := []func() error{
		func() error { return createKey(keeper, force) },
		func() error { return createAdmin(cfg, keeper, force, log) },
		func() error { return createSerial(cfg, force) },
		func() error { return createCerts(cfg, force, log) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	log.Noticef("environment initialized at %s", cfg.EnvDir)
	return nil
}

func createKey(keeper *envelope.Keeper, force bool) error {
	return keeper.Create(force)
}

// createAdmin installs the default admin account with a random password
// and seals the pair to disk so operators never handle it directly.
func createAdmin(cfg *config.Config, keeper *envelope.Keeper, force bool, log *logging.Logger) error {
	if force {
		if err := removeIfExists(cfg.UserDBPath()); err != nil {
			return err
		}
	}
	db, err := userdb.Open(cfg.UserDBPath(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	if db.Exists(config.AdminUser) {
		return nil
	}
	creds := domain.Credentials{
		Username: config.AdminUser,
		Password: userdb.GeneratePassword(adminPasswordLen),
	}
	if err := db.Add(creds.Username, creds.Password); err != nil {
		return err
	}
	key, err := keeper.Load()
	if err != nil {
		return err
	}
	blob, err := envelope.Seal(creds.Map(), key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.AdminCredPath(), blob, 0600); err != nil {
		return fmt.Errorf("bootstrap: failed to write admin credentials: %w", err)
	}
	return nil
}

func createSerial(cfg *config.Config, force bool) error {
	path := cfg.SerialPath()
	if force {
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, []byte("0"), 0600); err != nil {
		return fmt.Errorf("bootstrap: failed to create serial file: %w", err)
	}
	return nil
}

// createCerts initializes the root authority and issues the server's own
// certificate for its configured name and host.
func createCerts(cfg *config.Config, force bool, log *logging.Logger) error {
	ca := certauth.New(cfg, log)
	if err := ca.Init(force); err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(cfg.CertPath(cfg.Server.Name)); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return ca.Issue(cfg.Server.Name,
		[]string{cfg.Server.Name, cfg.Server.Host}, certauth.Subject{})
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
