// Package config handles the trustpipe configuration file and the layout
// of the deployment environment directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	defaultEnvDirName    = ".trustpipe"
	defaultServerName    = "localhost"
	defaultHost          = "127.0.0.1"
	defaultProtocol      = "https"
	defaultLevel         = "INFO"
	defaultSweepInterval = 60
	defaultSessionTTL    = 3600

	// CAName is the common name of the deployment's root authority.
	CAName = "trustpipe-ca"

	// AdminUser is the default admin account installed at bootstrap.
	AdminUser = "ipc-admin"
)

// Server is the listener configuration.
type Server struct {
	// Name is the certificate common name clients dial the server by.
	Name string

	// Host is the bind address.
	Host string

	// Port is the listen port. 0 selects an ephemeral port.
	Port int

	// Protocol is either "http" or "https".
	Protocol string

	// SweepInterval is the session sweep period in seconds.
	SweepInterval int

	// SessionTTL is the authenticated session lifetime in seconds.
	SessionTTL int
}

func (s *Server) applyDefaults() {
	if s.Name == "" {
		s.Name = defaultServerName
	}
	if s.Host == "" {
		s.Host = defaultHost
	}
	if s.Protocol == "" {
		s.Protocol = defaultProtocol
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = defaultSweepInterval
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = defaultSessionTTL
	}
}

func (s *Server) validate() error {
	if s.Protocol != "http" && s.Protocol != "https" {
		return fmt.Errorf("config: invalid server protocol '%v'", s.Protocol)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", s.Port)
	}
	return nil
}

// Client is the dial configuration for the transport client.
type Client struct {
	// ServerName is the name the server's certificate was issued for.
	ServerName string

	// Port is the server port.
	Port int

	// Protocol is either "http" or "https".
	Protocol string
}

func (c *Client) applyDefaults() {
	if c.ServerName == "" {
		c.ServerName = defaultServerName
	}
	if c.Protocol == "" {
		c.Protocol = defaultProtocol
	}
}

func (c *Client) validate() error {
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("config: invalid client protocol '%v'", c.Protocol)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File is the log file; empty means stderr.
	File string

	// Level is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	Level string
}

func (l *Logging) applyDefaults() {
	if l.Level == "" {
		l.Level = defaultLevel
	}
}

// Config is the top-level configuration.
type Config struct {
	// EnvDir is the deployment environment directory holding keys,
	// certificates, the serial counter, and the user database.
	EnvDir string

	Logging *Logging
	Server  *Server
	Client  *Client
}

// FixupAndValidate fills in defaults and checks the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = new(Logging)
	}
	if c.Server == nil {
		c.Server = new(Server)
	}
	if c.Client == nil {
		c.Client = new(Client)
	}
	if c.EnvDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.EnvDir = filepath.Join(home, defaultEnvDirName)
	}
	c.Logging.applyDefaults()
	c.Server.applyDefaults()
	c.Client.applyDefaults()
	if err := c.Server.validate(); err != nil {
		return err
	}
	return c.Client.validate()
}

// Load parses and validates the TOML configuration at path. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated default configuration rooted at dir.
func Default(dir string) *Config {
	cfg := &Config{EnvDir: dir}
	// Only the missing-home lookup can fail, and EnvDir is set.
	_ = cfg.FixupAndValidate()
	return cfg
}

// Environment directory layout.

// CertPath returns the certificate file for a named identity.
func (c *Config) CertPath(name string) string {
	return filepath.Join(c.EnvDir, name+".crt")
}

// CertKeyPath returns the private key file for a named identity.
func (c *Config) CertKeyPath(name string) string {
	return filepath.Join(c.EnvDir, name+".key")
}

// SerialPath returns the CA serial counter file.
func (c *Config) SerialPath() string {
	return filepath.Join(c.EnvDir, "ca-serial")
}

// EnvelopeKeyPath returns the wrapped symmetric key file.
func (c *Config) EnvelopeKeyPath() string {
	return filepath.Join(c.EnvDir, "envelope.key")
}

// AdminCredPath returns the sealed default-admin credential file.
func (c *Config) AdminCredPath() string {
	return filepath.Join(c.EnvDir, "admin.cred")
}

// UserDBPath returns the user credential database file.
func (c *Config) UserDBPath() string {
	return filepath.Join(c.EnvDir, "users.db")
}
