package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"trustpipe/internal/config"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)

	require.Equal(t, dir, cfg.EnvDir)
	require.Equal(t, "localhost", cfg.Server.Name)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, "https", cfg.Server.Protocol)
	require.Equal(t, 60, cfg.Server.SweepInterval)
	require.Equal(t, 3600, cfg.Server.SessionTTL)
	require.Equal(t, "localhost", cfg.Client.ServerName)
	require.Equal(t, "https", cfg.Client.Protocol)
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.False(t, cfg.Logging.Disable)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trustpipe.toml")
	doc := `
EnvDir = "` + dir + `"

[Logging]
Level = "DEBUG"

[Server]
Name = "ipc.internal"
Port = 8443
SessionTTL = 120

[Client]
ServerName = "ipc.internal"
Port = 8443
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "ipc.internal", cfg.Server.Name)
	require.Equal(t, 8443, cfg.Server.Port)
	require.Equal(t, 120, cfg.Server.SessionTTL)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
	// Unset fields still pick up defaults.
	require.Equal(t, "https", cfg.Server.Protocol)
	require.Equal(t, 60, cfg.Server.SweepInterval)
	require.Equal(t, "ipc.internal", cfg.Client.ServerName)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "no-such.toml"))
	require.Error(t, err)
}

func TestInvalidProtocol(t *testing.T) {
	cfg := &config.Config{
		EnvDir: t.TempDir(),
		Server: &config.Server{Protocol: "ftp"},
	}
	require.Error(t, cfg.FixupAndValidate())
}

func TestInvalidPort(t *testing.T) {
	cfg := &config.Config{
		EnvDir: t.TempDir(),
		Server: &config.Server{Port: 70000},
	}
	require.Error(t, cfg.FixupAndValidate())
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)

	require.Equal(t, filepath.Join(dir, "localhost.crt"), cfg.CertPath("localhost"))
	require.Equal(t, filepath.Join(dir, "localhost.key"), cfg.CertKeyPath("localhost"))
	require.Equal(t, filepath.Join(dir, "ca-serial"), cfg.SerialPath())
	require.Equal(t, filepath.Join(dir, "envelope.key"), cfg.EnvelopeKeyPath())
	require.Equal(t, filepath.Join(dir, "admin.cred"), cfg.AdminCredPath())
	require.Equal(t, filepath.Join(dir, "users.db"), cfg.UserDBPath())
}
