package certauth_test

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustpipe/internal/certauth"
	"trustpipe/internal/config"
	"trustpipe/internal/logger"
)

func newAuthority(t *testing.T) (*certauth.Authority, *config.Config) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	return certauth.New(cfg, logger.NewDiscard().GetLogger("test")), cfg
}

func loadCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestInit(t *testing.T) {
	ca, cfg := newAuthority(t)
	require.NoError(t, ca.Init(false))

	cert := loadCert(t, cfg.CertPath(config.CAName))
	require.True(t, cert.IsCA)
	require.True(t, cert.BasicConstraintsValid)
	require.Equal(t, config.CAName, cert.Subject.CommonName)
	require.Equal(t, int64(1), cert.SerialNumber.Int64())

	// 100-year validity window.
	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	require.InDelta(t, 36500*24*time.Hour, lifetime, float64(48*time.Hour))

	keyPEM, err := os.ReadFile(cfg.CertKeyPath(config.CAName))
	require.NoError(t, err)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	require.Equal(t, 4096, key.(*rsa.PrivateKey).N.BitLen())
}

func TestInit_IdempotentUnlessForced(t *testing.T) {
	ca, cfg := newAuthority(t)
	require.NoError(t, ca.Init(false))
	before, err := os.ReadFile(cfg.CertPath(config.CAName))
	require.NoError(t, err)

	require.NoError(t, ca.Init(false))
	after, err := os.ReadFile(cfg.CertPath(config.CAName))
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.NoError(t, ca.Init(true))
	forced, err := os.ReadFile(cfg.CertPath(config.CAName))
	require.NoError(t, err)
	require.NotEqual(t, before, forced)
}

func TestIssue(t *testing.T) {
	ca, cfg := newAuthority(t)
	require.NoError(t, ca.Init(false))
	require.NoError(t, ca.Issue("localhost", []string{"localhost", "127.0.0.1"}, certauth.Subject{}))

	caCert := loadCert(t, cfg.CertPath(config.CAName))
	leaf := loadCert(t, cfg.CertPath("localhost"))

	require.Equal(t, "localhost", leaf.Subject.CommonName)
	require.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	require.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
	require.False(t, leaf.IsCA)
	require.NoError(t, leaf.CheckSignatureFrom(caCert))

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	_, err := leaf.Verify(x509.VerifyOptions{Roots: pool, DNSName: "localhost"})
	require.NoError(t, err)
}

func TestIssue_DefaultAltNames(t *testing.T) {
	ca, cfg := newAuthority(t)
	require.NoError(t, ca.Init(false))
	require.NoError(t, ca.Issue("peer-a", nil, certauth.Subject{}))

	leaf := loadCert(t, cfg.CertPath("peer-a"))
	require.Equal(t, []string{"peer-a"}, leaf.DNSNames)
}

func TestIssue_SubjectFields(t *testing.T) {
	ca, cfg := newAuthority(t)
	require.NoError(t, ca.Init(false))
	require.NoError(t, ca.Issue("peer-b", nil, certauth.Subject{
		Country: "DE",
		Company: "Example GmbH",
	}))

	leaf := loadCert(t, cfg.CertPath("peer-b"))
	require.Equal(t, []string{"DE"}, leaf.Subject.Country)
	require.Equal(t, []string{"Example GmbH"}, leaf.Subject.Organization)
	// Omitted fields pick up defaults.
	require.Equal(t, []string{"US-STATE"}, leaf.Subject.Province)
}

func TestIssue_WithoutAuthority(t *testing.T) {
	ca, _ := newAuthority(t)
	require.Error(t, ca.Issue("localhost", nil, certauth.Subject{}))
}

func TestSerialMonotonicity(t *testing.T) {
	ca, cfg := newAuthority(t)
	require.NoError(t, ca.Init(false))

	names := []string{"one", "two", "three"}
	for _, name := range names {
		require.NoError(t, ca.Issue(name, nil, certauth.Subject{}))
	}

	// CA took serial 1; leaves follow with no gaps or repeats.
	for i, name := range names {
		leaf := loadCert(t, cfg.CertPath(name))
		require.Equal(t, int64(i+2), leaf.SerialNumber.Int64())
	}

	data, err := os.ReadFile(cfg.SerialPath())
	require.NoError(t, err)
	require.Equal(t, "4", string(data))
}
