package certauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/config"
)

const (
	keyBits      = 4096
	validityDays = 36500 // 100 years
)

// Subject carries the optional distinguished-name fields of an issued
// certificate. Zero fields are defaulted.
type Subject struct {
	Country    string
	State      string
	City       string
	Company    string
	Department string
	Email      string
}

func (s Subject) withDefaults() Subject {
	if s.Country == "" {
		s.Country = "US"
	}
	if s.State == "" {
		s.State = "US-STATE"
	}
	if s.City == "" {
		s.City = "US-CITY"
	}
	if s.Company == "" {
		s.Company = "US-Company"
	}
	if s.Department == "" {
		s.Department = "US-Department"
	}
	if s.Email == "" {
		s.Email = "myEmail@email.com"
	}
	return s
}

func (s Subject) name(commonName string) pkix.Name {
	return pkix.Name{
		Country:            []string{s.Country},
		Province:           []string{s.State},
		Locality:           []string{s.City},
		Organization:       []string{s.Company},
		OrganizationalUnit: []string{s.Department},
		CommonName:         commonName,
	}
}

// Authority is the deployment's root signing authority.
type Authority struct {
	cfg *config.Config
	log *logging.Logger
}

// New returns an Authority rooted at the configured environment directory.
func New(cfg *config.Config, log *logging.Logger) *Authority {
	return &Authority{cfg: cfg, log: log}
}

// Init generates the root key and self-signed CA certificate and persists
// both. It is a no-op when the CA certificate already exists, unless force
// is set; forcing invalidates the trust chain of everything issued before.
func (a *Authority) Init(force bool) error {
	if !force {
		if _, err := os.Stat(a.cfg.CertPath(config.CAName)); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("certauth: failed to generate CA key: %w", err)
	}
	serial, err := a.nextSerial()
	if err != nil {
		return err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               Subject{}.withDefaults().name(config.CAName),
		DNSNames:              []string{config.CAName},
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("certauth: failed to sign CA certificate: %w", err)
	}
	if err := a.savePair(config.CAName, der, key); err != nil {
		return err
	}
	a.log.Noticef("initialized certificate authority %s (serial %v)", config.CAName, serial)
	return nil
}

// Issue creates a key pair and leaf certificate for commonName, signed by
// the root authority, and persists both under the environment directory.
// A nil altNames defaults to the common name itself.
func (a *Authority) Issue(commonName string, altNames []string, subj Subject) error {
	caCert, caKey, err := a.loadCA()
	if err != nil {
		return err
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("certauth: failed to generate key for %s: %w", commonName, err)
	}
	serial, err := a.nextSerial()
	if err != nil {
		return err
	}
	if altNames == nil {
		altNames = []string{commonName}
	}

	now := time.Now()
	subj = subj.withDefaults()
	tmpl := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        subj.name(commonName),
		EmailAddresses: []string{subj.Email},
		NotBefore:      now,
		NotAfter:       now.AddDate(0, 0, validityDays),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, name := range altNames {
		if ip := net.ParseIP(name); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, name)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("certauth: failed to sign certificate for %s: %w", commonName, err)
	}
	if err := a.savePair(commonName, der, key); err != nil {
		return err
	}
	a.log.Noticef("issued certificate for %s (serial %v)", commonName, serial)
	return nil
}

func (a *Authority) loadCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(a.cfg.CertPath(config.CAName))
	if err != nil {
		return nil, nil, fmt.Errorf("certauth: failed to load CA certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(a.cfg.CertKeyPath(config.CAName))
	if err != nil {
		return nil, nil, fmt.Errorf("certauth: failed to load CA key: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, errors.New("certauth: CA certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("certauth: failed to parse CA certificate: %w", err)
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, errors.New("certauth: CA key is not PEM encoded")
	}
	rawKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("certauth: failed to parse CA key: %w", err)
	}
	key, ok := rawKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.New("certauth: CA key is not RSA")
	}
	return cert, key, nil
}

func (a *Authority) savePair(name string, certDER []byte, key *rsa.PrivateKey) error {
	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(a.cfg.CertPath(name), certOut, 0644); err != nil {
		return fmt.Errorf("certauth: failed to save certificate for %s: %w", name, err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("certauth: failed to encode key for %s: %w", name, err)
	}
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(a.cfg.CertKeyPath(name), keyOut, 0600); err != nil {
		return fmt.Errorf("certauth: failed to save key for %s: %w", name, err)
	}
	return nil
}
