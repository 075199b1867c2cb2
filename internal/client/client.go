package client

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/config"
	"trustpipe/internal/domain"
	"trustpipe/internal/envelope"
	"trustpipe/internal/logger"
)

const (
	// sendAttempts is the total number of submit tries per Send call.
	sendAttempts = 3

	// statusSessionExpired mirrors the server's session-expiry status.
	statusSessionExpired = 419
)

// ErrBadCredentials is returned when explicit credentials are missing a
// username or password.
var ErrBadCredentials = errors.New("client: credentials require username and password")

// Client submits sealed messages to a transport server, retrying through
// transient failures and re-authenticating on session expiry. Calls
// block for the duration of each round trip and any retry sleep.
type Client struct {
	cfg    *config.Config
	log    *logging.Logger
	keeper *envelope.Keeper

	// HTTP carries the transport, exported so tests can inject one.
	HTTP *http.Client

	// RetryDelay is the sleep after a connection-level failure.
	RetryDelay time.Duration

	mu   sync.Mutex
	auth *domain.Credentials
}

// New constructs a Client. A nil auth defers to the sealed default-admin
// credentials, loaded lazily on first use.
func New(cfg *config.Config, auth *domain.Credentials, backend *logger.Backend) (*Client, error) {
	if auth != nil && (auth.Username == "" || auth.Password == "") {
		return nil, ErrBadCredentials
	}
	log := backend.GetLogger("client")

	httpClient := http.DefaultClient
	if cfg.Client.Protocol == "https" {
		tlsCfg, err := clientTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
	}

	return &Client{
		cfg:        cfg,
		log:        log,
		keeper:     envelope.NewKeeper(cfg.EnvelopeKeyPath(), log),
		HTTP:       httpClient,
		RetryDelay: 2 * time.Second,
		auth:       auth,
	}, nil
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s://%s:%d%s",
		c.cfg.Client.Protocol, c.cfg.Client.ServerName, c.cfg.Client.Port, path)
}

// Running reports whether the server answers its liveness endpoint.
func (c *Client) Running() bool {
	url := c.url("/is/running")
	rsp, err := c.HTTP.Get(url)
	if err != nil {
		c.log.Errorf("%s is not reachable: %v", url, err)
		return false
	}
	defer drain(rsp)
	if rsp.StatusCode != http.StatusOK {
		c.log.Errorf("%s is not running: %s", url, rsp.Status)
		return false
	}
	return true
}

// Authenticate seals the client's credentials and presents them to the
// server, establishing a session for this client's address.
func (c *Client) Authenticate() bool {
	if !c.Running() {
		return false
	}
	creds, err := c.credentials()
	if err != nil {
		c.log.Errorf("no usable credentials: %v", err)
		return false
	}
	key, err := c.keeper.Load()
	if err != nil {
		c.log.Errorf("failed to load envelope key: %v", err)
		return false
	}
	payload, err := envelope.Seal(creds.Map(), key)
	if err != nil {
		c.log.Errorf("failed to seal credentials: %v", err)
		return false
	}
	code, err := c.post(c.url("/client/auth"), payload)
	if err != nil || code != http.StatusOK {
		c.log.Errorf("failed to authenticate with %s", c.cfg.Client.ServerName)
		return false
	}
	return true
}

// Send seals msg and submits it, retrying up to three attempts in total:
// re-authenticate on 401/419, back off on connection failure, plain
// retry on anything else.
func (c *Client) Send(msg domain.Message) bool {
	key, err := c.keeper.Load()
	if err != nil {
		c.log.Errorf("failed to load envelope key: %v", err)
		return false
	}
	payload, err := envelope.Seal(msg, key)
	if err != nil {
		c.log.Errorf("failed to seal message: %v", err)
		return false
	}

	url := c.url("/message/submit")
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		code, err := c.post(url, payload)
		switch {
		case err != nil:
			c.log.Infof("failed to connect to %s on attempt %d of %d",
				c.cfg.Client.ServerName, attempt, sendAttempts)
			time.Sleep(c.RetryDelay)
		case code == http.StatusOK:
			return true
		case code == http.StatusUnauthorized:
			c.log.Infof("not authenticated with %s, authenticating", c.cfg.Client.ServerName)
			c.Authenticate()
		case code == statusSessionExpired:
			c.log.Infof("[%d] session expired, re-authenticating", code)
			c.Authenticate()
		default:
			c.log.Errorf("unexpected status %d from %s", code, url)
		}
	}
	return false
}

// post returns the response status, or a non-nil error for
// connection-level failures.
func (c *Client) post(url string, payload []byte) (int, error) {
	rsp, err := c.HTTP.Post(url, "application/octet-stream", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer drain(rsp)
	return rsp.StatusCode, nil
}

// credentials returns the explicit credentials, or lazily unseals the
// default-admin pair installed at bootstrap.
func (c *Client) credentials() (domain.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.auth != nil {
		return *c.auth, nil
	}
	blob, err := os.ReadFile(c.cfg.AdminCredPath())
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("client: failed to read admin credentials: %w", err)
	}
	key, err := c.keeper.Load()
	if err != nil {
		return domain.Credentials{}, err
	}
	msg, err := envelope.Open(blob, key)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("client: failed to unseal admin credentials: %w", err)
	}
	creds, ok := domain.CredentialsFromMessage(msg)
	if !ok {
		return domain.Credentials{}, errors.New("client: malformed admin credentials")
	}
	c.auth = &creds
	return creds, nil
}

func drain(rsp *http.Response) {
	io.Copy(io.Discard, rsp.Body)
	rsp.Body.Close()
}

// clientTLSConfig presents the identity issued for the configured server
// name and trusts the deployment CA.
func clientTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(
		cfg.CertPath(cfg.Client.ServerName), cfg.CertKeyPath(cfg.Client.ServerName))
	if err != nil {
		return nil, fmt.Errorf("client: failed to load certificate: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CertPath(config.CAName))
	if err != nil {
		return nil, fmt.Errorf("client: failed to load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("client: failed to parse CA certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
