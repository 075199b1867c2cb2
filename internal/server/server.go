package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/config"
	"trustpipe/internal/domain"
	"trustpipe/internal/envelope"
	"trustpipe/internal/logger"
	"trustpipe/internal/session"
)

const (
	// startupGrace is how long Start waits to catch a listener that
	// dies immediately.
	startupGrace = 100 * time.Millisecond

	// controlJoinTimeout bounds Stop's wait for the control loop.
	controlJoinTimeout = 5 * time.Second

	// workerJoinTimeout bounds Stop's wait for the listener worker
	// after a forced close.
	workerJoinTimeout = 3 * time.Second
)

// ErrStopTimeout is returned by Stop when the listener worker would not
// terminate. This is fatal; the operator must investigate.
var ErrStopTimeout = errors.New("server: listener worker failed to terminate")

// State is the supervisor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Server hosts the transport endpoints and supervises the listener
// worker: Start spawns the worker and a control loop that sweeps the
// session table and watches for worker death; Stop tears both down.
type Server struct {
	cfg    *config.Config
	log    *logging.Logger
	creds  domain.CredentialVerifier
	sink   domain.Sink
	keeper *envelope.Keeper

	sessions *session.Table

	mu           sync.Mutex
	state        State
	boundAddr    string
	httpSrv      *http.Server
	workerCh     chan error
	workerExited bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	stopErr      error
}

// New constructs a Server. The sink receives authorized messages; a nil
// sink falls back to logging them.
func New(cfg *config.Config, creds domain.CredentialVerifier, sink domain.Sink, backend *logger.Backend) *Server {
	log := backend.GetLogger("server")
	if sink == nil {
		sink = NewLogSink(log)
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		creds:    creds,
		sink:     sink,
		keeper:   envelope.NewKeeper(cfg.EnvelopeKeyPath(), log),
		sessions: session.NewTable(nil),
	}
}

// Addr returns the bound listen address, useful with an ephemeral port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// State returns the supervisor state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the listener worker is up.
func (s *Server) Running() bool {
	return s.State() == StateRunning
}

// Start brings up the listener worker and the control loop. It is
// idempotent: starting a running server is a successful no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning, StateStarting:
		s.log.Infof("server is already running")
		return nil
	case StateStopping:
		return errors.New("server: cannot start while stopping")
	}
	s.state = StateStarting

	key, err := s.keeper.Load()
	if err != nil {
		s.state = StateStopped
		return err
	}
	h := &handler{
		key:      key,
		sessions: s.sessions,
		creds:    s.creds,
		sink:     s.sink,
		ttl:      time.Duration(s.cfg.Server.SessionTTL) * time.Second,
		log:      s.log,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port))
	if err != nil {
		s.state = StateStopped
		return fmt.Errorf("server: failed to listen: %w", err)
	}
	if s.cfg.Server.Protocol == "https" {
		tlsCfg, err := s.tlsConfig()
		if err != nil {
			ln.Close()
			s.state = StateStopped
			return err
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.boundAddr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           newRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.workerCh = make(chan error, 1)
	s.workerExited = false
	httpSrv, workerCh := s.httpSrv, s.workerCh
	go func() {
		err := httpSrv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		workerCh <- err
	}()

	// Catch a worker that dies on arrival before declaring victory.
	select {
	case err := <-s.workerCh:
		s.workerExited = true
		s.state = StateStopped
		return fmt.Errorf("server: listener failed to start: %w", err)
	case <-time.After(startupGrace):
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.controlLoop(s.stopCh, s.doneCh, s.workerCh)

	s.state = StateRunning
	s.log.Noticef("server %s listening on %s (%s)", s.cfg.Server.Name, s.boundAddr, s.cfg.Server.Protocol)
	return nil
}

// controlLoop sweeps expired sessions on a fixed interval and notices a
// dead listener worker.
func (s *Server) controlLoop(stopCh <-chan struct{}, doneCh chan<- struct{}, workerCh <-chan error) {
	defer close(doneCh)

	ticker := time.NewTicker(time.Duration(s.cfg.Server.SweepInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case err := <-workerCh:
			s.log.Errorf("listener worker died: %v", err)
			s.mu.Lock()
			s.workerExited = true
			s.state = StateStopped
			s.mu.Unlock()
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.log.Debugf("swept %d expired sessions", n)
			}
		}
	}
}

// Stop signals the control loop, joins it, and terminates the listener
// worker, forcibly if needed. Stopping a stopped server is a successful
// no-op. ErrStopTimeout means the worker would not die; that is fatal,
// and every later Stop keeps reporting it.
func (s *Server) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		s.log.Infof("server is not running")
		return nil
	case StateStopping:
		err := s.stopErr
		s.mu.Unlock()
		return err
	}
	s.state = StateStopping
	s.stopErr = nil
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(controlJoinTimeout):
		s.log.Errorf("control loop failed to stop")
		return s.failStop()
	}

	s.mu.Lock()
	exited := s.workerExited
	httpSrv, workerCh := s.httpSrv, s.workerCh
	s.mu.Unlock()

	if !exited {
		httpSrv.Close()
		select {
		case <-workerCh:
		case <-time.After(workerJoinTimeout):
			s.log.Errorf("listener worker failed to terminate")
			return s.failStop()
		}
	}

	s.mu.Lock()
	s.workerExited = true
	s.state = StateStopped
	s.mu.Unlock()
	s.log.Noticef("server stopped")
	return nil
}

// failStop records a fatal stop failure. The server stays in
// StateStopping so the error is not lost to a repeated Stop call.
func (s *Server) failStop() error {
	s.mu.Lock()
	s.stopErr = ErrStopTimeout
	s.mu.Unlock()
	return ErrStopTimeout
}

// tlsConfig builds the mutual-TLS listener configuration: the server's
// issued identity plus client verification against the deployment CA.
func (s *Server) tlsConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(
		s.cfg.CertPath(s.cfg.Server.Name), s.cfg.CertKeyPath(s.cfg.Server.Name))
	if err != nil {
		return nil, fmt.Errorf("server: failed to load server certificate: %w", err)
	}
	caPEM, err := os.ReadFile(s.cfg.CertPath(config.CAName))
	if err != nil {
		return nil, fmt.Errorf("server: failed to load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("server: failed to parse CA certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
