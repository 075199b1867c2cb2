package server

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"gopkg.in/op/go-logging.v1"

	"trustpipe/internal/domain"
	"trustpipe/internal/envelope"
	"trustpipe/internal/session"
)

// StatusSessionExpired tells a previously authenticated client its
// session lapsed, as opposed to 401 which means its credentials were
// rejected outright.
const StatusSessionExpired = 419

// maxBodyBytes caps request bodies well above any sane sealed message.
const maxBodyBytes = 1 << 20

type handler struct {
	key      []byte
	sessions *session.Table
	creds    domain.CredentialVerifier
	sink     domain.Sink
	ttl      time.Duration
	log      *logging.Logger
}

func newRouter(h *handler) *httprouter.Router {
	r := httprouter.New()
	r.GET("/is/running", h.isRunning)
	r.POST("/client/auth", h.clientAuth)
	r.POST("/message/submit", h.msgSubmit)
	return r
}

// isRunning is the liveness probe: always succeeds, no side effects.
func (h *handler) isRunning(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "running")
}

// clientAuth unseals a credential payload, verifies it against the
// credential store, and installs a session for the caller's address.
func (h *handler) clientAuth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	msg, ok := h.unseal(w, r)
	if !ok {
		return
	}
	addr := clientAddr(r)
	creds, ok := domain.CredentialsFromMessage(msg)
	if !ok || !h.creds.Verify(creds.Username, creds.Password) {
		h.log.Errorf("failed to validate credentials for %s", addr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.sessions.Refresh(addr, h.ttl)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "success")
}

// msgSubmit unseals a message payload and hands it to the sink if the
// caller holds a live session.
func (h *handler) msgSubmit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	msg, ok := h.unseal(w, r)
	if !ok {
		return
	}
	addr := clientAddr(r)
	if !h.sessions.Authorized(addr) {
		h.log.Infof("session expired or absent for %s", addr)
		http.Error(w, "expired", StatusSessionExpired)
		return
	}
	if err := h.sink.Deliver(msg); err != nil {
		// Soft failure: the message is dropped, the request is not.
		h.log.Warningf("dropped message from %s: %v", addr, err)
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "success")
}

// unseal reads and opens the request body. Any failure, from a short
// read to a tamper or a non-map payload, yields a generic 500 so the
// wire leaks nothing about which check tripped.
func (h *handler) unseal(w http.ResponseWriter, r *http.Request) (domain.Message, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.log.Errorf("failed to read request body from %s: %v", clientAddr(r), err)
		http.Error(w, "failed", http.StatusInternalServerError)
		return nil, false
	}
	msg, err := envelope.Open(body, h.key)
	if err != nil {
		h.log.Errorf("rejected payload from %s: %v", clientAddr(r), err)
		http.Error(w, "failed", http.StatusInternalServerError)
		return nil, false
	}
	return msg, true
}

// clientAddr resolves the caller's address, preferring the first
// X-Forwarded-For value. Only safe behind trusted proxies: anyone who can
// set that header can impersonate an address, so deployments must
// restrict the transport accordingly.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
