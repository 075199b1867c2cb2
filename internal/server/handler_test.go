package server

import (
	"bytes"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustpipe/internal/domain"
	"trustpipe/internal/envelope"
	"trustpipe/internal/logger"
	"trustpipe/internal/session"
)

type stubCreds struct {
	user, pass string
}

func (s stubCreds) Verify(user, pass string) bool {
	return user == s.user && pass == s.pass
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type handlerFixture struct {
	key   []byte
	table *session.Table
	clock *testClock
	sink  *QueueSink
	srv   *httptest.Server
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	key := make([]byte, envelope.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	clock := &testClock{now: time.Now()}
	table := session.NewTable(clock.Now)
	sink := NewQueueSink(16)
	h := &handler{
		key:      key,
		sessions: table,
		creds:    stubCreds{user: "admin", pass: "secret"},
		sink:     sink,
		ttl:      time.Hour,
		log:      logger.NewDiscard().GetLogger("test"),
	}
	srv := httptest.NewServer(newRouter(h))
	t.Cleanup(srv.Close)
	return &handlerFixture{key: key, table: table, clock: clock, sink: sink, srv: srv}
}

func (f *handlerFixture) seal(t *testing.T, msg domain.Message) []byte {
	t.Helper()
	blob, err := envelope.Seal(msg, f.key)
	require.NoError(t, err)
	return blob
}

// post sends a sealed body with a forwarded-for address so tests control
// the session key the handler sees.
func (f *handlerFixture) post(t *testing.T, path, addr string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", addr)
	rsp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	rsp.Body.Close()
	return rsp
}

func TestIsRunning(t *testing.T) {
	f := newHandlerFixture(t)
	rsp, err := http.Get(f.srv.URL + "/is/running")
	require.NoError(t, err)
	rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)
}

func TestClientAuth_Success(t *testing.T) {
	f := newHandlerFixture(t)
	creds := domain.Credentials{Username: "admin", Password: "secret"}

	rsp := f.post(t, "/client/auth", "10.1.1.1", f.seal(t, creds.Map()))
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	require.True(t, f.table.Authorized("10.1.1.1"))
}

func TestClientAuth_BadCredentials(t *testing.T) {
	f := newHandlerFixture(t)
	creds := domain.Credentials{Username: "admin", Password: "wrong"}

	rsp := f.post(t, "/client/auth", "10.1.1.1", f.seal(t, creds.Map()))
	require.Equal(t, http.StatusUnauthorized, rsp.StatusCode)
	require.False(t, f.table.Authorized("10.1.1.1"))
}

func TestClientAuth_MissingFields(t *testing.T) {
	f := newHandlerFixture(t)
	rsp := f.post(t, "/client/auth", "10.1.1.1", f.seal(t, domain.Message{"username": "admin"}))
	require.Equal(t, http.StatusUnauthorized, rsp.StatusCode)
}

func TestClientAuth_GarbagePayload(t *testing.T) {
	f := newHandlerFixture(t)
	rsp := f.post(t, "/client/auth", "10.1.1.1", []byte("not an envelope"))
	require.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
}

func TestMsgSubmit_RequiresSession(t *testing.T) {
	f := newHandlerFixture(t)
	rsp := f.post(t, "/message/submit", "10.1.1.1", f.seal(t, domain.Message{"test": int64(1)}))
	require.Equal(t, StatusSessionExpired, rsp.StatusCode)
}

func TestMsgSubmit_Delivers(t *testing.T) {
	f := newHandlerFixture(t)
	f.table.Refresh("10.1.1.1", time.Hour)

	rsp := f.post(t, "/message/submit", "10.1.1.1", f.seal(t, domain.Message{"test": int64(1)}))
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	select {
	case msg := <-f.sink.Messages():
		require.Equal(t, domain.Message{"test": int64(1)}, msg)
	default:
		t.Fatal("sink received nothing")
	}
}

func TestMsgSubmit_ExpiredIsDistinctFromUnauthorized(t *testing.T) {
	f := newHandlerFixture(t)
	f.table.Refresh("10.1.1.1", time.Hour)
	f.clock.Advance(2 * time.Hour)

	rsp := f.post(t, "/message/submit", "10.1.1.1", f.seal(t, domain.Message{"test": int64(1)}))
	require.Equal(t, StatusSessionExpired, rsp.StatusCode)
	require.NotEqual(t, http.StatusUnauthorized, rsp.StatusCode)
	// The stale entry was purged on the way out.
	require.Equal(t, 0, f.table.Len())
}

func TestMsgSubmit_TamperedPayload(t *testing.T) {
	f := newHandlerFixture(t)
	f.table.Refresh("10.1.1.1", time.Hour)

	blob := f.seal(t, domain.Message{"test": int64(1)})
	blob[len(blob)-1] ^= 0x01
	rsp := f.post(t, "/message/submit", "10.1.1.1", blob)
	require.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
}

func TestMsgSubmit_FullSinkIsSoftFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.table.Refresh("10.1.1.1", time.Hour)

	for i := 0; i < 20; i++ {
		rsp := f.post(t, "/message/submit", "10.1.1.1", f.seal(t, domain.Message{"seq": int64(i)}))
		require.Equal(t, http.StatusOK, rsp.StatusCode)
	}
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4242"
	require.Equal(t, "192.0.2.7", clientAddr(req))

	req.Header.Set("X-Forwarded-For", "10.9.9.9, 172.16.0.1")
	require.Equal(t, "10.9.9.9", clientAddr(req))
}
