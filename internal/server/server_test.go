package server_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"trustpipe/internal/config"
	"trustpipe/internal/envelope"
	"trustpipe/internal/logger"
	"trustpipe/internal/server"
)

type allowAll struct{}

func (allowAll) Verify(_, _ string) bool { return true }

// newTestServer builds a plain-HTTP server on an ephemeral port with a
// freshly created envelope key.
func newTestServer(t *testing.T) (*server.Server, *config.Config) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Server.Port = 0
	cfg.Server.Protocol = "http"
	require.NoError(t, cfg.FixupAndValidate())

	backend := logger.NewDiscard()
	keeper := envelope.NewKeeper(cfg.EnvelopeKeyPath(), backend.GetLogger("test"))
	require.NoError(t, keeper.Create(false))

	srv := server.New(cfg, allowAll{}, server.NewQueueSink(4), backend)
	t.Cleanup(func() { srv.Stop() })
	return srv, cfg
}

func TestServerLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	require.Equal(t, server.StateStopped, srv.State())

	require.NoError(t, srv.Start())
	require.True(t, srv.Running())
	require.NotEmpty(t, srv.Addr())

	rsp, err := http.Get("http://" + srv.Addr() + "/is/running")
	require.NoError(t, err)
	body, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	require.Equal(t, "running", string(body))

	require.NoError(t, srv.Stop())
	require.Equal(t, server.StateStopped, srv.State())

	_, err = http.Get("http://" + srv.Addr() + "/is/running")
	require.Error(t, err)
}

func TestServerStartIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.Start())
	addr := srv.Addr()

	require.NoError(t, srv.Start())
	require.Equal(t, addr, srv.Addr())
	require.True(t, srv.Running())
}

func TestServerStopIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.Stop())

	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestServerRestart(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())

	require.NoError(t, srv.Start())
	require.True(t, srv.Running())

	rsp, err := http.Get("http://" + srv.Addr() + "/is/running")
	require.NoError(t, err)
	rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)
}

func TestServerStartWithoutKey(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Server.Port = 0
	cfg.Server.Protocol = "http"
	require.NoError(t, cfg.FixupAndValidate())

	srv := server.New(cfg, allowAll{}, nil, logger.NewDiscard())
	require.Error(t, srv.Start())
	require.Equal(t, server.StateStopped, srv.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "stopped", server.StateStopped.String())
	require.Equal(t, "running", server.StateRunning.String())
	require.Equal(t, "starting", server.StateStarting.String())
	require.Equal(t, "stopping", server.StateStopping.String())
}
