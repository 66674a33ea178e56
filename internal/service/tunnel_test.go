package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "pvemigrate/api/v1"
	"pvemigrate/internal/mtunnel"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/tunnel"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTunnelService(t *testing.T, ttl time.Duration) *tunnelService {
	conf := mtunnel.Config{Node: "pve1", RunDir: t.TempDir(), TicketTTL: ttl}
	return NewTunnelService(newTestService(t), mtunnel.Deps{}, conf, log.NewNop()).(*tunnelService)
}

func TestTunnelService_CreateTunnel(t *testing.T) {
	s := newTestTunnelService(t, time.Minute)
	ctx := context.Background()

	data, err := s.CreateTunnel(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, mtunnel.ControlSocket(s.conf.RunDir, 100), data.Socket)
	assert.NotEmpty(t, data.Ticket)

	require.NoError(t, s.VerifyTicket(ctx, 100, data.Ticket, data.Socket))
	assert.ErrorIs(t, s.VerifyTicket(ctx, 101, data.Ticket, data.Socket), v1.ErrInvalidTunnelTicket)
	assert.ErrorIs(t, s.VerifyTicket(ctx, 100, data.Ticket, "/tmp/other.sock"), v1.ErrInvalidTunnelTicket)
	assert.ErrorIs(t, s.VerifyTicket(ctx, 100, "garbage", data.Socket), v1.ErrInvalidTunnelTicket)

	// 同一虚拟机只允许一个会话
	_, err = s.CreateTunnel(ctx, 100)
	assert.ErrorIs(t, err, v1.ErrTunnelBusy)

	_, err = s.CreateTunnel(ctx, 101)
	assert.NoError(t, err)
}

func TestTunnelService_SessionExpires(t *testing.T) {
	s := newTestTunnelService(t, 20*time.Millisecond)

	_, err := s.CreateTunnel(context.Background(), 100)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.session(100) == nil }, time.Second, 5*time.Millisecond)

	_, err = s.CreateTunnel(context.Background(), 100)
	assert.NoError(t, err)
}

func TestTunnelService_Version(t *testing.T) {
	s := newTestTunnelService(t, time.Minute)
	v := s.Version(context.Background())
	assert.Equal(t, AppVersion, v.Version)
	assert.Equal(t, "pve1", v.Node)
	assert.Equal(t, tunnel.LocalVersion().API, v.Tunnel.API)
	assert.Equal(t, tunnel.LocalVersion().Age, v.Tunnel.Age)
}

func TestTunnelService_ServeWebsocketWithoutSession(t *testing.T) {
	s := newTestTunnelService(t, time.Minute)
	errs := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			errs <- err
			return
		}
		errs <- s.ServeWebsocket(r.Context(), 100, r.URL.Query().Get("socket"), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	for _, socket := range []string{mtunnel.ControlSocket(s.conf.RunDir, 100), "/tmp/forwarded.sock"} {
		conn, _, err := websocket.DefaultDialer.Dial(url+"?socket="+socket, nil)
		require.NoError(t, err)
		select {
		case err := <-errs:
			assert.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("ServeWebsocket did not return")
		}
		conn.Close()
	}
}
