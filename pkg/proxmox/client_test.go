package proxmox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTunnel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/qemu/100/mtunnel", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{"ticket":"t1","socket":"control"}}`))
	}))
	defer srv.Close()

	c, err := NewProxmoxClient(srv.URL, "secret", true)
	require.NoError(t, err)
	tt, err := c.CreateTunnel(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "t1", tt.Ticket)
	assert.Equal(t, "control", tt.Socket)
}

func TestRequestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":1003,"message":"VM is locked (migrate)","data":null}`))
	}))
	defer srv.Close()

	c, err := NewProxmoxClient(srv.URL, "secret", true)
	require.NoError(t, err)
	_, err = c.GetVersion(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1003, apiErr.Code)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestDialTunnel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/qemu/100/mtunnelwebsocket", r.URL.Path)
		assert.Equal(t, "t1", r.URL.Query().Get("ticket"))
		assert.Equal(t, "/run/qemu-server/100.migrate", r.URL.Query().Get("socket"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	}))
	defer srv.Close()

	c, err := NewProxmoxClient(srv.URL, "secret", true)
	require.NoError(t, err)
	conn, err := c.DialTunnel(context.Background(), 100, "t1", "/run/qemu-server/100.migrate")
	require.NoError(t, err)
	defer conn.Close()
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}
