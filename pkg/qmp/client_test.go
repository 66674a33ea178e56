package qmp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequest struct {
	Execute   string          `json:"execute"`
	Arguments json.RawMessage `json:"arguments"`
	ID        json.RawMessage `json:"id"`
}

type fakeConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (c *fakeConn) read() (*fakeRequest, bool) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, false
	}
	req := &fakeRequest{}
	require.NoError(c.t, json.Unmarshal(line, req))
	return req, true
}

func (c *fakeConn) write(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(c.conn, format+"\n", args...)
}

func (c *fakeConn) reply(req *fakeRequest, ret string) {
	c.write(`{"return": %s, "id": %s}`, ret, string(req.ID))
}

func serveFake(t *testing.T, path string, handler func(c *fakeConn)) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(&fakeConn{t: t, conn: conn, r: bufio.NewReader(conn)})
			}()
		}
	}()
}

// monitor 发送 greeting 并完成 capabilities 协商后交给 fn
func monitor(fn func(c *fakeConn, req *fakeRequest) bool) func(c *fakeConn) {
	return func(c *fakeConn) {
		c.write(`{"QMP": {"version": {"qemu": {"major": 8, "minor": 1, "micro": 0}}, "capabilities": []}}`)
		req, ok := c.read()
		if !ok || req.Execute != "qmp_capabilities" {
			return
		}
		c.reply(req, "{}")
		for {
			req, ok := c.read()
			if !ok {
				return
			}
			if !fn(c, req) {
				return
			}
		}
	}
}

// agent 先回应 guest-sync-delimited 再把命令交给 fn
func agent(fn func(c *fakeConn, req *fakeRequest) bool) func(c *fakeConn) {
	return func(c *fakeConn) {
		for {
			req, ok := c.read()
			if !ok {
				return
			}
			if req.Execute != "guest-sync-delimited" {
				c.write(`{"error": {"class": "GenericError", "desc": "not synced"}}`)
				return
			}
			var args struct {
				ID int64 `json:"id"`
			}
			require.NoError(c.t, json.Unmarshal(req.Arguments, &args))
			_, _ = fmt.Fprintf(c.conn, "\xff{\"return\": %d}\n", args.ID)

			req, ok = c.read()
			if !ok {
				return
			}
			if !fn(c, req) {
				return
			}
		}
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, string) {
	dir, err := os.MkdirTemp("", "qmp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	opts = append([]Option{WithConnectTimeout(time.Second)}, opts...)
	return NewClient(dir, opts...), dir
}

func TestExecute_MonitorCorrelation(t *testing.T) {
	c, dir := newTestClient(t)
	var ids []string
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		ids = append(ids, string(req.ID))
		switch req.Execute {
		case "query-status":
			fc.reply(req, `{"status": "running", "running": true}`)
		case "query-version":
			fc.reply(req, `{"qemu": {"major": 8}}`)
		}
		return true
	}))

	p1 := c.QueueCmd(MonitorPeer(100), "query-status", nil)
	p2 := c.QueueCmd(MonitorPeer(100), "query-version", nil)
	require.NoError(t, c.Execute(context.Background(), ExecuteOptions{}))

	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, p1.Decode(&status))
	assert.Equal(t, "running", status.Status)
	ret, err := p2.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"qemu": {"major": 8}}`, string(ret))

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestExecute_CommandErrorAbortsConnection(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.write(`{"error": {"class": "DeviceNotFound", "desc": "Device 'foo' not found"}, "id": %s}`, string(req.ID))
		return true
	}))

	p1 := c.QueueCmd(MonitorPeer(100), "device_del", map[string]string{"id": "foo"})
	p2 := c.QueueCmd(MonitorPeer(100), "query-status", nil)
	err := c.Execute(context.Background(), ExecuteOptions{})
	require.Error(t, err)

	var execErr *ExecuteError
	require.True(t, errors.As(err, &execErr))
	assert.Len(t, execErr.Errors, 2)

	_, err = p1.Result()
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "DeviceNotFound", cmdErr.Class)
	assert.Equal(t, "device_del", cmdErr.Command)

	_, err = p2.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not executed")
}

func TestExecute_WarnOnly(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.write(`{"error": {"class": "GenericError", "desc": "boom"}, "id": %s}`, string(req.ID))
		return true
	}))

	p := c.QueueCmd(MonitorPeer(100), "migrate_cancel", nil)
	require.NoError(t, c.Execute(context.Background(), ExecuteOptions{WarnOnly: true}))
	_, err := p.Result()
	assert.Error(t, err)
}

func TestExecute_IDMismatch(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.write(`{"return": {}, "id": "0:999"}`)
		return true
	}))

	_, err := c.Cmd(context.Background(), MonitorPeer(100), "query-status", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestExecute_MalformedFrame(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.write(`{"return": `)
		return true
	}))

	_, err := c.Cmd(context.Background(), MonitorPeer(100), "query-status", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestExecute_Timeout(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		return true
	}))

	start := time.Now()
	_, err := c.Cmd(context.Background(), MonitorPeer(100), "query-status", nil, WithTimeout(100*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecute_ConnectTimeout(t *testing.T) {
	c, _ := newTestClient(t, WithConnectTimeout(200*time.Millisecond))
	_, err := c.Cmd(context.Background(), MonitorPeer(100), "query-status", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestExecute_ContextCancel(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		return true
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Cmd(ctx, MonitorPeer(100), "migrate", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExecute_AgentSync(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qga"), agent(func(fc *fakeConn, req *fakeRequest) bool {
		assert.Equal(t, "guest-fsfreeze-status", req.Execute)
		assert.Empty(t, req.ID)
		fc.write(`{"return": "thawed"}`)
		return true
	}))

	ret, err := c.Cmd(context.Background(), AgentPeer(100), "guest-fsfreeze-status", nil)
	require.NoError(t, err)
	assert.Equal(t, `"thawed"`, string(ret))
}

func TestExecute_AgentShutdownWithoutReply(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qga"), agent(func(fc *fakeConn, req *fakeRequest) bool {
		// 客户机关机，连接直接断开
		return false
	}))

	_, err := c.Cmd(context.Background(), AgentPeer(100), "guest-shutdown", nil)
	assert.NoError(t, err)
}

func TestExecute_AgentCloseIsErrorForOtherCommands(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qga"), agent(func(fc *fakeConn, req *fakeRequest) bool {
		return false
	}))

	_, err := c.Cmd(context.Background(), AgentPeer(100), "guest-ping", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestExecute_EventDelivered(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	c, dir := newTestClient(t, WithEventHandler(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.write(`{"event": "BLOCK_JOB_READY", "data": {"device": "drive-scsi0"}, "timestamp": {"seconds": 1700000000, "microseconds": 5}}`)
		fc.reply(req, "{}")
		return true
	}))

	_, err := c.Cmd(context.Background(), MonitorPeer(100), "query-block-jobs", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "BLOCK_JOB_READY", events[0].Name)
	assert.Equal(t, MonitorPeer(100), events[0].Peer)
	assert.Equal(t, int64(1700000000), events[0].Time.Unix())
}

func TestExecute_SlowPeerDoesNotBlockOthers(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		time.Sleep(300 * time.Millisecond)
		fc.reply(req, `"slow"`)
		return true
	}))
	serveFake(t, filepath.Join(dir, "101.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.reply(req, `"fast"`)
		return true
	}))

	var order []string
	record := func(ret json.RawMessage, err error) {
		var s string
		_ = json.Unmarshal(ret, &s)
		order = append(order, s)
	}
	c.QueueCmd(MonitorPeer(100), "query-status", nil, WithCallback(record))
	c.QueueCmd(MonitorPeer(101), "query-status", nil, WithCallback(record))
	require.NoError(t, c.Execute(context.Background(), ExecuteOptions{}))
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestExecute_FailureIsolatedPerPeer(t *testing.T) {
	c, dir := newTestClient(t)
	serveFake(t, filepath.Join(dir, "100.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.write(`{"error": {"class": "GenericError", "desc": "boom"}, "id": %s}`, string(req.ID))
		return true
	}))
	serveFake(t, filepath.Join(dir, "101.qmp"), monitor(func(fc *fakeConn, req *fakeRequest) bool {
		fc.reply(req, `{}`)
		return true
	}))

	bad := c.QueueCmd(MonitorPeer(100), "query-status", nil)
	good := c.QueueCmd(MonitorPeer(101), "query-status", nil)
	err := c.Execute(context.Background(), ExecuteOptions{})
	require.Error(t, err)

	_, err = bad.Result()
	assert.Error(t, err)
	_, err = good.Result()
	assert.NoError(t, err)
}

func TestLookup(t *testing.T) {
	assert.Equal(t, TimeoutInteractive, Lookup("query-status").Timeout)
	assert.Equal(t, TimeoutDevice, Lookup("device_del").Timeout)
	assert.Equal(t, TimeoutLong, Lookup("migrate").Timeout)
	assert.True(t, Lookup("guest-shutdown").NoReplyOK)
	assert.False(t, Lookup("guest-ping").NoReplyOK)
}
