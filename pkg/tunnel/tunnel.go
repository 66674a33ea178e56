// Package tunnel 到目标节点的命令与 unix socket 转发通道
package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"pvemigrate/pkg/log"

	"go.uber.org/zap"
)

const (
	ProtoSSH       = "ssh"
	ProtoWebsocket = "websocket"

	DefaultCommandTimeout = 60 * time.Second
	finishTimeout         = 30 * time.Second
)

// Tunnel 迁移过程中使用的远端通道
type Tunnel interface {
	// Write 发送一条命令并等待应答
	Write(ctx context.Context, cmd string, params interface{}, timeout time.Duration) (json.RawMessage, error)
	// ForwardUnixSocket 在本地 local 上监听，每个连接转发到远端的 remote
	ForwardUnixSocket(ctx context.Context, local, remote string) error
	// Finish 关闭通道；graceful 为 false 时要求远端清理
	Finish(ctx context.Context, graceful bool) error
	Proto() string
	Version() int
	Sockets() []string
}

// LineConn 按行收发的控制连接
type LineConn interface {
	WriteLine([]byte) error
	ReadLine() ([]byte, error)
	Close() error
}

// StreamDialer 打开一条到远端 unix socket 的字节流
type StreamDialer func(ctx context.Context, remote string) (io.ReadWriteCloser, error)

// Channel 两种后端共用的实现
type Channel struct {
	proto   string
	logger  *log.Logger
	conn    LineConn
	dial    StreamDialer
	onClose func() error

	mu      sync.Mutex
	broken  error
	version int

	fmu      sync.Mutex
	forwards []*forwarder
	finished bool
}

func NewChannel(proto string, conn LineConn, dial StreamDialer, onClose func() error, logger *log.Logger) *Channel {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Channel{
		proto:   proto,
		logger:  logger,
		conn:    conn,
		dial:    dial,
		onClose: onClose,
	}
}

func (c *Channel) Proto() string { return c.proto }

func (c *Channel) Version() int { return c.version }

func (c *Channel) Write(ctx context.Context, cmd string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	req, err := NewRequest(cmd, params)
	if err != nil {
		return nil, fmt.Errorf("unable to encode tunnel command '%s': %w", cmd, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil, c.broken
	}

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		if err := c.conn.WriteLine(req); err != nil {
			ch <- result{err: err}
			return
		}
		line, err := c.conn.ReadLine()
		ch <- result{line: line, err: err}
	}()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var r result
	select {
	case r = <-ch:
	case <-tctx.Done():
		// 应答可能还会到达，之后的读写无法再对齐
		c.broken = fmt.Errorf("%w: no reply to tunnel command '%s' within %s", ErrTimeout, cmd, timeout)
		if ctx.Err() != nil {
			c.broken = fmt.Errorf("tunnel command '%s' interrupted: %w", cmd, ctx.Err())
		}
		c.conn.Close()
		return nil, c.broken
	}
	if r.err != nil {
		c.broken = fmt.Errorf("tunnel command '%s' failed: %w", cmd, r.err)
		return nil, c.broken
	}

	var resp Response
	if err := json.Unmarshal(r.line, &resp); err != nil {
		c.broken = fmt.Errorf("unable to parse tunnel response to '%s': %w", cmd, err)
		return nil, c.broken
	}
	if !resp.Success {
		return nil, &RemoteError{Cmd: cmd, Msg: resp.Msg}
	}
	return resp.Data, nil
}

// Negotiate 询问远端版本，区间没有交集时返回 ErrIncompatibleVersion
func (c *Channel) Negotiate(ctx context.Context) error {
	ret, err := c.Write(ctx, "version", nil, 0)
	if err != nil {
		return err
	}
	var remote Version
	if err := json.Unmarshal(ret, &remote); err != nil {
		return fmt.Errorf("unable to parse tunnel version: %w", err)
	}
	v, err := Negotiate(LocalVersion(), remote)
	if err != nil {
		return err
	}
	c.version = v
	c.logger.WithContext(ctx).Info("tunnel version negotiated",
		zap.String("proto", c.proto), zap.Int("version", v), zap.Int("remote_api", remote.API), zap.Int("remote_age", remote.Age))
	return nil
}

func (c *Channel) ForwardUnixSocket(ctx context.Context, local, remote string) error {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	if c.finished {
		return ErrClosed
	}
	f, err := newForwarder(local, remote, c.dial, c.logger)
	if err != nil {
		return err
	}
	c.forwards = append(c.forwards, f)
	go f.serve(ctx)
	c.logger.WithContext(ctx).Info("forwarding unix socket", zap.String("local", local), zap.String("remote", remote))
	return nil
}

func (c *Channel) Sockets() []string {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	out := make([]string, 0, len(c.forwards))
	for _, f := range c.forwards {
		out = append(out, f.local)
	}
	return out
}

func (c *Channel) Finish(ctx context.Context, graceful bool) error {
	c.fmu.Lock()
	if c.finished {
		c.fmu.Unlock()
		return nil
	}
	c.finished = true
	forwards := c.forwards
	c.forwards = nil
	c.fmu.Unlock()

	_, err := c.Write(ctx, "quit", QuitParams{Cleanup: !graceful}, finishTimeout)

	for _, f := range forwards {
		f.stop()
	}
	c.conn.Close()
	if c.onClose != nil {
		if cerr := c.onClose(); cerr != nil {
			c.logger.WithContext(ctx).Warn("closing tunnel transport failed", zap.Error(cerr))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to finish tunnel: %w", err)
	}
	return nil
}

// WaitForSocket 轮询直到 path 出现，最多 retries 次
func WaitForSocket(ctx context.Context, path string, retries int, interval time.Duration) error {
	for i := 0; i < retries; i++ {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w: unix socket '%s' did not appear after %d checks", ErrTimeout, path, retries)
}

// abort 不通知远端直接关闭
func (c *Channel) abort() {
	c.fmu.Lock()
	c.finished = true
	forwards := c.forwards
	c.forwards = nil
	c.fmu.Unlock()
	for _, f := range forwards {
		f.stop()
	}
	c.conn.Close()
	if c.onClose != nil {
		_ = c.onClose()
	}
}
