package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"pvemigrate/pkg/log"

	"go.uber.org/zap"
)

// Event 对端主动推送的事件（没有关联 id）
type Event struct {
	Peer Peer
	Name string
	Data json.RawMessage
	Time time.Time
}

type EventHandler func(Event)

// Dialer 建立到控制 socket 的连接
type Dialer func(ctx context.Context, path string) (net.Conn, error)

type ExecuteOptions struct {
	// Timeout 对没有显式超时的命令生效，为 0 时使用命令表
	Timeout time.Duration
	// WarnOnly 只记录失败，不返回汇总错误
	WarnOnly bool
}

// Client 把命令复用到多个虚拟机的控制 socket 上。
// QueueCmd 只入队，Execute 运行事件循环直到所有队列清空。
type Client struct {
	runDir         string
	logger         *log.Logger
	onEvent        EventHandler
	dial           Dialer
	connectTimeout time.Duration

	mu    sync.Mutex
	queue map[Peer][]*Pending
	order []Peer
}

type Option func(*Client)

func WithEventHandler(h EventHandler) Option {
	return func(c *Client) { c.onEvent = h }
}

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

func NewClient(runDir string, opts ...Option) *Client {
	c := &Client{
		runDir:         runDir,
		logger:         log.NewNop(),
		dial:           dialUnix,
		connectTimeout: 3 * time.Second,
		queue:          make(map[Peer][]*Pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// batch 返回共享配置、队列独立的 Client，供 Cmd 使用
func (c *Client) batch() *Client {
	return &Client{
		runDir:         c.runDir,
		logger:         c.logger,
		onEvent:        c.onEvent,
		dial:           c.dial,
		connectTimeout: c.connectTimeout,
		queue:          make(map[Peer][]*Pending),
	}
}

// QueueCmd 入队但不发送
func (c *Client) QueueCmd(peer Peer, name string, args interface{}, opts ...CmdOption) *Pending {
	p := &Pending{
		peer: peer,
		spec: Lookup(name),
		args: args,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queue[peer]; !ok {
		c.order = append(c.order, peer)
	}
	c.queue[peer] = append(c.queue[peer], p)
	return p
}

// Cmd 执行单条命令并同步返回结果
func (c *Client) Cmd(ctx context.Context, peer Peer, name string, args interface{}, opts ...CmdOption) (json.RawMessage, error) {
	b := c.batch()
	p := b.QueueCmd(peer, name, args, opts...)
	_ = b.Execute(ctx, ExecuteOptions{})
	return p.Result()
}

// CmdNoError 同 Cmd，但失败只记录告警
func (c *Client) CmdNoError(ctx context.Context, peer Peer, name string, args interface{}, opts ...CmdOption) json.RawMessage {
	ret, err := c.Cmd(ctx, peer, name, args, opts...)
	if err != nil {
		c.logger.WithContext(ctx).Warn("qmp command failed", zap.Stringer("peer", peer), zap.String("command", name), zap.Error(err))
		return nil
	}
	return ret
}

// Execute 为每个有待发命令的 peer 打开一个连接，运行事件循环直到全部完成或出错。
// 返回前关闭所有连接。
func (c *Client) Execute(ctx context.Context, opts ExecuteOptions) error {
	c.mu.Lock()
	queue, order := c.queue, c.order
	c.queue, c.order = make(map[Peer][]*Pending), nil
	c.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	l := newLoop(c, opts)
	for _, peer := range order {
		l.start(ctx, peer, queue[peer])
	}
	l.run(ctx)
	l.shutdown()

	var errs []error
	for _, peer := range order {
		for _, p := range queue[peer] {
			if _, err := p.Result(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if opts.WarnOnly {
		for _, err := range errs {
			c.logger.WithContext(ctx).Warn("qmp command failed", zap.Error(err))
		}
		return nil
	}
	return &ExecuteError{Errors: errs}
}

// dialUnix 在 socket 尚未创建或拒绝连接时重试，直到 ctx 到期
func dialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		if !retryableDialError(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func retryableDialError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOENT)
}
