package qmp

import (
	"context"
	"encoding/json"
	"time"
)

// Pending 一条已入队命令的结果，Execute 处理完对应应答后完成
type Pending struct {
	peer     Peer
	spec     CommandSpec
	args     interface{}
	timeout  time.Duration
	callback func(json.RawMessage, error)

	done chan struct{}
	ret  json.RawMessage
	err  error
}

func (p *Pending) Peer() Peer      { return p.peer }
func (p *Pending) Command() string { return p.spec.Name }

// Done 在结果可用时关闭
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result 返回应答，未完成时返回 ErrNotExecuted
func (p *Pending) Result() (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.ret, p.err
	default:
		return nil, ErrNotExecuted
	}
}

// Wait 阻塞直到结果可用或 ctx 结束
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.ret, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode 把应答解析到 v
func (p *Pending) Decode(v interface{}) error {
	ret, err := p.Result()
	if err != nil {
		return err
	}
	if len(ret) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(ret, v)
}

func (p *Pending) effectiveTimeout(fallback time.Duration) time.Duration {
	if p.timeout > 0 {
		return p.timeout
	}
	if fallback > 0 {
		return fallback
	}
	return p.spec.Timeout
}

// resolve 只会生效一次，回调在事件循环里同步执行
func (p *Pending) resolve(ret json.RawMessage, err error) {
	select {
	case <-p.done:
		return
	default:
	}
	p.ret, p.err = ret, err
	close(p.done)
	if p.callback != nil {
		p.callback(ret, err)
	}
}

type CmdOption func(*Pending)

// WithTimeout 覆盖命令表中的默认超时
func WithTimeout(d time.Duration) CmdOption {
	return func(p *Pending) { p.timeout = d }
}

// WithCallback 命令完成时在事件循环中调用，不能阻塞
func WithCallback(cb func(json.RawMessage, error)) CmdOption {
	return func(p *Pending) { p.callback = cb }
}
