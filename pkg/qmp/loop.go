package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"time"
)

type connState int

const (
	stateOpening connState = iota
	stateHandshake
	stateIdle
	stateSync
	stateAwaitingReply
	stateErrored
	stateClosed
)

type peerConn struct {
	peer  Peer
	path  string
	conn  net.Conn
	state connState

	queue      []*Pending
	cur        *Pending
	curTimeout time.Duration
	curID      string
	seq        uint64
	syncID     int64
	deadline   time.Time
}

func (pc *peerConn) finished() bool {
	return pc.state == stateErrored || pc.state == stateClosed
}

// nextID 关联 id 由连接自己生成，单调递增
func (pc *peerConn) nextID() string {
	pc.seq++
	return fmt.Sprintf("%d:%d", os.Getpid(), pc.seq)
}

type loopFrame struct {
	pc   *peerConn
	conn net.Conn
	msg  *Message
	err  error
}

// loop 所有连接的状态只在 run 所在的 goroutine 中修改；
// 每个连接一个读 goroutine，只负责把帧送进 frames。
type loop struct {
	client *Client
	opts   ExecuteOptions
	conns  []*peerConn
	frames chan loopFrame
	stop   chan struct{}
}

func newLoop(c *Client, opts ExecuteOptions) *loop {
	return &loop{
		client: c,
		opts:   opts,
		frames: make(chan loopFrame, 16),
		stop:   make(chan struct{}),
	}
}

func (l *loop) start(ctx context.Context, peer Peer, queue []*Pending) {
	pc := &peerConn{
		peer:     peer,
		path:     peer.SocketPath(l.client.runDir),
		queue:    queue,
		state:    stateOpening,
		deadline: time.Now().Add(l.client.connectTimeout),
	}
	l.conns = append(l.conns, pc)
	go l.open(ctx, pc)
}

func (l *loop) send(f loopFrame) bool {
	select {
	case l.frames <- f:
		return true
	case <-l.stop:
		return false
	}
}

func (l *loop) open(ctx context.Context, pc *peerConn) {
	dctx, cancel := context.WithDeadline(ctx, pc.deadline)
	conn, err := l.client.dial(dctx, pc.path)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
			err = fmt.Errorf("%w: unable to connect to %s: %v", ErrTimeout, pc.peer, err)
		} else {
			err = fmt.Errorf("unable to connect to %s: %w", pc.peer, err)
		}
		l.send(loopFrame{pc: pc, err: err})
		return
	}
	if !l.send(loopFrame{pc: pc, conn: conn}) {
		conn.Close()
		return
	}
	dec := NewDecoder(conn)
	for {
		msg, err := dec.Next()
		if err != nil {
			l.send(loopFrame{pc: pc, err: err})
			return
		}
		if !l.send(loopFrame{pc: pc, msg: msg}) {
			return
		}
	}
}

func (l *loop) active() int {
	n := 0
	for _, pc := range l.conns {
		if !pc.finished() {
			n++
		}
	}
	return n
}

func (l *loop) nextDeadline() time.Time {
	var next time.Time
	for _, pc := range l.conns {
		if pc.finished() || pc.deadline.IsZero() {
			continue
		}
		if next.IsZero() || pc.deadline.Before(next) {
			next = pc.deadline
		}
	}
	return next
}

func (l *loop) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for l.active() > 0 {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		wait := time.Hour
		if next := l.nextDeadline(); !next.IsZero() {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case f := <-l.frames:
			l.handle(f)
		case now := <-timer.C:
			l.expire(now)
		case <-ctx.Done():
			for _, pc := range l.conns {
				if !pc.finished() {
					l.fail(pc, ctx.Err())
				}
			}
		}
	}
}

func (l *loop) shutdown() {
	close(l.stop)
	for _, pc := range l.conns {
		if pc.conn != nil {
			pc.conn.Close()
		}
	}
}

func (l *loop) handle(f loopFrame) {
	pc := f.pc
	if pc.finished() {
		if f.conn != nil {
			f.conn.Close()
		}
		return
	}
	switch {
	case f.conn != nil:
		pc.conn = f.conn
		if pc.peer.Kind == Monitor {
			// 等待 greeting
			pc.deadline = time.Now().Add(TimeoutInteractive)
			return
		}
		pc.state = stateIdle
		l.sendNext(pc)
	case f.err != nil:
		l.closed(pc, f.err)
	default:
		l.dispatch(pc, f.msg)
	}
}

func (l *loop) expire(now time.Time) {
	for _, pc := range l.conns {
		if pc.finished() || pc.deadline.IsZero() || now.Before(pc.deadline) {
			continue
		}
		switch pc.state {
		case stateOpening, stateHandshake:
			l.fail(pc, fmt.Errorf("%w: %s: no handshake", ErrTimeout, pc.peer))
		case stateSync:
			l.fail(pc, fmt.Errorf("%w: %s: guest agent did not answer sync", ErrTimeout, pc.peer))
		default:
			name := ""
			if pc.cur != nil {
				name = pc.cur.spec.Name
			}
			l.fail(pc, fmt.Errorf("%w: %s: command '%s' got no reply within %s", ErrTimeout, pc.peer, name, pc.curTimeout))
		}
	}
}

func (l *loop) closed(pc *peerConn, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = ErrConnectionClosed
	}
	if pc.state == stateAwaitingReply && pc.cur != nil && pc.cur.spec.NoReplyOK && errors.Is(err, ErrConnectionClosed) {
		// 关机/休眠类命令可能直接断开连接
		cur := pc.cur
		pc.cur = nil
		cur.resolve(nil, nil)
		if len(pc.queue) == 0 {
			pc.state = stateClosed
			return
		}
	}
	l.fail(pc, fmt.Errorf("%s: %w", pc.peer, err))
}

// fail 终止这个连接上的当前命令和剩余命令，其他连接不受影响
func (l *loop) fail(pc *peerConn, err error) {
	if pc.cur != nil {
		pc.cur.resolve(nil, err)
		pc.cur = nil
	}
	for _, p := range pc.queue {
		p.resolve(nil, fmt.Errorf("%s: command '%s' not executed: %w", pc.peer, p.spec.Name, err))
	}
	pc.queue = nil
	pc.state = stateErrored
	if pc.conn != nil {
		pc.conn.Close()
	}
}

func (l *loop) protocolError(pc *peerConn, format string, args ...interface{}) {
	l.fail(pc, fmt.Errorf("%w: %s: %s", ErrProtocol, pc.peer, fmt.Sprintf(format, args...)))
}

func (l *loop) write(pc *peerConn, name string, args interface{}, id interface{}) error {
	data, err := EncodeCommand(name, args, id)
	if err != nil {
		return fmt.Errorf("%s: unable to encode '%s': %w", pc.peer, name, err)
	}
	_ = pc.conn.SetWriteDeadline(time.Now().Add(TimeoutInteractive))
	if _, err := pc.conn.Write(data); err != nil {
		return fmt.Errorf("%s: unable to send '%s': %w", pc.peer, name, err)
	}
	return nil
}

func (l *loop) sendNext(pc *peerConn) {
	if len(pc.queue) == 0 {
		pc.state = stateClosed
		pc.conn.Close()
		return
	}
	cur := pc.queue[0]
	pc.queue = pc.queue[1:]
	pc.cur = cur
	pc.curTimeout = cur.effectiveTimeout(l.opts.Timeout)

	if pc.peer.Kind == Agent {
		pc.syncID = rand.Int63n(1 << 31)
		if err := l.write(pc, "guest-sync-delimited", map[string]int64{"id": pc.syncID}, nil); err != nil {
			l.fail(pc, err)
			return
		}
		pc.state = stateSync
		pc.deadline = time.Now().Add(minDuration(pc.curTimeout, TimeoutInteractive))
		return
	}

	pc.curID = pc.nextID()
	if err := l.write(pc, cur.spec.Name, cur.args, pc.curID); err != nil {
		l.fail(pc, err)
		return
	}
	pc.state = stateAwaitingReply
	pc.deadline = time.Now().Add(pc.curTimeout)
}

func (l *loop) dispatch(pc *peerConn, msg *Message) {
	if msg.IsEvent() {
		if l.client.onEvent != nil {
			l.client.onEvent(Event{Peer: pc.peer, Name: msg.Event, Data: msg.Data, Time: msg.Time()})
		}
		return
	}

	switch pc.state {
	case stateOpening:
		if !msg.IsGreeting() {
			l.protocolError(pc, "expected greeting")
			return
		}
		pc.curID = pc.nextID()
		if err := l.write(pc, "qmp_capabilities", nil, pc.curID); err != nil {
			l.fail(pc, err)
			return
		}
		pc.state = stateHandshake
		pc.deadline = time.Now().Add(TimeoutInteractive)

	case stateHandshake:
		if !l.checkID(pc, msg) {
			return
		}
		if msg.IsError() {
			l.fail(pc, &CommandError{Peer: pc.peer, Command: "qmp_capabilities", Class: msg.Error.Class, Desc: msg.Error.Desc})
			return
		}
		pc.state = stateIdle
		l.sendNext(pc)

	case stateSync:
		if msg.IsError() {
			l.fail(pc, &CommandError{Peer: pc.peer, Command: "guest-sync-delimited", Class: msg.Error.Class, Desc: msg.Error.Desc})
			return
		}
		var got int64
		if !msg.Delimited || !msg.IsReturn() || json.Unmarshal(msg.Return, &got) != nil {
			l.protocolError(pc, "unexpected answer to guest-sync-delimited")
			return
		}
		if got != pc.syncID {
			l.protocolError(pc, "guest sync id mismatch (got %d, expected %d)", got, pc.syncID)
			return
		}
		if err := l.write(pc, pc.cur.spec.Name, pc.cur.args, nil); err != nil {
			l.fail(pc, err)
			return
		}
		pc.state = stateAwaitingReply
		pc.deadline = time.Now().Add(pc.curTimeout)

	case stateAwaitingReply:
		if pc.peer.Kind == Monitor && !l.checkID(pc, msg) {
			return
		}
		if pc.peer.Kind == Agent && msg.Delimited {
			l.protocolError(pc, "unexpected delimited frame")
			return
		}
		cur := pc.cur
		if msg.IsError() {
			cmdErr := &CommandError{Peer: pc.peer, Command: cur.spec.Name, Class: msg.Error.Class, Desc: msg.Error.Desc}
			l.fail(pc, cmdErr)
			return
		}
		if !msg.IsReturn() {
			l.protocolError(pc, "unexpected frame while waiting for '%s'", cur.spec.Name)
			return
		}
		pc.cur = nil
		cur.resolve(msg.Return, nil)
		pc.state = stateIdle
		l.sendNext(pc)

	default:
		l.protocolError(pc, "unsolicited reply")
	}
}

func (l *loop) checkID(pc *peerConn, msg *Message) bool {
	var id string
	if len(msg.ID) == 0 || json.Unmarshal(msg.ID, &id) != nil || id != pc.curID {
		l.protocolError(pc, "correlation id mismatch (got %s, expected %s)", string(msg.ID), pc.curID)
		return false
	}
	return true
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
