//go:build linux

// Package eventd 接收 qemu 进程的 QMP 事件，虚拟机关机后结束进程并执行清理命令
package eventd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"pvemigrate/pkg/log"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type Config struct {
	Socket string
	// KillTimeout 发出 quit/SIGTERM 后多久 SIGKILL
	KillTimeout time.Duration
	// CleanupCmd 以 "<cmd> cleanup <vmid> <graceful> <guest>" 调用
	CleanupCmd string
	ProcFS     string
}

func NewConfig(conf *viper.Viper) Config {
	return Config{
		Socket:      conf.GetString("eventd.socket"),
		KillTimeout: conf.GetDuration("eventd.kill_timeout"),
		CleanupCmd:  conf.GetString("eventd.cleanup_cmd"),
		ProcFS:      "/proc",
	}
}

// procOps 与进程相关的系统调用，测试时替换
type procOps struct {
	peerPID   func(conn net.Conn) (int, error)
	vmid      func(pid int) (uint32, error)
	pidfdOpen func(pid int) (int, error)
	signal    func(pid, pidfd int, sig unix.Signal) error
	cleanup   func(ctx context.Context, vmid uint32, graceful, guest bool) error
}

type Daemon struct {
	conf   Config
	logger *log.Logger
	ops    procOps

	mu      sync.Mutex
	vms     map[uint32]*client
	clients map[*client]struct{}
	ln      net.Listener
	wg      sync.WaitGroup
}

func NewDaemon(conf Config, logger *log.Logger) *Daemon {
	if conf.KillTimeout <= 0 {
		conf.KillTimeout = 60 * time.Second
	}
	if conf.CleanupCmd == "" {
		conf.CleanupCmd = "/usr/sbin/qm"
	}
	if conf.ProcFS == "" {
		conf.ProcFS = "/proc"
	}
	d := &Daemon{
		conf:    conf,
		logger:  logger,
		vms:     make(map[uint32]*client),
		clients: make(map[*client]struct{}),
	}
	d.ops = procOps{
		peerPID:   peerPID,
		vmid:      func(pid int) (uint32, error) { return vmidFromCgroup(conf.ProcFS, pid) },
		pidfdOpen: func(pid int) (int, error) { return unix.PidfdOpen(pid, 0) },
		signal:    sendSignal,
		cleanup:   d.runCleanup,
	}
	return d
}

// Serve 监听 socket 直到 ctx 结束或 Close
func (d *Daemon) Serve(ctx context.Context) error {
	if err := os.Remove(d.conf.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", d.conf.Socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.conf.Socket, err)
	}
	d.mu.Lock()
	d.ln = ln
	d.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	d.logger.Info("event daemon listening", zap.String("socket", d.conf.Socket))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Error("accept failed", zap.Error(err))
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handle(ctx, conn)
		}()
	}
}

// Close 停止监听并断开所有客户端
func (d *Daemon) Close() error {
	d.mu.Lock()
	if d.ln != nil {
		d.ln.Close()
	}
	for c := range d.clients {
		c.conn.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

type clientKind int

const (
	kindNone clientKind = iota
	kindQEMU
	kindVZDump
)

type clientState int

const (
	stateHandshake clientState = iota
	stateIdle
	stateExpectStatus
	stateTerminating
)

type client struct {
	conn net.Conn
	pid  int

	mu    sync.Mutex
	kind  clientKind
	state clientState

	// kindQEMU
	vmid            uint32
	graceful        bool
	guest           bool
	termCheckQueued bool
	backup          bool
	pidfd           int
	killTimer       *time.Timer

	// kindVZDump 正在备份的虚拟机
	backupOf uint32
}

type message struct {
	QMP    json.RawMessage `json:"QMP"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Return json.RawMessage `json:"return"`
	Error  *struct {
		Class string `json:"class"`
		Desc  string `json:"desc"`
	} `json:"error"`
	VZDump *struct {
		VMID json.RawMessage `json:"vmid"`
	} `json:"vzdump"`
}

func (d *Daemon) handle(ctx context.Context, conn net.Conn) {
	pid, err := d.ops.peerPID(conn)
	if err != nil || pid == 0 {
		d.logger.Warn("could not get pid from client", zap.Error(err))
		conn.Close()
		return
	}
	c := &client{conn: conn, pid: pid, state: stateHandshake, pidfd: -1}
	d.mu.Lock()
	d.clients[c] = struct{}{}
	d.mu.Unlock()
	d.logger.Debug("added new client", zap.Int("pid", pid))

	dec := json.NewDecoder(conn)
	for {
		var msg message
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				d.logger.Warn("client read failed", zap.Int("pid", pid), zap.Error(err))
			}
			break
		}
		switch {
		case msg.QMP != nil:
			if !d.handshake(c) {
				conn.Close()
			}
		case msg.Event != "":
			d.event(c, &msg)
		case msg.Return != nil:
			d.qmpReturn(c, msg.Return, "")
		case msg.Error != nil:
			d.qmpReturn(c, nil, msg.Error.Desc)
		case msg.VZDump != nil:
			d.vzdumpHandshake(c, msg.VZDump.VMID)
		}
	}
	d.cleanupClient(ctx, c)
}

// send 调用方持有 c.mu
func (c *client) send(cmd string) error {
	_, err := c.conn.Write([]byte(`{"execute":"` + cmd + `"}` + "\n"))
	return err
}

func (d *Daemon) handshake(c *client) bool {
	vmid, err := d.ops.vmid(c.pid)
	if err != nil {
		d.logger.Warn("could not get vmid from pid", zap.Int("pid", c.pid), zap.Error(err))
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kind = kindQEMU
	c.vmid = vmid
	d.logger.Debug("got QMP handshake", zap.Uint32("vmid", vmid))

	d.mu.Lock()
	d.vms[vmid] = c
	d.mu.Unlock()

	if err := c.send("qmp_capabilities"); err != nil {
		d.logger.Warn("cannot complete handshake", zap.Uint32("vmid", vmid), zap.Error(err))
		return false
	}
	return true
}

func (d *Daemon) event(c *client, msg *message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d.logger.Debug("got QMP event", zap.Uint32("vmid", c.vmid), zap.String("event", msg.Event))
	// 结束进程后 qemu 可能再发一次 SHUTDOWN
	if c.state == stateTerminating {
		return
	}
	if msg.Event != "SHUTDOWN" {
		return
	}
	c.graceful = true
	var data struct {
		Guest bool `json:"guest"`
	}
	if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &data) == nil {
		c.guest = data.Guest
	}
	d.terminateCheck(c)
}

// terminateCheck 调用方持有 c.mu
func (d *Daemon) terminateCheck(c *client) {
	if c.state != stateIdle {
		c.termCheckQueued = true
		return
	}
	c.termCheckQueued = false
	c.state = stateExpectStatus
	if err := c.send("query-status"); err != nil {
		d.logger.Warn("failed to send query-status", zap.Uint32("vmid", c.vmid), zap.Error(err))
	}
}

func (d *Daemon) qmpReturn(c *client, data json.RawMessage, errDesc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errDesc != "" {
		d.logger.Warn("received error from QMP", zap.Uint32("vmid", c.vmid), zap.String("desc", errDesc))
		c.state = stateIdle
	} else {
		var st struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(data, &st)
		active := st.Status == "running" || st.Status == "paused"

		switch c.state {
		case stateExpectStatus:
			c.state = stateIdle
			switch {
			case active:
				d.logger.Debug("VM is active", zap.Uint32("vmid", c.vmid))
			case c.backup:
				d.logger.Info("VM not active but backup running, keep alive", zap.Uint32("vmid", c.vmid))
			default:
				d.terminate(c)
			}
		case stateHandshake:
			c.state = stateIdle
			d.logger.Debug("QMP handshake complete", zap.Uint32("vmid", c.vmid))
		case stateTerminating:
		case stateIdle:
			d.logger.Debug("spurious return value received", zap.Uint32("vmid", c.vmid))
		}
	}
	if c.termCheckQueued {
		d.terminateCheck(c)
	}
}

func parseVMID(raw json.RawMessage) (uint32, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.New("vmid is not a string")
	}
	vmid, err := strconv.ParseUint(s, 10, 32)
	if err != nil || vmid == 0 {
		return 0, fmt.Errorf("invalid vmid '%s'", s)
	}
	return uint32(vmid), nil
}

func (d *Daemon) vzdumpHandshake(c *client, raw json.RawMessage) {
	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()

	vmid, err := parseVMID(raw)
	if err != nil {
		d.logger.Warn("invalid vzdump handshake", zap.Int("pid", c.pid), zap.Error(err))
		return
	}
	d.mu.Lock()
	vmc := d.vms[vmid]
	d.mu.Unlock()
	if vmc == nil {
		d.logger.Info("vzdump requested backup start for unregistered VM", zap.Uint32("vmid", vmid))
		return
	}
	vmc.mu.Lock()
	vmc.backup = true
	vmc.mu.Unlock()

	c.mu.Lock()
	c.kind = kindVZDump
	c.backupOf = vmid
	c.mu.Unlock()
	d.logger.Info("vzdump backup started", zap.Uint32("vmid", vmid))
}

// terminate 调用方持有 c.mu；先 quit，失败时 SIGTERM，超时后 SIGKILL
func (d *Daemon) terminate(c *client) {
	d.logger.Info("terminating VM process", zap.Uint32("vmid", c.vmid), zap.Int("pid", c.pid))
	c.state = stateTerminating

	pidfd, err := d.ops.pidfdOpen(c.pid)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			d.logger.Debug("process already dead", zap.Uint32("vmid", c.vmid))
			return
		}
		if !errors.Is(err, unix.ENOSYS) {
			d.logger.Warn("failed to open pidfd", zap.Uint32("vmid", c.vmid), zap.Error(err))
		}
		pidfd = -1
	}
	c.pidfd = pidfd

	if err := c.send("quit"); err != nil {
		d.logger.Info("sending SIGTERM", zap.Uint32("vmid", c.vmid), zap.Int("pid", c.pid))
		if err := d.ops.signal(c.pid, -1, unix.SIGTERM); err != nil {
			d.logger.Warn("SIGTERM failed", zap.Int("pid", c.pid), zap.Error(err))
		}
	}
	c.killTimer = time.AfterFunc(d.conf.KillTimeout, func() { d.forceKill(c) })
}

func (d *Daemon) forceKill(c *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.killTimer == nil {
		return
	}
	c.killTimer = nil
	err := d.ops.signal(c.pid, c.pidfd, unix.SIGKILL)
	if c.pidfd >= 0 {
		unix.Close(c.pidfd)
		c.pidfd = -1
	}
	if err != nil {
		if !errors.Is(err, unix.ESRCH) {
			d.logger.Error("SIGKILL cleanup failed", zap.Int("pid", c.pid), zap.Error(err))
		}
		return
	}
	d.logger.Warn("cleanup failed, terminated process with SIGKILL", zap.Int("pid", c.pid))
}

func (d *Daemon) cleanupClient(ctx context.Context, c *client) {
	c.conn.Close()
	d.mu.Lock()
	delete(d.clients, c)
	d.mu.Unlock()

	c.mu.Lock()
	if c.killTimer != nil {
		c.killTimer.Stop()
		c.killTimer = nil
	}
	if c.pidfd >= 0 {
		unix.Close(c.pidfd)
		c.pidfd = -1
	}
	kind, vmid, graceful, guest, backupOf := c.kind, c.vmid, c.graceful, c.guest, c.backupOf
	c.mu.Unlock()

	switch kind {
	case kindQEMU:
		d.mu.Lock()
		if d.vms[vmid] == c {
			delete(d.vms, vmid)
		}
		d.mu.Unlock()
		d.logger.Info("executing cleanup", zap.Uint32("vmid", vmid), zap.Bool("graceful", graceful), zap.Bool("guest", guest))
		if err := d.ops.cleanup(context.WithoutCancel(ctx), vmid, graceful, guest); err != nil {
			d.logger.Error("cleanup command failed", zap.Uint32("vmid", vmid), zap.Error(err))
		}
	case kindVZDump:
		d.mu.Lock()
		vmc := d.vms[backupOf]
		d.mu.Unlock()
		if vmc != nil {
			d.logger.Info("backup ended", zap.Uint32("vmid", backupOf))
			vmc.mu.Lock()
			vmc.backup = false
			d.terminateCheck(vmc)
			vmc.mu.Unlock()
		}
	}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Daemon) runCleanup(ctx context.Context, vmid uint32, graceful, guest bool) error {
	cmd := exec.CommandContext(ctx, d.conf.CleanupCmd, "cleanup", strconv.FormatUint(uint64(vmid), 10), flag(graceful), flag(guest))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", string(out), err)
	}
	return nil
}
