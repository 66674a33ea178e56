// Package mtunnel 目标节点上的迁移隧道命令处理
package mtunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/tunnel"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TicketIssuer 为转发的 socket 签发票据，*jwt.JWT 实现了它
type TicketIssuer interface {
	GenTunnelTicket(vmid uint32, node, socket string, ttl time.Duration) (string, error)
}

type Config struct {
	Node   string
	RunDir string
	// MigrationAddr insecure 迁移时 qemu 监听的地址
	MigrationAddr string
	TicketTTL     time.Duration
	ImportTimeout time.Duration
	StopTimeout   time.Duration
}

func NewConfig(conf *viper.Viper) Config {
	return Config{
		Node:          conf.GetString("node.name"),
		RunDir:        conf.GetString("node.run_dir"),
		MigrationAddr: conf.GetString("node.migration_addr"),
		TicketTTL:     conf.GetDuration("tunnel.ticket_ttl"),
		ImportTimeout: conf.GetDuration("tunnel.import_timeout"),
		StopTimeout:   conf.GetDuration("tunnel.stop_timeout"),
	}
}

type Deps struct {
	Storage    collab.Storage
	Configs    collab.ConfigStore
	Supervisor collab.Supervisor
	Monitor    storagesync.Monitor
	Tickets    TicketIssuer
}

type command func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Handler 一次迁移在目标端的状态，每个隧道连接一个
type Handler struct {
	vmid    uint32
	storage collab.Storage
	configs collab.ConfigStore
	sup     collab.Supervisor
	mon     storagesync.Monitor
	tickets TicketIssuer
	logger  *log.Logger
	conf    Config

	commands map[string]command

	mu sync.Mutex
	// allocated 本次迁移分配的卷，cleanup 时释放
	allocated     []string
	configCreated bool
	started       bool
	// sockets 允许通过 ticket 转发的路径
	sockets map[string]bool
	imp     *diskImport
	quit    bool
	cleanup bool
}

func NewHandler(vmid uint32, deps Deps, logger *log.Logger, conf Config) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	if conf.ImportTimeout <= 0 {
		conf.ImportTimeout = 5 * time.Minute
	}
	if conf.StopTimeout <= 0 {
		conf.StopTimeout = time.Minute
	}
	if conf.TicketTTL <= 0 {
		conf.TicketTTL = time.Minute
	}
	h := &Handler{
		vmid:    vmid,
		storage: deps.Storage,
		configs: deps.Configs,
		sup:     deps.Supervisor,
		mon:     deps.Monitor,
		tickets: deps.Tickets,
		logger:  &log.Logger{Logger: logger.With(zap.Uint32("vmid", vmid))},
		conf:    conf,
		sockets: make(map[string]bool),
	}
	h.commands = map[string]command{
		"version":           h.cmdVersion,
		"config":            h.cmdConfig,
		"disk":              h.cmdDisk,
		"disk-import":       h.cmdDiskImport,
		"query-disk-import": h.cmdQueryDiskImport,
		"start":             h.cmdStart,
		"stop":              h.cmdStop,
		"resume":            h.cmdResume,
		"fstrim":            h.cmdFSTrim,
		"unlock":            h.cmdUnlock,
		"bwlimit":           h.cmdBWLimit,
		"ticket":            h.cmdTicket,
		"quit":              h.cmdQuit,
	}
	return h
}

// ControlSocket websocket 后端控制通道使用的路径
func ControlSocket(runDir string, vmid uint32) string {
	return filepath.Join(runDir, fmt.Sprintf("%d.mtunnel", vmid))
}

// Allowed 该路径是否已由本次迁移创建，可以转发
func (h *Handler) Allowed(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sockets[path]
}

// Serve 处理命令直到收到 quit 或连接断开。
// 连接异常断开时按 quit{cleanup:true} 处理。
func (h *Handler) Serve(ctx context.Context, conn tunnel.LineConn) error {
	logger := h.logger.WithContext(ctx)
	logger.Info("migration tunnel connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		line, err := conn.ReadLine()
		if err != nil {
			h.mu.Lock()
			done := h.quit
			h.mu.Unlock()
			if done {
				return nil
			}
			logger.Warn("migration tunnel closed without quit, cleaning up", zap.Error(err))
			h.doCleanup(context.WithoutCancel(ctx))
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := h.dispatch(ctx, line)
		raw, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if err := conn.WriteLine(raw); err != nil {
			h.doCleanup(context.WithoutCancel(ctx))
			return fmt.Errorf("unable to write tunnel response: %w", err)
		}

		h.mu.Lock()
		done, cleanup := h.quit, h.cleanup
		h.mu.Unlock()
		if done {
			if cleanup {
				h.doCleanup(context.WithoutCancel(ctx))
			}
			h.waitImport()
			logger.Info("migration tunnel finished", zap.Bool("cleanup", cleanup))
			return nil
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, line []byte) tunnel.Response {
	var req tunnel.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return tunnel.Fail(fmt.Errorf("unable to parse tunnel command: %w", err))
	}
	fn, ok := h.commands[req.Cmd]
	if !ok {
		return tunnel.Fail(fmt.Errorf("unknown command '%s'", req.Cmd))
	}
	data, err := fn(ctx, req.Params)
	if err != nil {
		h.logger.WithContext(ctx).Warn("tunnel command failed", zap.String("cmd", req.Cmd), zap.Error(err))
		return tunnel.Fail(err)
	}
	return tunnel.OK(data)
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func (h *Handler) track(volid string) {
	h.mu.Lock()
	h.allocated = append(h.allocated, volid)
	h.mu.Unlock()
}

func (h *Handler) allow(path string) {
	h.mu.Lock()
	h.sockets[path] = true
	h.mu.Unlock()
}

// doCleanup 停止虚拟机，释放分配的卷并删除创建的配置
func (h *Handler) doCleanup(ctx context.Context) {
	logger := h.logger.WithContext(ctx)

	h.mu.Lock()
	started := h.started
	h.started = false
	allocated := h.allocated
	h.allocated = nil
	created := h.configCreated
	h.configCreated = false
	h.mu.Unlock()

	if started {
		sctx, cancel := context.WithTimeout(ctx, h.conf.StopTimeout)
		if err := h.sup.Stop(sctx, h.vmid, collab.StopOptions{SkipLock: true, Timeout: h.conf.StopTimeout}); err != nil {
			logger.Warn("failed to stop target VM", zap.Error(err))
		}
		cancel()
	}
	h.waitImport()
	for _, volid := range allocated {
		if err := h.storage.Free(ctx, volid); err != nil {
			logger.Warn("failed to free volume", zap.String("volid", volid), zap.Error(err))
			continue
		}
		logger.Info("freed volume", zap.String("volid", volid))
	}
	if created {
		if err := h.configs.Delete(ctx, h.vmid); err != nil {
			logger.Warn("failed to remove VM config", zap.Error(err))
		}
	}
}
