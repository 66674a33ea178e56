package mtunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/qmp"
	"pvemigrate/pkg/tunnel"

	"go.uber.org/zap"
)

// ErrNotAllowed 请求的 socket 不属于本次迁移
var ErrNotAllowed = errors.New("socket not allowed")

func (h *Handler) cmdVersion(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return tunnel.LocalVersion(), nil
}

func (h *Handler) cmdConfig(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p collab.ConfigParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Config == nil {
		return nil, errors.New("missing config")
	}
	if p.Config.VMID != h.vmid {
		return nil, fmt.Errorf("config is for VM %d, tunnel is for VM %d", p.Config.VMID, h.vmid)
	}
	cfg := p.Config.Clone()
	cfg.Node = h.conf.Node
	cfg.Lock = "migrate"
	cfg.Digest = ""
	if err := h.configs.Create(ctx, cfg); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.configCreated = true
	h.mu.Unlock()
	h.logger.WithContext(ctx).Info("received VM config", zap.Int("drives", len(cfg.Drives)))
	return nil, nil
}

func (h *Handler) cmdDisk(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p collab.DiskParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Storage == "" || p.Size <= 0 {
		return nil, errors.New("storage and size are required")
	}
	if err := h.checkStorage(ctx, p.Storage); err != nil {
		return nil, err
	}
	volid, err := h.storage.Alloc(ctx, p.Storage, h.vmid, p.Format, p.Size)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate disk on '%s': %w", p.Storage, err)
	}
	h.track(volid)
	h.logger.WithContext(ctx).Info("allocated disk",
		zap.String("drive", p.Drive), zap.String("volid", volid), zap.Int64("size", p.Size))
	return collab.DiskResult{VolID: volid}, nil
}

func (h *Handler) checkStorage(ctx context.Context, storeid string) error {
	info, err := h.storage.Storage(ctx, storeid)
	if err != nil {
		return fmt.Errorf("storage '%s': %w", storeid, err)
	}
	if !info.AvailableOn(h.conf.Node) {
		return fmt.Errorf("storage '%s' is not available on node '%s'", storeid, h.conf.Node)
	}
	return nil
}

// cmdStart 以 incoming 模式启动虚拟机并导出在线磁盘
func (h *Handler) cmdStart(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p collab.StartParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	logger := h.logger.WithContext(ctx)

	cfg, err := h.configs.Load(ctx, h.vmid)
	if err != nil {
		return nil, err
	}
	for _, drive := range sortedDrives(p.NBD) {
		req := p.NBD[drive]
		d, ok := cfg.Drives[drive]
		if !ok {
			d = req.Drive
			d.Key = drive
		}
		d.VolID = req.VolID
		cfg.Drives[drive] = d
	}
	if len(p.NBD) > 0 {
		if err := h.configs.Write(ctx, cfg); err != nil {
			return nil, err
		}
	}

	var res collab.StartResult
	start := p
	start.Config = cfg
	switch p.StateURI {
	case "unix", "":
		sock := storagesync.MigrateSocket(h.conf.RunDir, h.vmid)
		start.StateURI = "unix:" + sock
		res.Migrate = collab.MigrateEndpoint{Proto: "unix", Addr: sock}
		h.allow(sock)
	case "tcp":
		port, err := freePort(h.conf.MigrationAddr)
		if err != nil {
			return nil, err
		}
		start.StateURI = "tcp:" + net.JoinHostPort(h.conf.MigrationAddr, strconv.Itoa(port))
		res.Migrate = collab.MigrateEndpoint{Proto: "tcp", Addr: h.conf.MigrationAddr, Port: port}
	default:
		return nil, fmt.Errorf("unsupported state uri '%s'", p.StateURI)
	}

	if err := h.sup.Start(ctx, h.vmid, start); err != nil {
		return nil, fmt.Errorf("failed to start VM: %w", err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	logger.Info("VM started in incoming mode", zap.String("state_uri", start.StateURI))

	if len(p.NBD) > 0 {
		nbd, err := h.exportDrives(ctx, p)
		if err != nil {
			return nil, err
		}
		res.NBD = nbd
	}
	return res, nil
}

func (h *Handler) exportDrives(ctx context.Context, p collab.StartParams) (map[string]collab.NBDEndpoint, error) {
	peer := qmp.MonitorPeer(h.vmid)
	out := make(map[string]collab.NBDEndpoint, len(p.NBD))

	var addr interface{}
	var uri func(drive string) string
	if p.StateURI == "tcp" {
		port, err := freePort(h.conf.MigrationAddr)
		if err != nil {
			return nil, err
		}
		addr = map[string]interface{}{
			"type": "inet",
			"data": map[string]string{"host": h.conf.MigrationAddr, "port": strconv.Itoa(port)},
		}
		uri = func(drive string) string { return storagesync.NBDTCPURI(h.conf.MigrationAddr, port, drive) }
	} else {
		sock := storagesync.NBDSocket(h.conf.RunDir, h.vmid)
		addr = map[string]interface{}{
			"type": "unix",
			"data": map[string]string{"path": sock},
		}
		uri = func(drive string) string { return storagesync.NBDUnixURI(sock, drive) }
		h.allow(sock)
	}
	if _, err := h.mon.Cmd(ctx, peer, "nbd-server-start", map[string]interface{}{"addr": addr}); err != nil {
		return nil, fmt.Errorf("unable to start NBD server: %w", err)
	}

	for _, drive := range sortedDrives(p.NBD) {
		req := p.NBD[drive]
		dev := storagesync.DeviceName(drive)
		if _, err := h.mon.Cmd(ctx, peer, "block-export-add", map[string]interface{}{
			"id":        dev,
			"node-name": dev,
			"type":      "nbd",
			"name":      storagesync.ExportName(drive),
			"writable":  true,
		}); err != nil {
			return nil, fmt.Errorf("unable to export drive '%s': %w", drive, err)
		}
		out[drive] = collab.NBDEndpoint{URI: uri(drive), VolID: req.VolID, Bitmap: req.Bitmap}
		h.logger.WithContext(ctx).Info("exported drive over NBD", zap.String("drive", drive), zap.String("volid", req.VolID))
	}
	return out, nil
}

func freePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("unable to find free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func sortedDrives(m map[string]collab.NBDRequest) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) cmdStop(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p collab.StopParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	timeout := h.conf.StopTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}
	if err := h.sup.Stop(ctx, h.vmid, collab.StopOptions{SkipLock: true, Timeout: timeout}); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()
	return nil, nil
}

func (h *Handler) cmdResume(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if _, err := h.mon.Cmd(ctx, qmp.MonitorPeer(h.vmid), "cont", nil); err != nil {
		return nil, fmt.Errorf("failed to resume VM: %w", err)
	}
	h.commit()
	return nil, nil
}

// commit 迁移已成功，之后断开不再回收
func (h *Handler) commit() {
	h.mu.Lock()
	h.started = false
	h.allocated = nil
	h.configCreated = false
	h.mu.Unlock()
}

func (h *Handler) cmdFSTrim(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if _, err := h.mon.Cmd(ctx, qmp.AgentPeer(h.vmid), "guest-fstrim", nil); err != nil {
		return nil, fmt.Errorf("fstrim failed: %w", err)
	}
	return nil, nil
}

func (h *Handler) cmdUnlock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	cfg, err := h.configs.Load(ctx, h.vmid)
	if err != nil {
		return nil, err
	}
	if cfg.Lock != "" {
		cfg.Lock = ""
		if err := h.configs.Write(ctx, cfg); err != nil {
			return nil, err
		}
	}
	h.commit()
	return nil, nil
}

func (h *Handler) cmdBWLimit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p collab.BWLimitParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return collab.BWLimitResult{BWLimit: h.storage.BWLimit(ctx, "migration", p.Storages, p.BWLimit)}, nil
}

func (h *Handler) cmdTicket(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p tunnel.TicketParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if h.tickets == nil {
		return nil, errors.New("tickets are not supported on this tunnel")
	}
	if !h.Allowed(p.Path) {
		return nil, fmt.Errorf("%w: '%s'", ErrNotAllowed, p.Path)
	}
	ticket, err := h.tickets.GenTunnelTicket(h.vmid, h.conf.Node, p.Path, h.conf.TicketTTL)
	if err != nil {
		return nil, err
	}
	return tunnel.TicketResult{Ticket: ticket}, nil
}

func (h *Handler) cmdQuit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p tunnel.QuitParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.quit = true
	h.cleanup = p.Cleanup
	h.mu.Unlock()
	return nil, nil
}
