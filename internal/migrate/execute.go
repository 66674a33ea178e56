package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/qmp"
	"pvemigrate/pkg/tunnel"

	"github.com/duke-git/lancet/v2/formatter"
	"go.uber.org/zap"
)

const lockMigrate = "migrate"

// unlimitedBandwidth 未设置限速时 qemu 的 max-bandwidth
const unlimitedBandwidth = 8 * 1024 * 1024 * 1024

func (r *run) execute(ctx context.Context) error {
	m, task := r.m, r.task

	task.Config.Lock = lockMigrate
	if err := m.configs.Write(ctx, task.Config); err != nil {
		task.Config.Lock = ""
		return fmt.Errorf("unable to lock VM config: %w", err)
	}
	r.configLocked = true

	if err := m.engine.RefreshSizes(ctx, task); err != nil {
		return err
	}
	r.applyTargetBWLimit(ctx)
	if err := m.engine.TransferOffline(ctx, task, r.tun); err != nil {
		return err
	}

	target := r.targetConfig()
	if _, err := r.tun.Write(ctx, "config", collab.ConfigParams{Config: target}, 0); err != nil {
		return fmt.Errorf("unable to create VM config on target: %w", err)
	}

	if !task.Running {
		return nil
	}
	if err := r.startTarget(ctx, target); err != nil {
		return err
	}
	r.mirrorsStarted = len(storagesync.OnlineVolumes(task)) > 0
	if err := m.engine.StartMirrors(ctx, task); err != nil {
		return err
	}
	return r.migrateMemory(ctx)
}

// targetConfig 映射存储和网桥后的目标端配置
func (r *run) targetConfig() *collab.VMConfig {
	task := r.task
	cfg := task.Config.Clone()
	storagesync.ApplyVolumeMap(cfg, task)
	for key, nic := range cfg.Nets {
		nic.Bridge = task.Opts.MapBridge(nic.Bridge)
		cfg.Nets[key] = nic
	}
	cfg.Node = task.TargetNode
	cfg.Lock = lockMigrate
	cfg.Digest = ""
	return cfg
}

// applyTargetBWLimit 目标端存储的限速更低时采用目标端的值
func (r *run) applyTargetBWLimit(ctx context.Context) {
	logger := r.m.logger.WithContext(ctx)
	for _, vol := range storagesync.OfflineVolumes(r.task) {
		ret, err := r.tun.Write(ctx, "bwlimit", collab.BWLimitParams{
			Storages: []string{vol.TargetStorage},
			BWLimit:  r.task.Opts.BWLimitKiB,
		}, 0)
		if err != nil {
			logger.Warn("unable to query target bandwidth limit", zap.String("storage", vol.TargetStorage), zap.Error(err))
			return
		}
		var res collab.BWLimitResult
		if err := json.Unmarshal(ret, &res); err != nil {
			continue
		}
		if res.BWLimit > 0 && (vol.BWLimitKiB <= 0 || res.BWLimit < vol.BWLimitKiB) {
			vol.BWLimitKiB = res.BWLimit
		}
	}
}

func (r *run) startTarget(ctx context.Context, target *collab.VMConfig) error {
	m, task := r.m, r.task
	logger := m.logger.WithContext(ctx)

	nbd := make(map[string]collab.NBDRequest)
	for _, vol := range storagesync.OnlineVolumes(task) {
		req := collab.NBDRequest{Drive: task.Config.Drives[vol.Drive], Storage: vol.TargetStorage}
		if vol.Replicated {
			req.VolID = vol.VolID
			req.Bitmap = vol.Bitmap
		} else {
			ret, err := r.tun.Write(ctx, "disk", collab.DiskParams{
				Storage: vol.TargetStorage,
				Format:  vol.Format,
				Size:    vol.Size,
				Drive:   vol.Drive,
			}, 0)
			if err != nil {
				return fmt.Errorf("unable to allocate disk for '%s' on target: %w", vol.Drive, err)
			}
			var res collab.DiskResult
			if err := json.Unmarshal(ret, &res); err != nil {
				return fmt.Errorf("unable to parse disk response: %w", err)
			}
			req.VolID = res.VolID
		}
		nbd[vol.Drive] = req
	}

	stateURI := "unix"
	if task.Opts.MigrationType == collab.TypeInsecure {
		stateURI = "tcp"
	}
	ret, err := r.tun.Write(ctx, "start", collab.StartParams{
		Config:        target,
		MigratedFrom:  task.Node,
		MigrationType: task.Opts.MigrationType,
		Network:       task.Opts.Network,
		StateURI:      stateURI,
		NBD:           nbd,
		NBDProtoV:     1,
	}, m.conf.StartTimeout)
	if err != nil {
		return fmt.Errorf("failed to start VM on target: %w", err)
	}
	r.targetStarted = true

	var res collab.StartResult
	if err := json.Unmarshal(ret, &res); err != nil {
		return fmt.Errorf("unable to parse start response: %w", err)
	}
	info := &collab.TunnelInfo{Proto: res.Migrate.Proto, Addr: res.Migrate.Addr, Port: res.Migrate.Port}
	task.Tunnel = info
	task.SpicePort = res.SpicePort
	logger.Info("target VM started", zap.String("proto", info.Proto), zap.String("addr", info.Addr), zap.Int("port", info.Port))

	var sockets []string
	if info.Proto == "unix" {
		sockets = append(sockets, info.Addr)
	}
	for _, vol := range storagesync.OnlineVolumes(task) {
		ep, ok := res.NBD[vol.Drive]
		if !ok {
			return fmt.Errorf("target did not export drive '%s'", vol.Drive)
		}
		vol.TargetVolID = ep.VolID
		task.TargetDrives[vol.Drive] = &collab.TargetDrive{
			Drive:  vol.Drive,
			VolID:  ep.VolID,
			URI:    ep.URI,
			Bitmap: ep.Bitmap,
		}
		if path, ok := storagesync.NBDSocketFromURI(ep.URI); ok && !contains(sockets, path) {
			sockets = append(sockets, path)
		}
		logger.Info("target NBD export ready", zap.String("drive", vol.Drive), zap.String("uri", ep.URI))
	}

	for _, path := range sockets {
		if err := r.tun.ForwardUnixSocket(ctx, path, path); err != nil {
			return &TransportError{Op: "unable to forward socket " + path, Err: err}
		}
		info.Sockets = append(info.Sockets, path)
	}
	for _, path := range sockets {
		if err := tunnel.WaitForSocket(ctx, path, m.conf.SocketWaitRetries, m.conf.SocketWaitInterval); err != nil {
			return &TransportError{Op: "forwarded socket not ready", Err: err}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// xbzrleCacheSize 内存的十分之一向下取 2 的幂，不小于 min
func xbzrleCacheSize(memBytes, min int64) int64 {
	size := int64(1)
	for size*2 <= memBytes/10 {
		size *= 2
	}
	if size < min {
		return min
	}
	return size
}

type capability struct {
	Capability string `json:"capability"`
	State      bool   `json:"state"`
}

func (r *run) migrateURI() (string, error) {
	info := r.task.Tunnel
	if info == nil {
		return "", fmt.Errorf("no migration endpoint")
	}
	switch info.Proto {
	case "unix":
		return "unix:" + info.Addr, nil
	case "tcp":
		return "tcp:" + net.JoinHostPort(info.Addr, strconv.Itoa(info.Port)), nil
	}
	return "", fmt.Errorf("unknown migration protocol '%s'", info.Proto)
}

func (r *run) migrateMemory(ctx context.Context) error {
	m, task := r.m, r.task
	logger := m.logger.WithContext(ctx)
	peer := qmp.MonitorPeer(task.VMID)

	bwlimit := m.storage.BWLimit(ctx, "migration", nil, task.Opts.BWLimitKiB)
	if bwlimit <= 0 {
		bwlimit = m.conf.FallbackBWLimitKiB
	}
	maxBandwidth := int64(unlimitedBandwidth)
	if bwlimit > 0 {
		maxBandwidth = bwlimit * 1024
	}
	cache := xbzrleCacheSize(task.Config.MemoryMiB*1024*1024, m.conf.XBZRLECacheMin)

	_, err := m.mon.Cmd(ctx, peer, "migrate-set-capabilities", map[string]interface{}{
		"capabilities": []capability{
			{Capability: "xbzrle", State: true},
			{Capability: "auto-converge", State: true},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to set migration capabilities: %w", err)
	}
	_, err = m.mon.Cmd(ctx, peer, "migrate-set-parameters", map[string]interface{}{
		"max-bandwidth":     maxBandwidth,
		"downtime-limit":    r.downtime.Milliseconds(),
		"xbzrle-cache-size": cache,
	})
	if err != nil {
		return fmt.Errorf("unable to set migration parameters: %w", err)
	}
	logger.Info("migration parameters set",
		zap.String("speed_limit", formatter.BinaryBytes(float64(maxBandwidth))+"/s"),
		zap.Int64("downtime_ms", r.downtime.Milliseconds()),
		zap.String("xbzrle_cache", formatter.BinaryBytes(float64(cache))))

	uri, err := r.migrateURI()
	if err != nil {
		return err
	}
	logger.Info("start migrate command", zap.String("uri", uri))
	if _, err := m.mon.Cmd(ctx, peer, "migrate", map[string]string{"uri": uri}); err != nil {
		return fmt.Errorf("online migrate failure - %w", err)
	}
	r.migrateStarted = true
	return r.converge(ctx)
}
