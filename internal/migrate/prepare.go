package migrate

import (
	"context"
	"encoding/json"
	"fmt"

	"pvemigrate/pkg/qmp"

	"go.uber.org/zap"
)

type queryStatus struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

// 这些状态下迁移后目标端不恢复运行
var keepPaused = map[string]bool{
	"paused":    true,
	"suspended": true,
	"prelaunch": true,
}

func (r *run) prepare(ctx context.Context) error {
	m, task := r.m, r.task
	logger := m.logger.WithContext(ctx)

	cfg, err := m.configs.Load(ctx, task.VMID)
	if err != nil {
		return validationf("unable to load config of VM %d: %v", task.VMID, err)
	}
	if cfg.Node != "" && cfg.Node != task.Node {
		return validationf("VM %d is not on node '%s'", task.VMID, task.Node)
	}
	if cfg.Lock != "" {
		return validationf("VM is locked (%s)", cfg.Lock)
	}
	task.Config = cfg

	pid, err := m.sup.IsRunning(ctx, task.VMID)
	if err != nil {
		return fmt.Errorf("unable to check VM state: %w", err)
	}
	task.Running = pid > 0
	if task.Running {
		if !task.Opts.Online {
			return validationf("can't migrate running VM without --online")
		}
		ret, err := m.mon.Cmd(ctx, qmp.MonitorPeer(task.VMID), "query-status", nil)
		if err != nil {
			return fmt.Errorf("unable to query VM status: %w", err)
		}
		var st queryStatus
		if err := json.Unmarshal(ret, &st); err != nil {
			return fmt.Errorf("unable to parse VM status: %w", err)
		}
		task.SourceStatus = st.Status
		logger.Info("VM is running", zap.Int("pid", pid), zap.String("status", st.Status))
	} else if task.Opts.Online {
		logger.Info("VM isn't running, doing offline migration instead")
		task.Opts.Online = false
	}

	if len(cfg.HostPCI) > 0 || len(cfg.USB) > 0 {
		if !task.Opts.Force {
			return validationf("can't migrate VM which uses local devices: %v", append(append([]string(nil), cfg.HostPCI...), cfg.USB...))
		}
		logger.Warn("migrating VM which uses local devices")
	}
	if task.Running && cfg.Clipboard == "vnc" {
		return validationf("VNC clipboard does not support live migration")
	}

	if err := m.engine.Scan(ctx, task); err != nil {
		return asValidation(err)
	}

	tun, err := m.tunnels.Open(ctx, task)
	if err != nil {
		return &TransportError{Op: "unable to open tunnel to target node", Err: err}
	}
	r.tun = tun
	logger.Info("tunnel established", zap.String("proto", tun.Proto()), zap.Int("version", tun.Version()))
	return nil
}

func (r *run) prepareCleanup(ctx context.Context, _ error) {
	if r.tun == nil {
		return
	}
	if err := r.tun.Finish(ctx, false); err != nil {
		r.m.logger.WithContext(ctx).Warn("failed to close tunnel", zap.Error(err))
	}
	r.tun = nil
}
