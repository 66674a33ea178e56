package migrate

import (
	"context"
	"encoding/json"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/qmp"

	"go.uber.org/zap"
)

// finalize 此时客户机已在目标端，错误只记录为告警
func (r *run) finalize(ctx context.Context) error {
	m, task := r.m, r.task
	logger := m.logger.WithContext(ctx)

	if r.mirrorsStarted {
		if err := m.engine.CompleteMirrors(ctx, task); err != nil {
			r.warn(ctx, "failed to complete storage migration", err)
		}
	}

	if m.repl != nil && hasReplicated(task) {
		if err := m.repl.SwitchTarget(ctx, task.VMID, task.Node, task.TargetNode); err != nil {
			r.warn(ctx, "failed to transfer replication jobs", err)
		}
	}

	moved := true
	if err := m.configs.MoveOwnership(ctx, task.VMID, task.TargetNode); err != nil {
		moved = false
		r.warn(ctx, "failed to move config to target node", err)
	} else {
		r.configLocked = false
	}

	if task.Running {
		if keepPaused[task.SourceStatus] {
			logger.Info("VM was not running before migration, keeping it paused", zap.String("status", task.SourceStatus))
		} else if _, err := r.tun.Write(ctx, "resume", nil, 0); err != nil {
			r.warn(ctx, "failed to resume VM on target", err)
		}
		if task.Config.FSTrimClonedDisks && r.copiedVolumes() {
			if _, err := r.tun.Write(ctx, "fstrim", nil, 0); err != nil {
				r.warn(ctx, "fstrim on target failed", err)
			}
		}
		if err := m.sup.Stop(ctx, task.VMID, collab.StopOptions{SkipLock: true}); err != nil {
			r.warn(ctx, "failed to stop source VM", err)
		}
	}

	if moved {
		r.freeSourceVolumes(ctx)
	} else {
		logger.Warn("keeping source volumes, config was not moved")
	}

	if _, err := r.tun.Write(ctx, "unlock", nil, 0); err != nil {
		r.warn(ctx, "failed to clear migrate lock on target", err)
	}
	if err := r.tun.Finish(ctx, true); err != nil {
		r.warn(ctx, "failed to close tunnel", err)
	}
	r.tun = nil
	return nil
}

func hasReplicated(task *collab.MigrationTask) bool {
	for _, vol := range task.Volumes {
		if vol.Replicated {
			return true
		}
	}
	return false
}

// copiedVolumes 本次迁移实际复制过磁盘数据，已复制的离线卷不算
func (r *run) copiedVolumes() bool {
	return r.mirrorsStarted || len(storagesync.OfflineVolumes(r.task)) > 0
}

// freeSourceVolumes 复制中的卷保留给反向复制使用
func (r *run) freeSourceVolumes(ctx context.Context) {
	task := r.task
	logger := r.m.logger.WithContext(ctx)
	for _, vol := range storagesync.OfflineVolumes(task) {
		r.free(ctx, vol)
	}
	for _, vol := range storagesync.OnlineVolumes(task) {
		if vol.Replicated {
			continue
		}
		r.free(ctx, vol)
	}
	for volid, vol := range task.Volumes {
		if vol.Replicated {
			logger.Info("keeping replicated volume", zap.String("volid", volid))
		}
	}
}

func (r *run) free(ctx context.Context, vol *collab.LocalVolume) {
	if err := r.m.storage.Free(ctx, vol.VolID); err != nil {
		r.warn(ctx, "failed to free source volume "+vol.VolID, err)
		return
	}
	r.m.logger.WithContext(ctx).Info("removed source volume", zap.String("volid", vol.VolID))
}

// rollback Execute 失败时按顺序撤销，单步失败不影响后续步骤
func (r *run) rollback(ctx context.Context, cause error) {
	m, task := r.m, r.task
	logger := m.logger.WithContext(ctx)
	peer := qmp.MonitorPeer(task.VMID)
	logger.Info("rolling back migration", zap.NamedError("cause", cause))

	if r.migrateStarted {
		if _, err := m.mon.Cmd(ctx, peer, "migrate_cancel", nil); err != nil {
			logger.Warn("migrate_cancel failed", zap.Error(err))
		}
	}
	if r.mirrorsStarted {
		if err := m.engine.AbortMirrors(ctx, task); err != nil {
			logger.Warn("failed to cancel storage migration", zap.Error(err))
		}
	}
	if task.Running && !keepPaused[task.SourceStatus] {
		r.resumeSource(ctx)
	}
	if r.configLocked {
		r.clearLock(ctx)
	}
	if r.tun != nil {
		if r.targetStarted {
			if _, err := r.tun.Write(ctx, "stop", collab.StopParams{}, 0); err != nil {
				logger.Warn("failed to stop target VM", zap.Error(err))
			}
		}
		// quit 带 cleanup 时目标端释放已分配的卷和配置
		if err := r.tun.Finish(ctx, false); err != nil {
			logger.Warn("failed to close tunnel", zap.Error(err))
		}
		r.tun = nil
	}
}

func (r *run) resumeSource(ctx context.Context) {
	m, task := r.m, r.task
	logger := m.logger.WithContext(ctx)
	peer := qmp.MonitorPeer(task.VMID)
	ret, err := m.mon.Cmd(ctx, peer, "query-status", nil)
	if err != nil {
		logger.Warn("unable to query source VM status", zap.Error(err))
		return
	}
	var st queryStatus
	if err := json.Unmarshal(ret, &st); err != nil || st.Running {
		return
	}
	if _, err := m.mon.Cmd(ctx, peer, "cont", nil); err != nil {
		logger.Warn("failed to resume source VM", zap.Error(err))
		return
	}
	logger.Info("source VM resumed", zap.String("previous_status", st.Status))
}

func (r *run) clearLock(ctx context.Context) {
	m, task := r.m, r.task
	cfg, err := m.configs.Load(ctx, task.VMID)
	if err != nil {
		m.logger.WithContext(ctx).Warn("unable to reload VM config", zap.Error(err))
		return
	}
	if cfg.Lock == lockMigrate {
		cfg.Lock = ""
		if err := m.configs.Write(ctx, cfg); err != nil {
			m.logger.WithContext(ctx).Warn("failed to clear migrate lock", zap.Error(err))
			return
		}
	}
	task.Config.Lock = ""
	r.configLocked = false
}
