// Package migrate 按 Prepare -> Execute -> Finalize 驱动一次虚拟机迁移
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/tunnel"

	"go.uber.org/zap"
)

// TunnelOpener 打开到目标节点的隧道并完成版本协商
type TunnelOpener interface {
	Open(ctx context.Context, task *collab.MigrationTask) (tunnel.Tunnel, error)
}

// PhaseRecorder 记录任务进入的阶段
type PhaseRecorder interface {
	RecordPhase(ctx context.Context, taskID string, phase collab.Phase)
}

type Migrator struct {
	phases  PhaseRecorder
	mon     storagesync.Monitor
	engine  *storagesync.Engine
	sup     collab.Supervisor
	configs collab.ConfigStore
	locker  collab.Locker
	storage collab.Storage
	repl    collab.Replication
	tunnels TunnelOpener
	logger  *log.Logger
	conf    Config
}

type Deps struct {
	Monitor     storagesync.Monitor
	Engine      *storagesync.Engine
	Supervisor  collab.Supervisor
	Configs     collab.ConfigStore
	Locker      collab.Locker
	Storage     collab.Storage
	Replication collab.Replication
	Tunnels     TunnelOpener
	// Phases 可为空
	Phases PhaseRecorder
}

func NewMigrator(deps Deps, logger *log.Logger, conf Config) *Migrator {
	conf.setDefaults()
	return &Migrator{
		mon:     deps.Monitor,
		engine:  deps.Engine,
		sup:     deps.Supervisor,
		configs: deps.Configs,
		locker:  deps.Locker,
		storage: deps.Storage,
		repl:    deps.Replication,
		tunnels: deps.Tunnels,
		phases:  deps.Phases,
		logger:  logger,
		conf:    conf,
	}
}

// run 一次迁移的运行期状态
type run struct {
	m    *Migrator
	task *collab.MigrationTask
	tun  tunnel.Tunnel

	// 已经产生的副作用，回滚时按这些标记撤销
	targetStarted  bool
	migrateStarted bool
	mirrorsStarted bool
	configLocked   bool

	downtime time.Duration
}

type phase struct {
	name    collab.Phase
	run     func(ctx context.Context) error
	cleanup func(ctx context.Context, err error)
}

// Migrate 执行迁移；Finalize 阶段的问题只记录告警并设置 task.Errors
func (m *Migrator) Migrate(ctx context.Context, task *collab.MigrationTask) error {
	logger := m.logger.WithContext(ctx)
	if task.TargetNode == task.Node {
		return validationf("target node is local node")
	}

	unlock, err := m.locker.Lock(ctx, task.VMID, task.ID, m.conf.LockTTL)
	if err != nil {
		if errors.Is(err, collab.ErrLocked) {
			return validationf("VM %d is locked by another operation", task.VMID)
		}
		return fmt.Errorf("unable to lock VM %d: %w", task.VMID, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release guest lock", zap.Error(err))
		}
	}()

	r := &run{m: m, task: task, downtime: m.conf.Downtime}
	phases := []phase{
		{name: collab.PhasePrepare, run: r.prepare, cleanup: r.prepareCleanup},
		{name: collab.PhaseExecute, run: r.execute, cleanup: r.rollback},
		{name: collab.PhaseFinalize, run: r.finalize},
	}

	logger.Info("starting migration", zap.Uint32("vmid", task.VMID), zap.String("target", task.TargetNode))
	for i, p := range phases {
		m.setPhase(ctx, task, p.name)
		if err := p.run(ctx); err != nil {
			logger.Error("migration aborted", zap.String("phase", string(p.name)), zap.Error(err))
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.conf.CleanupTimeout)
			for j := i; j >= 0; j-- {
				if phases[j].cleanup != nil {
					phases[j].cleanup(cctx, err)
				}
			}
			cancel()
			return err
		}
	}
	m.setPhase(ctx, task, collab.PhaseDone)

	elapsed := time.Since(task.StartTime).Round(time.Second)
	if task.Errors {
		logger.Warn("migration finished with problems", zap.Duration("duration", elapsed))
	} else {
		logger.Info("migration finished successfully", zap.Duration("duration", elapsed))
	}
	return nil
}

func (m *Migrator) setPhase(ctx context.Context, task *collab.MigrationTask, p collab.Phase) {
	task.Phase = p
	if m.phases != nil {
		m.phases.RecordPhase(ctx, task.ID, p)
	}
}

// warn Finalize 和清理阶段的错误只记录
func (r *run) warn(ctx context.Context, msg string, err error) {
	r.task.Errors = true
	r.m.logger.WithContext(ctx).Warn(msg, zap.Error(err))
}
