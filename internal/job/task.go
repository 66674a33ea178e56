package job

import (
	"context"
	"time"

	"pvemigrate/internal/model"
	"pvemigrate/internal/repository"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type TaskJob interface {
	// Recover 进程启动时把上次遗留的 running 任务置为 error
	Recover(ctx context.Context) error
	// Prune 删除超过保留期的任务及其日志
	Prune(ctx context.Context) error
	// CheckLocks 报告被中断的迁移遗留的配置锁
	CheckLocks(ctx context.Context) error
}

func NewTaskJob(
	job *Job,
	taskRepo repository.MigrateTaskRepository,
	logRepo repository.TaskLogRepository,
	configRepo repository.VMConfigRepository,
	conf *viper.Viper,
) TaskJob {
	return &taskJob{
		Job:        job,
		taskRepo:   taskRepo,
		logRepo:    logRepo,
		configRepo: configRepo,
		node:       conf.GetString("node.name"),
		retention:  conf.GetDuration("job.retention"),
	}
}

type taskJob struct {
	*Job
	taskRepo   repository.MigrateTaskRepository
	logRepo    repository.TaskLogRepository
	configRepo repository.VMConfigRepository
	node       string
	retention  time.Duration
}

func (t *taskJob) Recover(ctx context.Context) error {
	n, err := t.taskRepo.MarkInterrupted(ctx, t.node, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Warn("marked interrupted migrate tasks as failed", zap.Int64("count", n))
	}
	return nil
}

func (t *taskJob) Prune(ctx context.Context) error {
	if t.retention <= 0 {
		return nil
	}
	ids, err := t.taskRepo.ListFinishedBefore(ctx, time.Now().Add(-t.retention))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	err = t.tm.Transaction(ctx, func(ctx context.Context) error {
		if err := t.logRepo.DeleteByTaskIDs(ctx, ids); err != nil {
			return err
		}
		return t.taskRepo.DeleteByTaskIDs(ctx, ids)
	})
	if err != nil {
		return err
	}
	t.logger.Info("pruned finished migrate tasks", zap.Int("count", len(ids)))
	return nil
}

func (t *taskJob) CheckLocks(ctx context.Context) error {
	configs, err := t.configRepo.ListByNode(ctx, t.node)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if cfg.Lock != "migrate" {
			continue
		}
		_, running, err := t.taskRepo.ListWithPagination(ctx, 1, 1, cfg.VMID, model.MigrateTaskStatusRunning)
		if err != nil {
			return err
		}
		if running == 0 {
			t.logger.Warn("VM is locked by a migration not running on this node", zap.Uint32("vmid", cfg.VMID))
		}
	}
	return nil
}
