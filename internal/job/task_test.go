package job

import (
	"context"
	"testing"
	"time"

	"pvemigrate/internal/model"
	"pvemigrate/internal/repository"
	"pvemigrate/pkg/log"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTx struct{ calls int }

func (f *fakeTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeTaskRepo struct {
	repository.MigrateTaskRepository
	before      time.Time
	finished    []string
	deleted     []string
	interrupted int64
	running     map[uint32]int64
}

func (r *fakeTaskRepo) ListFinishedBefore(ctx context.Context, t time.Time) ([]string, error) {
	r.before = t
	return r.finished, nil
}

func (r *fakeTaskRepo) DeleteByTaskIDs(ctx context.Context, ids []string) error {
	r.deleted = append(r.deleted, ids...)
	return nil
}

func (r *fakeTaskRepo) MarkInterrupted(ctx context.Context, node string, endTime time.Time) (int64, error) {
	return r.interrupted, nil
}

func (r *fakeTaskRepo) ListWithPagination(ctx context.Context, page, pageSize int, vmid uint32, status string) ([]*model.MigrateTask, int64, error) {
	return nil, r.running[vmid], nil
}

type fakeLogRepo struct {
	repository.TaskLogRepository
	deleted []string
}

func (r *fakeLogRepo) DeleteByTaskIDs(ctx context.Context, ids []string) error {
	r.deleted = append(r.deleted, ids...)
	return nil
}

type fakeConfigRepo struct {
	repository.VMConfigRepository
	configs []*model.VMConfig
}

func (r *fakeConfigRepo) ListByNode(ctx context.Context, node string) ([]*model.VMConfig, error) {
	return r.configs, nil
}

func setupTaskJob(t *testing.T, tasks *fakeTaskRepo, logs *fakeLogRepo, configs *fakeConfigRepo) (*taskJob, *fakeTx, *observer.ObservedLogs) {
	core, observed := observer.New(zap.InfoLevel)
	conf := viper.New()
	conf.Set("node.name", "pve1")
	conf.Set("job.retention", 24*time.Hour)
	tx := &fakeTx{}
	j := NewJob(tx, &log.Logger{Logger: zap.New(core)}, nil)
	return NewTaskJob(j, tasks, logs, configs, conf).(*taskJob), tx, observed
}

func TestTaskJob_Prune(t *testing.T) {
	tasks := &fakeTaskRepo{finished: []string{"a", "b"}}
	logs := &fakeLogRepo{}
	job, tx, _ := setupTaskJob(t, tasks, logs, &fakeConfigRepo{})

	start := time.Now()
	require.NoError(t, job.Prune(context.Background()))
	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, []string{"a", "b"}, tasks.deleted)
	assert.Equal(t, []string{"a", "b"}, logs.deleted)
	assert.WithinDuration(t, start.Add(-24*time.Hour), tasks.before, time.Second)

	// 没有过期任务时不开事务
	tasks.finished = nil
	require.NoError(t, job.Prune(context.Background()))
	assert.Equal(t, 1, tx.calls)
}

func TestTaskJob_Recover(t *testing.T) {
	job, _, observed := setupTaskJob(t, &fakeTaskRepo{interrupted: 2}, &fakeLogRepo{}, &fakeConfigRepo{})
	require.NoError(t, job.Recover(context.Background()))
	require.Equal(t, 1, observed.FilterMessage("marked interrupted migrate tasks as failed").Len())
}

func TestTaskJob_CheckLocks(t *testing.T) {
	tasks := &fakeTaskRepo{running: map[uint32]int64{101: 1}}
	configs := &fakeConfigRepo{configs: []*model.VMConfig{
		{VMID: 100, Node: "pve1", Lock: "migrate"},
		{VMID: 101, Node: "pve1", Lock: "migrate"},
		{VMID: 102, Node: "pve1", Lock: "backup"},
		{VMID: 103, Node: "pve1"},
	}}
	job, _, observed := setupTaskJob(t, tasks, &fakeLogRepo{}, configs)

	require.NoError(t, job.CheckLocks(context.Background()))
	warned := observed.FilterMessage("VM is locked by a migration not running on this node").All()
	require.Len(t, warned, 1)
	assert.Equal(t, uint32(100), warned[0].ContextMap()["vmid"])
}
