package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	v1 "pvemigrate/api/v1"
	"pvemigrate/internal/collab"
	"pvemigrate/internal/model"
	"pvemigrate/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcMigrator func(ctx context.Context, task *collab.MigrationTask) error

func (f funcMigrator) Migrate(ctx context.Context, task *collab.MigrationTask) error {
	return f(ctx, task)
}

func setupMigrateService(t *testing.T, m Migrator) (*migrateService, *fakeTaskRepo, *fakeLogRepo) {
	tasks := newFakeTaskRepo()
	logs := &fakeLogRepo{}
	svc := NewMigrateService(newTestService(t), m, tasks, logs, log.NewNop()).(*migrateService)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, tasks, logs
}

func waitFinished(t *testing.T, repo *fakeTaskRepo, taskID string) {
	require.Eventually(t, func() bool {
		s := repo.status(taskID)
		return s != "" && s != model.MigrateTaskStatusRunning
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMigrateService_Migrate_OK(t *testing.T) {
	var got *collab.MigrationTask
	svc, tasks, logs := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		got = task
		logger := taskLogger(ctx)
		logger.Info("starting migration of VM 100 to node 'pve2'")
		logger.Warn("volume is not shared")
		return nil
	}))

	taskID, err := svc.Migrate(context.Background(), 100, "node:pve2", &v1.MigrateVMRequest{
		Target:        "pve2",
		Online:        true,
		TargetStorage: map[string]string{"*": "fast"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(taskID, "UPID:pve1:"))
	assert.True(t, strings.HasSuffix(taskID, ":qmigrate:100"))

	waitFinished(t, tasks, taskID)
	row, _ := tasks.GetByTaskID(context.Background(), taskID)
	assert.Equal(t, model.MigrateTaskStatusOK, row.Status)
	assert.Equal(t, "online", row.Mode)
	assert.Equal(t, "node:pve2", row.Creator)
	assert.NotNil(t, row.EndTime)

	require.NotNil(t, got)
	assert.Equal(t, "pve1", got.Node)
	assert.Equal(t, "pve2", got.TargetNode)
	assert.Equal(t, collab.TypeSecure, got.Opts.MigrationType)
	assert.Equal(t, "fast", got.Opts.TargetStorage["*"])

	lines := logs.text(taskID)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "starting migration of VM 100")
	assert.Contains(t, lines[1], "WARN: volume is not shared")
	assert.Equal(t, "TASK OK", lines[2])
	assert.NotContains(t, lines[0], "task_id")

	data, err := svc.GetTaskLog(context.Background(), taskID, &v1.GetTaskLogRequest{Start: 2, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(3), data.Total)
	require.Len(t, data.Lines, 2)
	assert.Equal(t, 2, data.Lines[0].N)
	assert.Equal(t, "TASK OK", data.Lines[1].T)
}

// taskLogger 迁移过程中 ctx 上的任务 logger
func taskLogger(ctx context.Context) *log.Logger {
	return log.NewNop().WithContext(ctx)
}

func TestMigrateService_Migrate_Warnings(t *testing.T) {
	svc, tasks, logs := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		task.Errors = true
		return nil
	}))
	taskID, err := svc.Migrate(context.Background(), 100, "", &v1.MigrateVMRequest{Target: "pve2"})
	require.NoError(t, err)
	waitFinished(t, tasks, taskID)

	row, _ := tasks.GetByTaskID(context.Background(), taskID)
	assert.Equal(t, model.MigrateTaskStatusWarnings, row.Status)
	assert.Equal(t, "offline", row.Mode)
	assert.Equal(t, []string{"TASK WARNINGS"}, logs.text(taskID))
}

func TestMigrateService_Migrate_Error(t *testing.T) {
	svc, tasks, logs := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		return errors.New("storage 'local' is not available on node 'pve2'")
	}))
	taskID, err := svc.Migrate(context.Background(), 100, "", &v1.MigrateVMRequest{Target: "pve2"})
	require.NoError(t, err)
	waitFinished(t, tasks, taskID)

	item, err := svc.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, model.MigrateTaskStatusError, item.Status)
	assert.Equal(t, "storage 'local' is not available on node 'pve2'", item.ErrorMessage)
	assert.NotZero(t, item.EndTime)
	assert.Equal(t, []string{"TASK ERROR: storage 'local' is not available on node 'pve2'"}, logs.text(taskID))
}

func TestMigrateService_Migrate_Invalid(t *testing.T) {
	called := false
	svc, _, _ := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		called = true
		return nil
	}))
	cases := []struct {
		name string
		vmid uint32
		req  *v1.MigrateVMRequest
	}{
		{name: "local target", vmid: 100, req: &v1.MigrateVMRequest{Target: "pve1"}},
		{name: "zero vmid", vmid: 0, req: &v1.MigrateVMRequest{Target: "pve2"}},
		{name: "unknown type", vmid: 100, req: &v1.MigrateVMRequest{Target: "pve2", MigrationType: "rsync"}},
		{name: "negative bwlimit", vmid: 100, req: &v1.MigrateVMRequest{Target: "pve2", Bwlimit: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Migrate(context.Background(), tc.vmid, "", tc.req)
			assert.ErrorIs(t, err, v1.ErrInvalidMigration)
		})
	}
	assert.False(t, called)
}

func TestMigrateService_StopTask(t *testing.T) {
	started := make(chan struct{})
	svc, tasks, logs := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	taskID, err := svc.Migrate(context.Background(), 100, "", &v1.MigrateVMRequest{Target: "pve2", Online: true})
	require.NoError(t, err)
	<-started

	require.NoError(t, svc.StopTask(context.Background(), taskID))
	waitFinished(t, tasks, taskID)

	row, _ := tasks.GetByTaskID(context.Background(), taskID)
	assert.Equal(t, model.MigrateTaskStatusError, row.Status)
	assert.Equal(t, "migration canceled", row.ErrorMessage)
	assert.Equal(t, []string{"TASK ERROR: migration canceled"}, logs.text(taskID))

	require.Eventually(t, func() bool {
		return errors.Is(svc.StopTask(context.Background(), taskID), v1.ErrTaskNotRunning)
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, svc.StopTask(context.Background(), "UPID:pve1:none:qmigrate:1"), v1.ErrTaskNotFound)
}

func TestMigrateService_Shutdown(t *testing.T) {
	release := make(chan struct{})
	svc, tasks, _ := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		<-ctx.Done()
		// 回滚
		<-release
		return ctx.Err()
	}))
	taskID, err := svc.Migrate(context.Background(), 100, "", &v1.MigrateVMRequest{Target: "pve2"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, model.MigrateTaskStatusError, tasks.status(taskID))
}

func TestMigrateService_ListTasks(t *testing.T) {
	svc, tasks, _ := setupMigrateService(t, funcMigrator(func(ctx context.Context, task *collab.MigrationTask) error {
		return nil
	}))
	now := time.Now()
	require.NoError(t, tasks.Create(context.Background(), &model.MigrateTask{TaskID: "a", VMID: 100, Status: "ok", StartTime: now, EndTime: &now}))
	require.NoError(t, tasks.Create(context.Background(), &model.MigrateTask{TaskID: "b", VMID: 101, Status: "running", StartTime: now}))

	req := &v1.ListTasksRequest{PageSize: 500, VMID: 100}
	data, err := svc.ListTasks(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, tasks.lastPage)
	assert.Equal(t, 100, tasks.lastSize)
	assert.Equal(t, int64(1), data.Total)
	require.Len(t, data.List, 1)
	assert.Equal(t, "a", data.List[0].TaskID)
	assert.Equal(t, now.Unix(), data.List[0].EndTime)

	_, err = svc.GetTaskLog(context.Background(), "missing", &v1.GetTaskLogRequest{Limit: 10})
	assert.ErrorIs(t, err, v1.ErrTaskNotFound)
}

func TestPhaseRecorder(t *testing.T) {
	tasks := newFakeTaskRepo()
	require.NoError(t, tasks.Create(context.Background(), &model.MigrateTask{TaskID: "a"}))
	rec := NewPhaseRecorder(tasks, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.RecordPhase(ctx, "a", collab.PhaseFinalize)

	row, _ := tasks.GetByTaskID(context.Background(), "a")
	assert.Equal(t, string(collab.PhaseFinalize), row.Phase)
}
