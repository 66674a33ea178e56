package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"pvemigrate/internal/model"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/sid"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, yaml string) *viper.Viper {
	conf := viper.New()
	conf.SetConfigType("yaml")
	require.NoError(t, conf.ReadConfig(strings.NewReader(yaml)))
	return conf
}

func newTestService(t *testing.T) *Service {
	conf := newTestConfig(t, `
node:
  name: pve1
  machine_id: 7
security:
  jwt:
    key: service-test-key
`)
	return NewService(nil, log.NewNop(), sid.NewSid(conf), jwt.NewJwt(conf), conf)
}

// fakeTaskRepo 内存中的 MigrateTaskRepository
type fakeTaskRepo struct {
	mu     sync.Mutex
	tasks  map[string]*model.MigrateTask
	phases []string
	// lastPage 最近一次 ListWithPagination 的参数
	lastPage, lastSize int
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*model.MigrateTask)}
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *model.MigrateTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.TaskID] = &cp
	return nil
}

func (r *fakeTaskRepo) GetByTaskID(ctx context.Context, taskID string) (*model.MigrateTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) UpdatePhase(ctx context.Context, taskID, phase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
	if t, ok := r.tasks[taskID]; ok {
		t.Phase = phase
	}
	return nil
}

func (r *fakeTaskRepo) Finish(ctx context.Context, taskID, status, errorMsg string, endTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[taskID]
	t.Status = status
	t.ErrorMessage = errorMsg
	t.EndTime = &endTime
	return nil
}

func (r *fakeTaskRepo) ListWithPagination(ctx context.Context, page, pageSize int, vmid uint32, status string) ([]*model.MigrateTask, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPage, r.lastSize = page, pageSize
	var out []*model.MigrateTask
	for _, t := range r.tasks {
		if (vmid == 0 || t.VMID == vmid) && (status == "" || t.Status == status) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, int64(len(out)), nil
}

func (r *fakeTaskRepo) ListFinishedBefore(ctx context.Context, before time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, t := range r.tasks {
		if t.EndTime != nil && t.EndTime.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeTaskRepo) MarkInterrupted(ctx context.Context, node string, endTime time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeTaskRepo) DeleteByTaskIDs(ctx context.Context, taskIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range taskIDs {
		delete(r.tasks, id)
	}
	return nil
}

func (r *fakeTaskRepo) status(taskID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok {
		return t.Status
	}
	return ""
}

// fakeLogRepo 内存中的 TaskLogRepository
type fakeLogRepo struct {
	mu    sync.Mutex
	lines []*model.TaskLog
}

func (r *fakeLogRepo) Append(ctx context.Context, line *model.TaskLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *line
	r.lines = append(r.lines, &cp)
	return nil
}

func (r *fakeLogRepo) List(ctx context.Context, taskID string, start, limit int) ([]*model.TaskLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.TaskLog
	for _, l := range r.lines {
		if l.TaskID == taskID {
			all = append(all, l)
		}
	}
	var out []*model.TaskLog
	for _, l := range all {
		if l.Seq >= start && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, int64(len(all)), nil
}

func (r *fakeLogRepo) DeleteByTaskIDs(ctx context.Context, taskIDs []string) error {
	return nil
}

func (r *fakeLogRepo) text(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if l.TaskID == taskID {
			out = append(out, l.Line)
		}
	}
	return out
}
