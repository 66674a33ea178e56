package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	v1 "pvemigrate/api/v1"
	"pvemigrate/internal/collab"
	"pvemigrate/internal/migrate"
	"pvemigrate/internal/model"
	"pvemigrate/internal/repository"
	"pvemigrate/pkg/log"

	"go.uber.org/zap"
)

// Migrator 执行一次迁移，*migrate.Migrator 实现了它
type Migrator interface {
	Migrate(ctx context.Context, task *collab.MigrationTask) error
}

type MigrateService interface {
	// Migrate 创建任务并在后台执行，返回任务 ID
	Migrate(ctx context.Context, vmid uint32, creator string, req *v1.MigrateVMRequest) (string, error)
	GetTask(ctx context.Context, taskID string) (*v1.TaskItem, error)
	ListTasks(ctx context.Context, req *v1.ListTasksRequest) (*v1.ListTasksData, error)
	GetTaskLog(ctx context.Context, taskID string, req *v1.GetTaskLogRequest) (*v1.GetTaskLogData, error)
	// StopTask 取消运行中的任务，迁移会回滚
	StopTask(ctx context.Context, taskID string) error
	// Shutdown 取消所有任务并等待回滚结束
	Shutdown(ctx context.Context) error
}

func NewMigrateService(
	service *Service,
	migrator Migrator,
	taskRepo repository.MigrateTaskRepository,
	logRepo repository.TaskLogRepository,
	logger *log.Logger,
) MigrateService {
	return &migrateService{
		Service:  service,
		migrator: migrator,
		taskRepo: taskRepo,
		logRepo:  logRepo,
		logger:   logger,
		running:  make(map[string]context.CancelFunc),
	}
}

type migrateService struct {
	*Service
	migrator Migrator
	taskRepo repository.MigrateTaskRepository
	logRepo  repository.TaskLogRepository
	logger   *log.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func migrateOptions(req *v1.MigrateVMRequest) (collab.Options, error) {
	opts := collab.Options{
		Online:         req.Online,
		Force:          req.Force,
		WithLocalDisks: req.WithLocalDisks,
		TargetStorage:  req.TargetStorage,
		BridgeMap:      req.BridgeMap,
		MigrationType:  req.MigrationType,
		Network:        req.MigrationNetwork,
		BWLimitKiB:     req.Bwlimit,
	}
	switch opts.MigrationType {
	case "":
		opts.MigrationType = collab.TypeSecure
	case collab.TypeSecure, collab.TypeInsecure, collab.TypeWebsocket:
	default:
		return opts, fmt.Errorf("%w: unknown migration type '%s'", v1.ErrInvalidMigration, req.MigrationType)
	}
	if opts.BWLimitKiB < 0 {
		return opts, fmt.Errorf("%w: bwlimit must not be negative", v1.ErrInvalidMigration)
	}
	return opts, nil
}

func (s *migrateService) Migrate(ctx context.Context, vmid uint32, creator string, req *v1.MigrateVMRequest) (string, error) {
	if vmid == 0 {
		return "", fmt.Errorf("%w: invalid vmid", v1.ErrInvalidMigration)
	}
	if req.Target == s.node {
		return "", fmt.Errorf("%w: target node is local node", v1.ErrInvalidMigration)
	}
	opts, err := migrateOptions(req)
	if err != nil {
		return "", err
	}
	taskID, err := s.sid.GenTaskID(s.node, vmid)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}

	mode := string(collab.ModeOffline)
	if opts.Online {
		mode = string(collab.ModeOnline)
	}
	task := collab.NewMigrationTask(taskID, vmid, s.node, req.Target, opts)
	row := &model.MigrateTask{
		TaskID:     taskID,
		VMID:       vmid,
		Node:       s.node,
		TargetNode: req.Target,
		Mode:       mode,
		Options:    string(raw),
		Status:     model.MigrateTaskStatusRunning,
		Phase:      string(task.Phase),
		StartTime:  task.StartTime,
		Creator:    creator,
	}
	if err := s.taskRepo.Create(ctx, row); err != nil {
		s.logger.WithContext(ctx).Error("failed to create migrate task", zap.Error(err))
		return "", v1.ErrInternalServerError
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[taskID] = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	go s.run(runCtx, task)

	s.logger.WithContext(ctx).Info("migrate task created", zap.String("task_id", taskID), zap.Uint32("vmid", vmid), zap.String("target", req.Target))
	return taskID, nil
}

func (s *migrateService) run(ctx context.Context, task *collab.MigrationTask) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.running[task.ID]; ok {
			cancel()
			delete(s.running, task.ID)
		}
		s.mu.Unlock()
	}()

	zl := newTaskLogger(s.logger.Logger, s.logRepo, task.ID, task.VMID)
	ctx = log.NewContext(ctx, zl)

	err := s.migrator.Migrate(ctx, task)

	status, msg := model.MigrateTaskStatusOK, ""
	switch {
	case err != nil:
		status, msg = model.MigrateTaskStatusError, err.Error()
		if errors.Is(err, context.Canceled) {
			msg = "migration canceled"
		}
		zl.Error("TASK ERROR: " + msg)
	case task.Errors:
		status, msg = model.MigrateTaskStatusWarnings, "finished with warnings"
		zl.Warn("TASK WARNINGS")
	default:
		zl.Info("TASK OK")
	}
	if err := s.taskRepo.Finish(context.Background(), task.ID, status, msg, time.Now()); err != nil {
		s.logger.Error("failed to finish migrate task", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func taskItem(t *model.MigrateTask) v1.TaskItem {
	item := v1.TaskItem{
		TaskID:       t.TaskID,
		VMID:         t.VMID,
		Node:         t.Node,
		TargetNode:   t.TargetNode,
		Mode:         t.Mode,
		Status:       t.Status,
		Phase:        t.Phase,
		StartTime:    t.StartTime.Unix(),
		ErrorMessage: t.ErrorMessage,
	}
	if t.EndTime != nil {
		item.EndTime = t.EndTime.Unix()
	}
	return item
}

func (s *migrateService) getTask(ctx context.Context, taskID string) (*model.MigrateTask, error) {
	t, err := s.taskRepo.GetByTaskID(ctx, taskID)
	if err != nil {
		s.logger.WithContext(ctx).Error("failed to get migrate task", zap.String("task_id", taskID), zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	if t == nil {
		return nil, v1.ErrTaskNotFound
	}
	return t, nil
}

func (s *migrateService) GetTask(ctx context.Context, taskID string) (*v1.TaskItem, error) {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	item := taskItem(t)
	return &item, nil
}

func (s *migrateService) ListTasks(ctx context.Context, req *v1.ListTasksRequest) (*v1.ListTasksData, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}
	tasks, total, err := s.taskRepo.ListWithPagination(ctx, req.Page, req.PageSize, req.VMID, req.Status)
	if err != nil {
		s.logger.WithContext(ctx).Error("failed to list migrate tasks", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	data := &v1.ListTasksData{Total: total, List: make([]v1.TaskItem, 0, len(tasks))}
	for _, t := range tasks {
		data.List = append(data.List, taskItem(t))
	}
	return data, nil
}

func (s *migrateService) GetTaskLog(ctx context.Context, taskID string, req *v1.GetTaskLogRequest) (*v1.GetTaskLogData, error) {
	if _, err := s.getTask(ctx, taskID); err != nil {
		return nil, err
	}
	lines, total, err := s.logRepo.List(ctx, taskID, req.Start, req.Limit)
	if err != nil {
		s.logger.WithContext(ctx).Error("failed to list task log", zap.String("task_id", taskID), zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	data := &v1.GetTaskLogData{Total: total, Lines: make([]v1.TaskLogItem, 0, len(lines))}
	for _, l := range lines {
		data.Lines = append(data.Lines, v1.TaskLogItem{N: l.Seq, T: l.Line})
	}
	return data, nil
}

func (s *migrateService) StopTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	cancel, ok := s.running[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.WithContext(ctx).Info("migrate task canceled", zap.String("task_id", taskID))
		return nil
	}
	if _, err := s.getTask(ctx, taskID); err != nil {
		return err
	}
	return v1.ErrTaskNotRunning
}

func (s *migrateService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// phaseRecorder 把阶段变化写入 migrate_task 表
type phaseRecorder struct {
	repo   repository.MigrateTaskRepository
	logger *log.Logger
}

func NewPhaseRecorder(repo repository.MigrateTaskRepository, logger *log.Logger) migrate.PhaseRecorder {
	return &phaseRecorder{repo: repo, logger: logger}
}

func (p *phaseRecorder) RecordPhase(ctx context.Context, taskID string, phase collab.Phase) {
	if err := p.repo.UpdatePhase(context.WithoutCancel(ctx), taskID, string(phase)); err != nil {
		p.logger.WithContext(ctx).Warn("failed to record task phase", zap.String("phase", string(phase)), zap.Error(err))
	}
}
