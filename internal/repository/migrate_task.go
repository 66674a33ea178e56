package repository

import (
	"context"
	"errors"
	"time"

	"pvemigrate/internal/model"

	"gorm.io/gorm"
)

type MigrateTaskRepository interface {
	Create(ctx context.Context, task *model.MigrateTask) error
	GetByTaskID(ctx context.Context, taskID string) (*model.MigrateTask, error)
	UpdatePhase(ctx context.Context, taskID, phase string) error
	Finish(ctx context.Context, taskID, status, errorMsg string, endTime time.Time) error
	ListWithPagination(ctx context.Context, page, pageSize int, vmid uint32, status string) ([]*model.MigrateTask, int64, error)
	// ListFinishedBefore 结束时间早于 t 的任务 ID
	ListFinishedBefore(ctx context.Context, t time.Time) ([]string, error)
	// MarkInterrupted 进程重启后仍处于 running 的任务置为 error
	MarkInterrupted(ctx context.Context, node string, endTime time.Time) (int64, error)
	DeleteByTaskIDs(ctx context.Context, taskIDs []string) error
}

func NewMigrateTaskRepository(r *Repository) MigrateTaskRepository {
	return &migrateTaskRepository{Repository: r}
}

type migrateTaskRepository struct {
	*Repository
}

func (r *migrateTaskRepository) Create(ctx context.Context, task *model.MigrateTask) error {
	return r.DB(ctx).Create(task).Error
}

func (r *migrateTaskRepository) GetByTaskID(ctx context.Context, taskID string) (*model.MigrateTask, error) {
	var task model.MigrateTask
	if err := r.DB(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *migrateTaskRepository) UpdatePhase(ctx context.Context, taskID, phase string) error {
	return r.DB(ctx).Model(&model.MigrateTask{}).
		Where("task_id = ?", taskID).
		Update("phase", phase).Error
}

func (r *migrateTaskRepository) Finish(ctx context.Context, taskID, status, errorMsg string, endTime time.Time) error {
	return r.DB(ctx).Model(&model.MigrateTask{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMsg,
			"end_time":      endTime,
		}).Error
}

func (r *migrateTaskRepository) ListWithPagination(ctx context.Context, page, pageSize int, vmid uint32, status string) ([]*model.MigrateTask, int64, error) {
	var tasks []*model.MigrateTask
	var total int64

	query := r.DB(ctx).Model(&model.MigrateTask{})
	if vmid > 0 {
		query = query.Where("vmid = ?", vmid)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *migrateTaskRepository) ListFinishedBefore(ctx context.Context, t time.Time) ([]string, error) {
	var ids []string
	err := r.DB(ctx).Model(&model.MigrateTask{}).
		Where("status <> ? AND end_time < ?", model.MigrateTaskStatusRunning, t).
		Pluck("task_id", &ids).Error
	return ids, err
}

func (r *migrateTaskRepository) MarkInterrupted(ctx context.Context, node string, endTime time.Time) (int64, error) {
	res := r.DB(ctx).Model(&model.MigrateTask{}).
		Where("node = ? AND status = ?", node, model.MigrateTaskStatusRunning).
		Updates(map[string]interface{}{
			"status":        model.MigrateTaskStatusError,
			"error_message": "interrupted by service restart",
			"end_time":      endTime,
		})
	return res.RowsAffected, res.Error
}

func (r *migrateTaskRepository) DeleteByTaskIDs(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	return r.DB(ctx).Where("task_id IN ?", taskIDs).Delete(&model.MigrateTask{}).Error
}
