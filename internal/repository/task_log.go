package repository

import (
	"context"

	"pvemigrate/internal/model"
)

type TaskLogRepository interface {
	Append(ctx context.Context, line *model.TaskLog) error
	// List 按 seq 返回从 start 开始的 limit 行，以及总行数
	List(ctx context.Context, taskID string, start, limit int) ([]*model.TaskLog, int64, error)
	DeleteByTaskIDs(ctx context.Context, taskIDs []string) error
}

func NewTaskLogRepository(r *Repository) TaskLogRepository {
	return &taskLogRepository{Repository: r}
}

type taskLogRepository struct {
	*Repository
}

func (r *taskLogRepository) Append(ctx context.Context, line *model.TaskLog) error {
	return r.DB(ctx).Create(line).Error
}

func (r *taskLogRepository) List(ctx context.Context, taskID string, start, limit int) ([]*model.TaskLog, int64, error) {
	var lines []*model.TaskLog
	var total int64

	query := r.DB(ctx).Model(&model.TaskLog{}).Where("task_id = ?", taskID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Where("seq >= ?", start).Order("seq ASC").Limit(limit).Find(&lines).Error; err != nil {
		return nil, 0, err
	}
	return lines, total, nil
}

func (r *taskLogRepository) DeleteByTaskIDs(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	return r.DB(ctx).Where("task_id IN ?", taskIDs).Delete(&model.TaskLog{}).Error
}
