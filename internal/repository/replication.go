package repository

import (
	"context"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/model"
)

// ReplicationRepository 复制状态，实现 collab.Replication
type ReplicationRepository interface {
	collab.Replication
	Save(ctx context.Context, state *model.ReplicationState) error
}

func NewReplicationRepository(r *Repository) ReplicationRepository {
	return &replicationRepository{Repository: r}
}

type replicationRepository struct {
	*Repository
}

func (r *replicationRepository) Replicated(ctx context.Context, vmid uint32, target string) (map[string]collab.ReplicatedVolume, error) {
	var rows []*model.ReplicationState
	if err := r.DB(ctx).
		Where("vmid = ? AND target = ? AND failed = ?", vmid, target, 0).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]collab.ReplicatedVolume, len(rows))
	for _, row := range rows {
		out[row.VolID] = collab.ReplicatedVolume{
			VolID:    row.VolID,
			LastSync: row.LastSync,
			Bitmap:   row.Bitmap,
		}
	}
	return out, nil
}

// SwitchTarget 迁移后复制方向反转：新的源是 target，目标是 source
func (r *replicationRepository) SwitchTarget(ctx context.Context, vmid uint32, source, target string) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.DB(ctx).Where("vmid = ? AND target = ?", vmid, source).
			Delete(&model.ReplicationState{}).Error; err != nil {
			return err
		}
		return r.DB(ctx).Model(&model.ReplicationState{}).
			Where("vmid = ? AND target = ?", vmid, target).
			Updates(map[string]interface{}{
				"source": target,
				"target": source,
			}).Error
	})
}

func (r *replicationRepository) Save(ctx context.Context, state *model.ReplicationState) error {
	return r.DB(ctx).Save(state).Error
}
