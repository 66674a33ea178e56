package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/model"
	"pvemigrate/pkg/hash"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VMConfigRepository 以数据库保存虚拟机配置，实现 collab.ConfigStore
type VMConfigRepository interface {
	collab.ConfigStore
	ListByNode(ctx context.Context, node string) ([]*model.VMConfig, error)
}

func NewVMConfigRepository(r *Repository) VMConfigRepository {
	return &vmConfigRepository{Repository: r}
}

type vmConfigRepository struct {
	*Repository
}

func (r *vmConfigRepository) get(ctx context.Context, vmid uint32, forUpdate bool) (*model.VMConfig, error) {
	var row model.VMConfig
	db := r.DB(ctx)
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := db.Where("vmid = ?", vmid).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("config of VM %d: %w", vmid, collab.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func decodeConfig(row *model.VMConfig) (*collab.VMConfig, error) {
	var cfg collab.VMConfig
	if err := json.Unmarshal([]byte(row.Config), &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config of VM %d: %w", row.VMID, err)
	}
	cfg.VMID = row.VMID
	cfg.Node = row.Node
	cfg.Lock = row.Lock
	cfg.Digest = row.Digest
	return &cfg, nil
}

func encodeConfig(cfg *collab.VMConfig) (*model.VMConfig, error) {
	digest, err := hash.ConfigDigest(cfg)
	if err != nil {
		return nil, err
	}
	stored := *cfg
	stored.Digest = ""
	raw, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}
	return &model.VMConfig{
		VMID:   cfg.VMID,
		Node:   cfg.Node,
		Lock:   cfg.Lock,
		Config: string(raw),
		Digest: digest,
	}, nil
}

func (r *vmConfigRepository) Load(ctx context.Context, vmid uint32) (*collab.VMConfig, error) {
	row, err := r.get(ctx, vmid, false)
	if err != nil {
		return nil, err
	}
	return decodeConfig(row)
}

// Write 在事务中比较摘要后写入，成功后更新 cfg.Digest
func (r *vmConfigRepository) Write(ctx context.Context, cfg *collab.VMConfig) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		cur, err := r.get(ctx, cfg.VMID, true)
		if err != nil {
			return err
		}
		if cur.Digest != cfg.Digest {
			return collab.ErrDigestChanged
		}
		row, err := encodeConfig(cfg)
		if err != nil {
			return err
		}
		if err := r.DB(ctx).Model(&model.VMConfig{}).
			Where("vmid = ?", cfg.VMID).
			Updates(map[string]interface{}{
				"node":      row.Node,
				"lock_name": row.Lock,
				"config":    row.Config,
				"digest":    row.Digest,
			}).Error; err != nil {
			return err
		}
		cfg.Digest = row.Digest
		return nil
	})
}

func (r *vmConfigRepository) Create(ctx context.Context, cfg *collab.VMConfig) error {
	row, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	if err := r.DB(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("config of VM %d already exists", cfg.VMID)
		}
		return err
	}
	cfg.Digest = row.Digest
	return nil
}

func (r *vmConfigRepository) Delete(ctx context.Context, vmid uint32) error {
	res := r.DB(ctx).Where("vmid = ?", vmid).Delete(&model.VMConfig{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("config of VM %d: %w", vmid, collab.ErrNotFound)
	}
	return nil
}

// MoveOwnership 把配置交给 target 并清除锁
func (r *vmConfigRepository) MoveOwnership(ctx context.Context, vmid uint32, target string) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		row, err := r.get(ctx, vmid, true)
		if err != nil {
			return err
		}
		cfg, err := decodeConfig(row)
		if err != nil {
			return err
		}
		cfg.Node = target
		cfg.Lock = ""
		moved, err := encodeConfig(cfg)
		if err != nil {
			return err
		}
		return r.DB(ctx).Model(&model.VMConfig{}).
			Where("vmid = ?", vmid).
			Updates(map[string]interface{}{
				"node":      moved.Node,
				"lock_name": "",
				"config":    moved.Config,
				"digest":    moved.Digest,
			}).Error
	})
}

func (r *vmConfigRepository) ListByNode(ctx context.Context, node string) ([]*model.VMConfig, error) {
	var rows []*model.VMConfig
	if err := r.DB(ctx).Where("node = ?", node).Order("vmid ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
