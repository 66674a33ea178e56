package collabtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"pvemigrate/internal/collab"
)

// ConfigStore 内存中的配置存储，Digest 为写入次数
type ConfigStore struct {
	mu      sync.Mutex
	configs map[uint32]*collab.VMConfig
	version int
	// MoveErr 非空时 MoveOwnership 返回该错误
	MoveErr error
}

func NewConfigStore(cfgs ...*collab.VMConfig) *ConfigStore {
	s := &ConfigStore{configs: make(map[uint32]*collab.VMConfig)}
	for _, cfg := range cfgs {
		s.store(cfg)
	}
	return s
}

func (s *ConfigStore) store(cfg *collab.VMConfig) {
	s.version++
	stored := cfg.Clone()
	stored.Digest = strconv.Itoa(s.version)
	cfg.Digest = stored.Digest
	s.configs[cfg.VMID] = stored
}

// Get 不经过 Load 直接查看存储中的配置
func (s *ConfigStore) Get(vmid uint32) *collab.VMConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[vmid]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func (s *ConfigStore) Load(ctx context.Context, vmid uint32) (*collab.VMConfig, error) {
	if cfg := s.Get(vmid); cfg != nil {
		return cfg, nil
	}
	return nil, collab.ErrNotFound
}

func (s *ConfigStore) Write(ctx context.Context, cfg *collab.VMConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.configs[cfg.VMID]
	if !ok {
		return collab.ErrNotFound
	}
	if cfg.Digest != cur.Digest {
		return collab.ErrDigestChanged
	}
	s.store(cfg)
	return nil
}

func (s *ConfigStore) Create(ctx context.Context, cfg *collab.VMConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[cfg.VMID]; ok {
		return fmt.Errorf("config of VM %d already exists", cfg.VMID)
	}
	s.store(cfg)
	return nil
}

func (s *ConfigStore) Delete(ctx context.Context, vmid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[vmid]; !ok {
		return collab.ErrNotFound
	}
	delete(s.configs, vmid)
	return nil
}

func (s *ConfigStore) MoveOwnership(ctx context.Context, vmid uint32, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MoveErr != nil {
		return s.MoveErr
	}
	cfg, ok := s.configs[vmid]
	if !ok {
		return collab.ErrNotFound
	}
	cfg.Node = target
	cfg.Lock = ""
	return nil
}
