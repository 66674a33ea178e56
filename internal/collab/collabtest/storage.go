// Package collabtest 测试用的存储和复制实现
package collabtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pvemigrate/internal/collab"
)

// Storage 以目录中的文件作为卷
type Storage struct {
	Dir string
	// Limit 未指定 override 时返回的限速
	Limit int64

	mu      sync.Mutex
	stores  map[string]*collab.StorageInfo
	volumes map[string]*collab.VolumeInfo
	next    int
	freed   []string
}

func NewStorage(dir string) *Storage {
	return &Storage{
		Dir:     dir,
		stores:  make(map[string]*collab.StorageInfo),
		volumes: make(map[string]*collab.VolumeInfo),
	}
}

func (s *Storage) AddStore(info collab.StorageInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[info.ID] = &info
}

// AddVolume 登记一个卷，data 为 nil 时创建 size 大小的空文件
func (s *Storage) AddVolume(info collab.VolumeInfo, data []byte) error {
	path := s.path(info.VolID)
	if data != nil {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		info.Size = int64(len(data))
	} else {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := f.Truncate(info.Size); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[info.VolID] = &info
	return nil
}

func (s *Storage) path(volid string) string {
	return filepath.Join(s.Dir, strings.NewReplacer(":", "_", "/", "_").Replace(volid))
}

// Freed 已释放的卷
func (s *Storage) Freed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.freed...)
}

func (s *Storage) Has(volid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.volumes[volid]
	return ok
}

func (s *Storage) Storage(ctx context.Context, storeid string) (*collab.StorageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.stores[storeid]
	if !ok {
		return nil, collab.ErrNotFound
	}
	out := *info
	return &out, nil
}

func (s *Storage) ParseVolumeID(volid string) (string, string, error) {
	storeid, name, ok := strings.Cut(volid, ":")
	if !ok || storeid == "" || name == "" {
		return "", "", fmt.Errorf("unable to parse volume ID '%s'", volid)
	}
	return storeid, name, nil
}

func (s *Storage) VolumeInfo(ctx context.Context, volid string) (*collab.VolumeInfo, error) {
	s.mu.Lock()
	info, ok := s.volumes[volid]
	s.mu.Unlock()
	if !ok {
		return nil, collab.ErrNotFound
	}
	out := *info
	if st, err := os.Stat(s.path(volid)); err == nil {
		out.Size = st.Size()
	}
	return &out, nil
}

func (s *Storage) Path(ctx context.Context, volid string) (string, error) {
	if !s.Has(volid) {
		return "", collab.ErrNotFound
	}
	return s.path(volid), nil
}

func (s *Storage) Alloc(ctx context.Context, storeid string, vmid uint32, format string, size int64) (string, error) {
	s.mu.Lock()
	volid := fmt.Sprintf("%s:vm-%d-disk-%d", storeid, vmid, s.next)
	s.next++
	s.mu.Unlock()
	if err := s.AddVolume(collab.VolumeInfo{VolID: volid, Size: size, Format: format, Owner: vmid}, nil); err != nil {
		return "", err
	}
	return volid, nil
}

func (s *Storage) Free(ctx context.Context, volid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volumes[volid]; !ok {
		return collab.ErrNotFound
	}
	delete(s.volumes, volid)
	s.freed = append(s.freed, volid)
	return os.Remove(s.path(volid))
}

// Open 不区分格式，直接返回卷文件
func (s *Storage) Open(ctx context.Context, volid, format string) (io.ReadCloser, int64, error) {
	if !s.Has(volid) {
		return nil, 0, collab.ErrNotFound
	}
	f, err := os.Open(s.path(volid))
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

func (s *Storage) BWLimit(ctx context.Context, op string, storeids []string, override int64) int64 {
	if override > 0 {
		return override
	}
	return s.Limit
}

// Replication 固定的复制状态
type Replication struct {
	Volumes map[string]collab.ReplicatedVolume

	mu       sync.Mutex
	switched []string
}

func (r *Replication) Replicated(ctx context.Context, vmid uint32, target string) (map[string]collab.ReplicatedVolume, error) {
	return r.Volumes, nil
}

func (r *Replication) SwitchTarget(ctx context.Context, vmid uint32, source, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switched = append(r.switched, fmt.Sprintf("%d:%s->%s", vmid, source, target))
	return nil
}

func (r *Replication) Switched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.switched...)
}
