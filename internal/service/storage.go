package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/log"

	"github.com/duke-git/lancet/v2/fileutil"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DirStorage 目录型存储，卷为 <path>/images/<vmid>/ 下的镜像文件，
// 存储定义来自配置 storage.<id>.*
type DirStorage struct {
	conf    *viper.Viper
	logger  *log.Logger
	qemuImg string
	run     runFunc

	// 分配卷名时串行
	mu sync.Mutex
}

func NewStorage(conf *viper.Viper, logger *log.Logger) collab.Storage {
	return newDirStorage(conf, logger, execRun)
}

func newDirStorage(conf *viper.Viper, logger *log.Logger, run runFunc) *DirStorage {
	qemuImg := conf.GetString("node.qemu_img_cmd")
	if qemuImg == "" {
		qemuImg = "/usr/bin/qemu-img"
	}
	return &DirStorage{conf: conf, logger: logger, qemuImg: qemuImg, run: run}
}

func (s *DirStorage) Storage(ctx context.Context, storeid string) (*collab.StorageInfo, error) {
	key := "storage." + storeid
	if !s.conf.IsSet(key) {
		return nil, fmt.Errorf("storage '%s': %w", storeid, collab.ErrNotFound)
	}
	sub := s.conf.Sub(key)
	info := &collab.StorageInfo{
		ID:         storeid,
		Type:       sub.GetString("type"),
		Path:       sub.GetString("path"),
		Shared:     sub.GetBool("shared"),
		Enabled:    true,
		BWLimitKiB: sub.GetInt64("bwlimit"),
		Nodes:      sub.GetStringSlice("nodes"),
	}
	if sub.IsSet("enabled") {
		info.Enabled = sub.GetBool("enabled")
	}
	if info.Type == "" {
		info.Type = "dir"
	}
	return info, nil
}

func (s *DirStorage) ParseVolumeID(volid string) (string, string, error) {
	storeid, name, ok := strings.Cut(volid, ":")
	if !ok || storeid == "" || name == "" {
		return "", "", fmt.Errorf("unable to parse volume ID '%s'", volid)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", "", fmt.Errorf("unable to parse volume ID '%s'", volid)
		}
	}
	return storeid, name, nil
}

func (s *DirStorage) Path(ctx context.Context, volid string) (string, error) {
	storeid, name, err := s.ParseVolumeID(volid)
	if err != nil {
		return "", err
	}
	info, err := s.Storage(ctx, storeid)
	if err != nil {
		return "", err
	}
	// 链接克隆的卷名带有基础镜像前缀，文件位于克隆自己的目录下
	if parts := strings.Split(name, "/"); len(parts) == 4 {
		name = parts[2] + "/" + parts[3]
	}
	return filepath.Join(info.Path, "images", filepath.FromSlash(name)), nil
}

func volumeFormat(name string) string {
	switch ext := strings.TrimPrefix(filepath.Ext(name), "."); ext {
	case "qcow2", "vmdk", "raw":
		return ext
	default:
		return "raw"
	}
}

func (s *DirStorage) VolumeInfo(ctx context.Context, volid string) (*collab.VolumeInfo, error) {
	storeid, name, err := s.ParseVolumeID(volid)
	if err != nil {
		return nil, err
	}
	path, err := s.Path(ctx, volid)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("volume '%s': %w", volid, collab.ErrNotFound)
		}
		return nil, err
	}
	info := &collab.VolumeInfo{VolID: volid, Size: st.Size(), Format: volumeFormat(name)}

	parts := strings.Split(name, "/")
	if owner, err := strconv.ParseUint(parts[0], 10, 32); err == nil {
		info.Owner = uint32(owner)
	}
	// 链接克隆：<base vmid>/<base name>/<vmid>/<name>
	if len(parts) == 4 {
		info.Base = storeid + ":" + parts[0] + "/" + parts[1]
		if owner, err := strconv.ParseUint(parts[2], 10, 32); err == nil {
			info.Owner = uint32(owner)
		}
	}

	if info.Format != "raw" {
		size, err := s.virtualSize(ctx, path, info.Format)
		if err != nil {
			return nil, err
		}
		info.Size = size
	}
	return info, nil
}

func (s *DirStorage) virtualSize(ctx context.Context, path, format string) (int64, error) {
	out, err := s.run(ctx, s.qemuImg, "info", "--output=json", "-f", format, path)
	if err != nil {
		return 0, fmt.Errorf("qemu-img info '%s' failed: %s: %w", path, strings.TrimSpace(string(out)), err)
	}
	var res struct {
		VirtualSize int64 `json:"virtual-size"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("unable to parse qemu-img info output: %w", err)
	}
	return res.VirtualSize, nil
}

func (s *DirStorage) Alloc(ctx context.Context, storeid string, vmid uint32, format string, size int64) (string, error) {
	info, err := s.Storage(ctx, storeid)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = "raw"
	}
	if format != "raw" && format != "qcow2" {
		return "", fmt.Errorf("unsupported format '%s' on storage '%s'", format, storeid)
	}
	dir := filepath.Join(info.Path, "images", strconv.FormatUint(uint64(vmid), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	for n := 0; ; n++ {
		name = fmt.Sprintf("vm-%d-disk-%d.%s", vmid, n, format)
		if !fileutil.IsExist(filepath.Join(dir, name)) {
			break
		}
	}
	path := filepath.Join(dir, name)
	volid := fmt.Sprintf("%s:%d/%s", storeid, vmid, name)

	if format == "qcow2" {
		if out, err := s.run(ctx, s.qemuImg, "create", "-f", "qcow2", path, strconv.FormatInt(size, 10)); err != nil {
			return "", fmt.Errorf("qemu-img create '%s' failed: %s: %w", path, strings.TrimSpace(string(out)), err)
		}
	} else {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return "", err
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
	}
	s.logger.WithContext(ctx).Info("volume allocated", zap.String("volid", volid), zap.Int64("size", size))
	return volid, nil
}

func (s *DirStorage) Free(ctx context.Context, volid string) error {
	path, err := s.Path(ctx, volid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("volume '%s': %w", volid, collab.ErrNotFound)
		}
		return err
	}
	s.logger.WithContext(ctx).Info("volume freed", zap.String("volid", volid))
	return nil
}

// Open 目录存储上卷文件本身就是导出内容：raw 文件即 raw 数据，qcow2 文件带着内部快照
func (s *DirStorage) Open(ctx context.Context, volid, format string) (io.ReadCloser, int64, error) {
	_, name, err := s.ParseVolumeID(volid)
	if err != nil {
		return nil, 0, err
	}
	vf := volumeFormat(name)
	switch {
	case format == collab.ExportRawSize && vf == "raw":
	case format == collab.ExportQcow2Size && vf == "qcow2":
	default:
		return nil, 0, fmt.Errorf("can't export '%s' volume '%s' as '%s'", vf, volid, format)
	}
	path, err := s.Path(ctx, volid)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
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

// BWLimit 取 bwlimit.<op>（缺省 bwlimit.default）与各存储限速中的最小值
func (s *DirStorage) BWLimit(ctx context.Context, op string, storeids []string, override int64) int64 {
	if override > 0 {
		return override
	}
	limit := s.conf.GetInt64("bwlimit." + op)
	if limit <= 0 {
		limit = s.conf.GetInt64("bwlimit.default")
	}
	for _, id := range storeids {
		info, err := s.Storage(ctx, id)
		if err != nil {
			continue
		}
		if info.BWLimitKiB > 0 && (limit <= 0 || info.BWLimitKiB < limit) {
			limit = info.BWLimitKiB
		}
	}
	return limit
}
