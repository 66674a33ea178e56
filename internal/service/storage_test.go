package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, run *fakeRun) (*DirStorage, string, string) {
	local, fast := t.TempDir(), t.TempDir()
	conf := newTestConfig(t, fmt.Sprintf(`
node:
  qemu_img_cmd: /opt/qemu-img
storage:
  local:
    path: %s
  fast:
    type: nfs
    path: %s
    shared: true
    bwlimit: 5000
    nodes: [pve1, pve2]
  off:
    type: lvm
    enabled: false
bwlimit:
  default: 10000
  migration: 20000
`, local, fast))
	return newDirStorage(conf, log.NewNop(), run.run), local, fast
}

func TestDirStorage_Storage(t *testing.T) {
	s, local, _ := newTestStorage(t, &fakeRun{})
	ctx := context.Background()

	info, err := s.Storage(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "dir", info.Type)
	assert.Equal(t, local, info.Path)
	assert.True(t, info.Enabled)
	assert.False(t, info.Shared)

	info, err = s.Storage(ctx, "fast")
	require.NoError(t, err)
	assert.True(t, info.Shared)
	assert.Equal(t, int64(5000), info.BWLimitKiB)
	assert.Equal(t, []string{"pve1", "pve2"}, info.Nodes)

	info, err = s.Storage(ctx, "off")
	require.NoError(t, err)
	assert.False(t, info.Enabled)
	assert.Equal(t, "lvm", info.Type)

	_, err = s.Storage(ctx, "missing")
	assert.ErrorIs(t, err, collab.ErrNotFound)
}

func TestDirStorage_ParseVolumeID(t *testing.T) {
	s, _, _ := newTestStorage(t, &fakeRun{})

	storeid, name, err := s.ParseVolumeID("local:100/vm-100-disk-0.raw")
	require.NoError(t, err)
	assert.Equal(t, "local", storeid)
	assert.Equal(t, "100/vm-100-disk-0.raw", name)

	for _, bad := range []string{"local", "local:", ":100/x.raw", "local:../etc/passwd", "local:100//x.raw"} {
		_, _, err := s.ParseVolumeID(bad)
		assert.Error(t, err, bad)
	}
}

func TestDirStorage_AllocRaw(t *testing.T) {
	s, local, _ := newTestStorage(t, &fakeRun{})
	ctx := context.Background()

	volid, err := s.Alloc(ctx, "local", 100, "raw", 4096)
	require.NoError(t, err)
	assert.Equal(t, "local:100/vm-100-disk-0.raw", volid)

	next, err := s.Alloc(ctx, "local", 100, "", 1024)
	require.NoError(t, err)
	assert.Equal(t, "local:100/vm-100-disk-1.raw", next)

	path, err := s.Path(ctx, volid)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(local, "images", "100", "vm-100-disk-0.raw"), path)

	info, err := s.VolumeInfo(ctx, volid)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size)
	assert.Equal(t, "raw", info.Format)
	assert.Equal(t, uint32(100), info.Owner)
	assert.Empty(t, info.Base)

	r, size, err := s.Open(ctx, volid, collab.ExportRawSize)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Len(t, data, 4096)
	_, _, err = s.Open(ctx, volid, collab.ExportQcow2Size)
	assert.Error(t, err)

	require.NoError(t, s.Free(ctx, volid))
	assert.ErrorIs(t, s.Free(ctx, volid), collab.ErrNotFound)
	_, err = s.VolumeInfo(ctx, volid)
	assert.ErrorIs(t, err, collab.ErrNotFound)

	_, err = s.Alloc(ctx, "local", 100, "vmdk", 1024)
	assert.Error(t, err)
}

func TestDirStorage_AllocQcow2(t *testing.T) {
	run := &fakeRun{}
	s, local, _ := newTestStorage(t, run)

	volid, err := s.Alloc(context.Background(), "local", 101, "qcow2", 1<<30)
	require.NoError(t, err)
	assert.Equal(t, "local:101/vm-101-disk-0.qcow2", volid)
	require.Len(t, run.calls, 1)
	assert.Equal(t, "/opt/qemu-img", run.calls[0].name)
	assert.Equal(t, []string{"create", "-f", "qcow2", filepath.Join(local, "images", "101", "vm-101-disk-0.qcow2"), "1073741824"}, run.calls[0].args)
}

func TestDirStorage_VolumeInfoQcow2(t *testing.T) {
	run := &fakeRun{out: []byte(`{"virtual-size": 1073741824, "format": "qcow2"}`)}
	s, local, _ := newTestStorage(t, run)
	ctx := context.Background()

	// 链接克隆
	dir := filepath.Join(local, "images", "101")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vm-101-disk-0.qcow2"), []byte("QFI"), 0o644))

	volid := "local:100/base-100-disk-0.raw/101/vm-101-disk-0.qcow2"
	info, err := s.VolumeInfo(ctx, volid)
	require.NoError(t, err)
	assert.Equal(t, int64(1073741824), info.Size)
	assert.Equal(t, "qcow2", info.Format)
	assert.Equal(t, uint32(101), info.Owner)
	assert.Equal(t, "local:100/base-100-disk-0.raw", info.Base)
	assert.Equal(t, "info", run.calls[0].args[0])

	// qcow2 按文件导出，长度是文件大小而不是虚拟大小
	r, size, err := s.Open(ctx, volid, collab.ExportQcow2Size)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "QFI", string(data))

	_, _, err = s.Open(ctx, volid, collab.ExportRawSize)
	assert.Error(t, err)
}

func TestDirStorage_BWLimit(t *testing.T) {
	s, _, _ := newTestStorage(t, &fakeRun{})
	ctx := context.Background()

	assert.Equal(t, int64(123), s.BWLimit(ctx, "migration", []string{"fast"}, 123))
	assert.Equal(t, int64(5000), s.BWLimit(ctx, "migration", []string{"local", "fast"}, 0))
	assert.Equal(t, int64(20000), s.BWLimit(ctx, "migration", []string{"local"}, 0))
	assert.Equal(t, int64(10000), s.BWLimit(ctx, "restore", nil, 0))
	assert.Equal(t, int64(10000), s.BWLimit(ctx, "restore", []string{"missing"}, 0))
}
