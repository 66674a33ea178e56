package mtunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/sparse"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// diskImport 一次磁盘导入，同一时间只有一个
type diskImport struct {
	source string
	volid  string
	path   string
	socket string
	cancel context.CancelFunc
	eg     errgroup.Group

	mu     sync.Mutex
	status string
	msg    string
}

func (d *diskImport) set(status, msg string) {
	d.mu.Lock()
	d.status, d.msg = status, msg
	d.mu.Unlock()
}

func (d *diskImport) state() storagesync.DiskImportStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := storagesync.DiskImportStatus{Status: d.status, Msg: d.msg}
	if d.status == storagesync.ImportComplete {
		st.VolID = d.volid
	}
	return st
}

func (h *Handler) cmdDiskImport(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p storagesync.DiskImportParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	format, err := storagesync.ImportFormat(p.ExportFormat)
	if err != nil {
		return nil, err
	}
	if p.WithSnapshots && p.ExportFormat != collab.ExportQcow2Size {
		return nil, fmt.Errorf("import format '%s' does not support snapshots", p.ExportFormat)
	}
	if p.Size <= 0 {
		return nil, errors.New("size is required")
	}

	h.mu.Lock()
	if h.imp != nil && h.imp.state().Status == storagesync.ImportPending {
		h.mu.Unlock()
		return nil, errors.New("disk import already running")
	}
	h.mu.Unlock()

	if err := h.checkStorage(ctx, p.Storage); err != nil {
		return nil, err
	}
	volid, err := h.storage.Alloc(ctx, p.Storage, h.vmid, format, p.Size)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate disk on '%s': %w", p.Storage, err)
	}
	h.track(volid)
	path, err := h.storage.Path(ctx, volid)
	if err != nil {
		return nil, err
	}

	sock := filepath.Join(h.conf.RunDir, fmt.Sprintf("%d.storage", h.vmid))
	_ = os.Remove(sock)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sock, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("unable to listen on import socket: %w", err)
	}
	_ = ln.SetDeadline(time.Now().Add(h.conf.ImportTimeout))
	h.allow(sock)

	ictx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	imp := &diskImport{source: p.VolID, volid: volid, path: path, socket: sock, cancel: cancel, status: storagesync.ImportPending}
	h.mu.Lock()
	h.imp = imp
	h.mu.Unlock()

	logger := h.logger.WithContext(ctx).With(zap.String("volid", volid), zap.String("source", p.VolID))
	logger.Info("waiting for disk import", zap.String("socket", sock), zap.String("format", p.ExportFormat), zap.Int64("size", p.Size))

	// qcow2 文件带元数据和快照，长度可以超过虚拟大小
	limit := p.Size
	if format == "qcow2" {
		limit = 0
	}
	imp.eg.Go(func() error {
		defer cancel()
		st, err := h.receive(ictx, ln, path, limit)
		if err != nil {
			logger.Error("disk import failed", zap.Error(err))
			imp.set(storagesync.ImportError, err.Error())
			return err
		}
		logger.Info("disk import finished", zap.String("stats", st.String()))
		imp.set(storagesync.ImportComplete, "")
		return nil
	})
	return storagesync.DiskImportResult{Socket: sock}, nil
}

// receive 只接受一个连接，want 为 0 时不限制流长度
func (h *Handler) receive(ctx context.Context, ln *net.UnixListener, path string, want int64) (sparse.Stats, error) {
	stopLn := context.AfterFunc(ctx, func() { ln.Close() })
	conn, err := ln.Accept()
	stopLn()
	ln.Close()
	if err != nil {
		return sparse.Stats{}, fmt.Errorf("no connection on import socket: %w", err)
	}
	defer conn.Close()
	stopConn := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopConn()

	size, err := storagesync.ReadSizeHeader(conn)
	if err != nil {
		return sparse.Stats{}, err
	}
	if want > 0 && size > want {
		return sparse.Stats{}, fmt.Errorf("image size %d exceeds allocated size %d", size, want)
	}
	st, err := sparse.CopyToFile(ctx, path, io.LimitReader(conn, size))
	if err != nil {
		return st, err
	}
	if st.Bytes != size {
		os.Remove(path)
		return st, fmt.Errorf("short import: %d of %d bytes", st.Bytes, size)
	}
	return st, nil
}

func (h *Handler) cmdQueryDiskImport(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		VolID string `json:"volid"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	h.mu.Lock()
	imp := h.imp
	h.mu.Unlock()
	if imp == nil {
		return nil, errors.New("no disk import running")
	}
	if p.VolID != "" && p.VolID != imp.source {
		return nil, fmt.Errorf("no disk import running for '%s'", p.VolID)
	}
	return imp.state(), nil
}

// waitImport 中止未完成的导入并等待其退出
func (h *Handler) waitImport() {
	h.mu.Lock()
	imp := h.imp
	h.mu.Unlock()
	if imp == nil {
		return
	}
	if imp.state().Status == storagesync.ImportPending {
		imp.cancel()
	}
	_ = imp.eg.Wait()
	_ = os.Remove(imp.socket)
}
