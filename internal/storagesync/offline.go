package storagesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/tunnel"

	"github.com/duke-git/lancet/v2/formatter"
	"go.uber.org/zap"
)

// DiskImportParams 目标端 disk-import 命令的参数
type DiskImportParams struct {
	VolID         string `json:"volid"`
	Storage       string `json:"storage"`
	Format        string `json:"format"`
	Size          int64  `json:"size"`
	ExportFormat  string `json:"export_format"`
	WithSnapshots bool   `json:"with_snapshots"`
	AllowRename   bool   `json:"allow_rename"`
}

type DiskImportResult struct {
	Socket string `json:"socket"`
}

const (
	ImportPending  = "pending"
	ImportComplete = "complete"
	ImportError    = "error"
)

type DiskImportStatus struct {
	Status string `json:"status"`
	VolID  string `json:"volid,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

// TransferOffline 逐个复制离线卷，任意一个失败则整体失败
// 源端配置保持不变，目标卷记录在 TargetVolID 中
func (e *Engine) TransferOffline(ctx context.Context, task *collab.MigrationTask, tun tunnel.Tunnel) error {
	for _, vol := range OfflineVolumes(task) {
		if err := e.transferVolume(ctx, task, tun, vol); err != nil {
			return fmt.Errorf("storage migration for '%s' to storage '%s' failed - %w", vol.VolID, vol.TargetStorage, err)
		}
	}
	return nil
}

// ApplyVolumeMap 把 cfg 中的源卷替换为目标端的卷
func ApplyVolumeMap(cfg *collab.VMConfig, task *collab.MigrationTask) {
	for _, volid := range sortedVolIDs(task.Volumes) {
		vol := task.Volumes[volid]
		if vol.TargetVolID != "" && vol.TargetVolID != vol.VolID {
			cfg.ReplaceVolume(vol.VolID, vol.TargetVolID)
		}
	}
}

func (e *Engine) transferVolume(ctx context.Context, task *collab.MigrationTask, tun tunnel.Tunnel, vol *collab.LocalVolume) error {
	logger := e.logger.WithContext(ctx).With(zap.String("volid", vol.VolID))
	logger.Info("starting offline disk transfer",
		zap.String("target_storage", vol.TargetStorage), zap.String("size", formatter.BinaryBytes(float64(vol.Size))))

	format := vol.ExportFormat
	if format == "" {
		f, err := ExportFormat(vol.Format, vol.HasSnapshots)
		if err != nil {
			return err
		}
		format = f
	}

	ret, err := tun.Write(ctx, "disk-import", DiskImportParams{
		VolID:         vol.VolID,
		Storage:       vol.TargetStorage,
		Format:        vol.Format,
		Size:          vol.Size,
		ExportFormat:  format,
		WithSnapshots: vol.HasSnapshots,
		AllowRename:   true,
	}, 0)
	if err != nil {
		return err
	}
	var res DiskImportResult
	if err := json.Unmarshal(ret, &res); err != nil {
		return fmt.Errorf("unable to parse disk-import response: %w", err)
	}

	local := filepath.Join(e.conf.RunDir, fmt.Sprintf("%d.storage", task.VMID))
	if err := tun.ForwardUnixSocket(ctx, local, res.Socket); err != nil {
		return err
	}
	if err := tunnel.WaitForSocket(ctx, local, e.conf.SocketWaitRetries, e.conf.SocketWaitInterval); err != nil {
		return err
	}

	start := time.Now()
	n, err := e.sendVolume(ctx, local, vol, format)
	if err != nil {
		return err
	}
	vol.Transferred = n

	volid, err := e.waitImport(ctx, tun, vol.VolID)
	if err != nil {
		return err
	}
	vol.TargetVolID = volid
	logger.Info("offline disk transfer finished",
		zap.String("target_volid", volid),
		zap.String("format", format),
		zap.String("transferred", formatter.BinaryBytes(float64(n))),
		zap.Duration("duration", time.Since(start).Round(time.Second)))
	return nil
}

func (e *Engine) sendVolume(ctx context.Context, socket string, vol *collab.LocalVolume, format string) (int64, error) {
	src, size, err := e.storage.Open(ctx, vol.VolID, format)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	// raw 按配置大小导出，EFI/TPM 盘在 RefreshSizes 中已修正
	if format == collab.ExportRawSize && vol.Size > 0 {
		size = vol.Size
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return 0, fmt.Errorf("unable to connect to import socket: %w", err)
	}
	defer conn.Close()

	n, err := Export(ctx, conn, src, size, vol.BWLimitKiB)
	if err != nil {
		return n, err
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	return n, nil
}

func (e *Engine) waitImport(ctx context.Context, tun tunnel.Tunnel, volid string) (string, error) {
	ticker := time.NewTicker(e.conf.ImportPoll)
	defer ticker.Stop()
	for {
		ret, err := tun.Write(ctx, "query-disk-import", map[string]string{"volid": volid}, 0)
		if err != nil {
			return "", err
		}
		var st DiskImportStatus
		if err := json.Unmarshal(ret, &st); err != nil {
			return "", fmt.Errorf("unable to parse disk import status: %w", err)
		}
		switch st.Status {
		case ImportComplete:
			return st.VolID, nil
		case ImportError:
			return "", fmt.Errorf("import failed on target: %s", st.Msg)
		case ImportPending:
		default:
			return "", fmt.Errorf("unknown disk import status '%s'", st.Status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
