package storagesync

import (
	"context"
	"fmt"

	"pvemigrate/internal/collab"

	"go.uber.org/zap"
)

// EFI 变量和 TPM 状态盘的大小由类型决定
const (
	EFIVarsSize2M = 131072
	EFIVarsSize4M = 540672
	TPMStateSize  = 4 * 1024 * 1024
)

func EFIVarsSize(efitype string) int64 {
	if efitype == "4m" {
		return EFIVarsSize4M
	}
	return EFIVarsSize2M
}

// RefreshSizes 用卷的实际大小更新配置，分配目标卷之前调用
func (e *Engine) RefreshSizes(ctx context.Context, task *collab.MigrationTask) error {
	cfg := task.Config
	for _, volid := range sortedVolIDs(task.Volumes) {
		vol := task.Volumes[volid]
		info, err := e.storage.VolumeInfo(ctx, volid)
		if err != nil {
			return fmt.Errorf("unable to refresh size of '%s': %w", volid, err)
		}
		size := info.Size
		if vol.Format == "" {
			vol.Format = info.Format
		}

		d, attached := cfg.Drives[vol.Drive]
		if attached {
			switch {
			case d.IsEFI():
				size = EFIVarsSize(d.EFIType)
			case d.IsTPM():
				size = TPMStateSize
			}
			if d.Size != size {
				e.logger.WithContext(ctx).Info("drive size updated",
					zap.String("drive", d.Key), zap.Int64("from", d.Size), zap.Int64("to", size))
				d.Size = size
				cfg.Drives[d.Key] = d
			}
		}
		vol.Size = size
	}
	return nil
}
