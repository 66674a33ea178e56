package storagesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/qmp"

	"github.com/duke-git/lancet/v2/formatter"
	"go.uber.org/zap"
)

type BlockJob struct {
	Device         string `json:"device"`
	Type           string `json:"type"`
	Len            int64  `json:"len"`
	Offset         int64  `json:"offset"`
	Busy           bool   `json:"busy"`
	Paused         bool   `json:"paused"`
	Ready          bool   `json:"ready"`
	Status         string `json:"status"`
	Speed          int64  `json:"speed"`
	ActivelySynced bool   `json:"actively-synced"`
	Error          string `json:"error,omitempty"`
}

type dirtyBitmap struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type blockInfo struct {
	Device       string        `json:"device"`
	DirtyBitmaps []dirtyBitmap `json:"dirty-bitmaps"`
}

func (e *Engine) queryJobs(ctx context.Context, peer qmp.Peer) (map[string]BlockJob, error) {
	ret, err := e.mon.Cmd(ctx, peer, "query-block-jobs", nil)
	if err != nil {
		return nil, err
	}
	var jobs []BlockJob
	if err := json.Unmarshal(ret, &jobs); err != nil {
		return nil, fmt.Errorf("unable to parse block jobs: %w", err)
	}
	out := make(map[string]BlockJob, len(jobs))
	for _, j := range jobs {
		out[j.Device] = j
	}
	return out, nil
}

// dirtyBytes 返回源端位图中标记的字节数，位图不存在时 ok 为 false
func (e *Engine) dirtyBytes(ctx context.Context, peer qmp.Peer, drive, bitmap string) (int64, bool, error) {
	ret, err := e.mon.Cmd(ctx, peer, "query-block", nil)
	if err != nil {
		return 0, false, err
	}
	var blocks []blockInfo
	if err := json.Unmarshal(ret, &blocks); err != nil {
		return 0, false, fmt.Errorf("unable to parse block info: %w", err)
	}
	for _, b := range blocks {
		if b.Device != DeviceName(drive) {
			continue
		}
		for _, bm := range b.DirtyBitmaps {
			if bm.Name == bitmap {
				return bm.Count, true, nil
			}
		}
	}
	return 0, false, nil
}

// StartMirrors 为在线卷启动到目标端 NBD 的镜像任务，全部 ready 后切换为同步写
func (e *Engine) StartMirrors(ctx context.Context, task *collab.MigrationTask) error {
	peer := qmp.MonitorPeer(task.VMID)
	vols := OnlineVolumes(task)
	for _, vol := range vols {
		td, ok := task.TargetDrives[vol.Drive]
		if !ok {
			return fmt.Errorf("target did not export drive '%s'", vol.Drive)
		}
		if err := e.startMirror(ctx, peer, vol, td); err != nil {
			return err
		}
	}
	for _, vol := range vols {
		if err := e.waitReady(ctx, peer, vol); err != nil {
			return err
		}
	}
	for _, vol := range vols {
		e.switchToActive(ctx, peer, vol)
	}
	return nil
}

func (e *Engine) startMirror(ctx context.Context, peer qmp.Peer, vol *collab.LocalVolume, td *collab.TargetDrive) error {
	logger := e.logger.WithContext(ctx).With(zap.String("drive", vol.Drive))
	args := map[string]interface{}{
		"job-id": MirrorJobID(vol.Drive),
		"device": DeviceName(vol.Drive),
		"mode":   "existing",
		"sync":   "full",
		"target": td.URI,
		"format": "nbd",
	}
	if vol.BWLimitKiB > 0 {
		args["speed"] = vol.BWLimitKiB * 1024
	}

	bitmap := vol.Bitmap
	if bitmap == "" {
		bitmap = td.Bitmap
	}
	if vol.Replicated && bitmap != "" {
		dirty, ok, err := e.dirtyBytes(ctx, peer, vol.Drive, bitmap)
		if err != nil {
			return err
		}
		if ok {
			args["sync"] = "incremental"
			args["bitmap"] = bitmap
			vol.DirtyBytes = dirty
			logger.Info("drive mirror re-using dirty bitmap",
				zap.String("bitmap", bitmap), zap.String("dirty", formatter.BinaryBytes(float64(dirty))))
		} else {
			logger.Warn("dirty bitmap not found, doing full mirror", zap.String("bitmap", bitmap))
		}
	}

	logger.Info("starting drive mirror", zap.String("target", td.URI), zap.Any("sync", args["sync"]))
	if _, err := e.mon.Cmd(ctx, peer, "drive-mirror", args); err != nil {
		return fmt.Errorf("mirroring of drive '%s' failed: %w", vol.Drive, err)
	}
	return nil
}

func (e *Engine) waitReady(ctx context.Context, peer qmp.Peer, vol *collab.LocalVolume) error {
	jobID := MirrorJobID(vol.Drive)
	logger := e.logger.WithContext(ctx).With(zap.String("drive", vol.Drive))
	start := time.Now()
	ticker := time.NewTicker(e.conf.JobPoll)
	defer ticker.Stop()

	for {
		jobs, err := e.queryJobs(ctx, peer)
		if err != nil {
			return fmt.Errorf("failed to get mirroring status (job %s): %w", jobID, err)
		}
		job, ok := jobs[jobID]
		if !ok {
			return fmt.Errorf("mirror job '%s' disappeared before it was ready", jobID)
		}
		if job.Error != "" || job.Status == "aborting" || job.Status == "concluded" {
			return fmt.Errorf("mirror job '%s' failed: %s", jobID, job.Error)
		}
		percent := 0.0
		if job.Len > 0 {
			percent = float64(job.Offset) * 100 / float64(job.Len)
		}
		logger.Info("drive mirror progress",
			zap.String("transferred", formatter.BinaryBytes(float64(job.Offset))),
			zap.String("total", formatter.BinaryBytes(float64(job.Len))),
			zap.String("percent", fmt.Sprintf("%.2f%%", percent)),
			zap.Duration("elapsed", time.Since(start).Round(time.Second)))
		if job.Ready {
			vol.Transferred = job.Offset
			logger.Info("drive mirror is ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// switchToActive 之后客户机写入同步到目标端，旧版本 qemu 不支持时只告警
func (e *Engine) switchToActive(ctx context.Context, peer qmp.Peer, vol *collab.LocalVolume) {
	jobID := MirrorJobID(vol.Drive)
	logger := e.logger.WithContext(ctx).With(zap.String("drive", vol.Drive))
	_, err := e.mon.Cmd(ctx, peer, "block-job-change", map[string]string{
		"id":        jobID,
		"type":      "mirror",
		"copy-mode": "write-blocking",
	})
	if err != nil {
		logger.Warn("switching to actively synced mode failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(e.conf.JobPoll)
	defer ticker.Stop()
	for i := 0; i < 10; i++ {
		jobs, err := e.queryJobs(ctx, peer)
		if err != nil {
			logger.Warn("failed to query mirror job", zap.Error(err))
			return
		}
		if jobs[jobID].ActivelySynced {
			logger.Info("switched to actively synced mode")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	logger.Warn("mirror job not actively synced yet")
}

// CompleteMirrors 取消已 ready 的镜像任务，目标端数据保持完整
func (e *Engine) CompleteMirrors(ctx context.Context, task *collab.MigrationTask) error {
	return e.cancelMirrors(ctx, task, false)
}

// AbortMirrors 回滚时强制取消镜像任务
func (e *Engine) AbortMirrors(ctx context.Context, task *collab.MigrationTask) error {
	return e.cancelMirrors(ctx, task, true)
}

func (e *Engine) cancelMirrors(ctx context.Context, task *collab.MigrationTask, force bool) error {
	peer := qmp.MonitorPeer(task.VMID)
	vols := OnlineVolumes(task)
	if len(vols) == 0 {
		return nil
	}
	var errs []error
	pending := make(map[string]*collab.LocalVolume)
	for _, vol := range vols {
		args := map[string]interface{}{"device": MirrorJobID(vol.Drive)}
		if force {
			args["force"] = true
		}
		if _, err := e.mon.Cmd(ctx, peer, "block-job-cancel", args); err != nil {
			var cmdErr *qmp.CommandError
			if errors.As(err, &cmdErr) && cmdErr.Class == "DeviceNotActive" {
				continue
			}
			errs = append(errs, fmt.Errorf("cancel mirror of drive '%s': %w", vol.Drive, err))
			continue
		}
		pending[MirrorJobID(vol.Drive)] = vol
	}

	tctx, cancel := context.WithTimeout(ctx, e.conf.CancelTimeout)
	defer cancel()
	ticker := time.NewTicker(e.conf.JobPoll)
	defer ticker.Stop()
	for len(pending) > 0 {
		jobs, err := e.queryJobs(tctx, peer)
		if err != nil {
			errs = append(errs, err)
			break
		}
		for id, vol := range pending {
			if _, running := jobs[id]; !running {
				e.logger.WithContext(ctx).Info("drive mirror finished", zap.String("drive", vol.Drive), zap.Bool("force", force))
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-tctx.Done():
			for id := range pending {
				errs = append(errs, fmt.Errorf("mirror job '%s' did not finish: %w", id, tctx.Err()))
			}
			return errors.Join(errs...)
		case <-ticker.C:
		}
	}
	return errors.Join(errs...)
}
