package storagesync

import (
	"context"
	"fmt"
	"sort"

	"pvemigrate/internal/collab"

	"go.uber.org/zap"
)

type scanner struct {
	e      *Engine
	task   *collab.MigrationTask
	vols   map[string]*collab.LocalVolume
	stores map[string]*collab.StorageInfo
}

// Scan 收集配置引用的全部本地卷并分类，预检失败返回 *ValidationError
func (e *Engine) Scan(ctx context.Context, task *collab.MigrationTask) error {
	s := &scanner{
		e:      e,
		task:   task,
		vols:   make(map[string]*collab.LocalVolume),
		stores: make(map[string]*collab.StorageInfo),
	}
	if err := s.collect(ctx); err != nil {
		return err
	}
	if err := s.inspect(ctx); err != nil {
		return err
	}
	if err := s.markReplicated(ctx); err != nil {
		return err
	}
	s.classify()
	if err := s.preflight(); err != nil {
		return err
	}
	if err := s.exportFormats(); err != nil {
		return err
	}
	for _, volid := range sortedVolIDs(s.vols) {
		vol := s.vols[volid]
		vol.BWLimitKiB = e.storage.BWLimit(ctx, "migration", []string{vol.SourceStorage, vol.TargetStorage}, task.Opts.BWLimitKiB)
		fields := []zap.Field{zap.String("volid", volid), zap.String("mode", string(vol.Mode)), zap.Any("refs", vol.Refs)}
		if vol.Replicated {
			fields = append(fields, zap.Bool("replicated", true))
		}
		e.logger.WithContext(ctx).Info("found local disk", fields...)
	}
	task.Volumes = s.vols
	return nil
}

func (s *scanner) storage(ctx context.Context, storeid string) (*collab.StorageInfo, error) {
	if info, ok := s.stores[storeid]; ok {
		return info, nil
	}
	info, err := s.e.storage.Storage(ctx, storeid)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("storage '%s' does not exist: %v", storeid, err)}
	}
	s.stores[storeid] = info
	return info, nil
}

func (s *scanner) collect(ctx context.Context) error {
	cfg := s.task.Config
	for _, key := range cfg.DriveKeys() {
		d := cfg.Drives[key]
		if !d.IsVolume() {
			continue
		}
		if d.IsCDROM() && !d.IsCloudInit() {
			if err := s.checkCDROM(ctx, d); err != nil {
				return err
			}
			continue
		}
		ref := collab.RefAttached
		if d.IsCloudInit() {
			ref = collab.RefGenerated
		}
		if err := s.add(ctx, d.VolID, ref, &d); err != nil {
			return err
		}
	}
	for _, volid := range cfg.Unused {
		if err := s.add(ctx, volid, collab.RefUnused, nil); err != nil {
			return err
		}
	}
	snapNames := make([]string, 0, len(cfg.Snapshots))
	for name := range cfg.Snapshots {
		snapNames = append(snapNames, name)
	}
	sort.Strings(snapNames)
	for _, name := range snapNames {
		for _, d := range cfg.Snapshots[name].Drives {
			if !d.IsVolume() || (d.IsCDROM() && !d.IsCloudInit()) {
				continue
			}
			if err := s.add(ctx, d.VolID, collab.RefSnapshot, nil); err != nil {
				return err
			}
		}
	}
	for _, d := range cfg.Pending {
		if !d.IsVolume() || (d.IsCDROM() && !d.IsCloudInit()) {
			continue
		}
		if err := s.add(ctx, d.VolID, collab.RefPending, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) checkCDROM(ctx context.Context, d collab.Drive) error {
	storeid, _, err := s.e.storage.ParseVolumeID(d.VolID)
	if err != nil {
		return &ValidationError{VolID: d.VolID, Reason: err.Error()}
	}
	info, err := s.storage(ctx, storeid)
	if err != nil {
		return err
	}
	if !info.Shared {
		return &ValidationError{VolID: d.VolID, Reason: "can't migrate local cdrom drive"}
	}
	return nil
}

func (s *scanner) add(ctx context.Context, volid string, ref collab.DiskRef, drive *collab.Drive) error {
	storeid, _, err := s.e.storage.ParseVolumeID(volid)
	if err != nil {
		return &ValidationError{VolID: volid, Reason: err.Error()}
	}
	src, err := s.storage(ctx, storeid)
	if err != nil {
		return err
	}
	if !src.AvailableOn(s.task.Node) {
		return &ValidationError{Reason: fmt.Sprintf("storage '%s' is not available on node '%s'", storeid, s.task.Node)}
	}
	targetsid := s.task.Opts.MapStorage(storeid)
	dst, err := s.storage(ctx, targetsid)
	if err != nil {
		return err
	}
	if !dst.AvailableOn(s.task.TargetNode) {
		return &ValidationError{Reason: fmt.Sprintf("storage '%s' is not available on node '%s'", targetsid, s.task.TargetNode)}
	}
	if src.Shared {
		// 共享存储上的卷两端都能访问
		return nil
	}
	if !migratableTypes[src.Type] {
		return &ValidationError{VolID: volid, Reason: fmt.Sprintf("storage type '%s' not supported", src.Type)}
	}

	vol, ok := s.vols[volid]
	if !ok {
		vol = &collab.LocalVolume{
			VolID:         volid,
			SourceStorage: storeid,
			TargetStorage: targetsid,
		}
		s.vols[volid] = vol
	}
	if !vol.HasRef(ref) {
		vol.Refs = append(vol.Refs, ref)
	}
	if ref == collab.RefSnapshot {
		vol.HasSnapshots = true
	}
	if drive != nil {
		vol.Drive = drive.Key
		vol.Format = drive.Format
		vol.Size = drive.Size
	}
	return nil
}

// inspect 检查卷的归属和链接克隆
func (s *scanner) inspect(ctx context.Context) error {
	for _, volid := range sortedVolIDs(s.vols) {
		vol := s.vols[volid]
		info, err := s.e.storage.VolumeInfo(ctx, volid)
		if err != nil {
			return &ValidationError{VolID: volid, Reason: fmt.Sprintf("unable to query volume: %v", err)}
		}
		if info.Owner != 0 && info.Owner != s.task.VMID {
			return &ValidationError{VolID: volid, Reason: fmt.Sprintf("volume is owned by VM %d", info.Owner)}
		}
		if info.Base != "" {
			if _, ok := s.vols[info.Base]; !ok {
				return &ValidationError{VolID: volid, Reason: fmt.Sprintf("it's a clone of '%s'", info.Base)}
			}
		}
		if vol.Format == "" {
			vol.Format = info.Format
		}
		if vol.Size == 0 {
			vol.Size = info.Size
		}
	}
	return nil
}

func (s *scanner) markReplicated(ctx context.Context) error {
	if s.e.repl == nil {
		return nil
	}
	replicated, err := s.e.repl.Replicated(ctx, s.task.VMID, s.task.TargetNode)
	if err != nil {
		return fmt.Errorf("unable to query replication state: %w", err)
	}
	for volid, r := range replicated {
		vol, ok := s.vols[volid]
		if !ok {
			continue
		}
		if vol.TargetStorage != vol.SourceStorage {
			return &ValidationError{VolID: volid, Reason: "replicated volume can't be mapped to a different storage"}
		}
		vol.Replicated = true
		vol.Bitmap = r.Bitmap
	}
	return nil
}

func (s *scanner) classify() {
	cfg := s.task.Config
	for _, vol := range s.vols {
		vol.Mode = collab.ModeOffline
		if !s.task.Running || vol.Drive == "" {
			continue
		}
		d := cfg.Drives[vol.Drive]
		if d.IsCloudInit() || d.IsTPM() {
			continue
		}
		vol.Mode = collab.ModeOnline
	}
}

func (s *scanner) preflight() error {
	if !s.task.Running {
		return nil
	}
	attached := false
	for _, volid := range sortedVolIDs(s.vols) {
		vol := s.vols[volid]
		if vol.HasSnapshots && !vol.Replicated {
			return &ValidationError{VolID: volid, Reason: "online storage migration not possible if non-replicated snapshot exists"}
		}
		if vol.Mode == collab.ModeOnline {
			attached = true
		}
	}
	if attached && !s.task.Opts.WithLocalDisks {
		return &ValidationError{Reason: "can't live migrate attached local disks without with-local-disks option"}
	}
	return nil
}

// exportFormats 离线复制的卷必须有可用的导出格式
func (s *scanner) exportFormats() error {
	for _, volid := range sortedVolIDs(s.vols) {
		vol := s.vols[volid]
		if vol.Mode != collab.ModeOffline || vol.Replicated {
			continue
		}
		format, err := ExportFormat(vol.Format, vol.HasSnapshots)
		if err != nil {
			return &ValidationError{VolID: volid, Reason: err.Error()}
		}
		vol.ExportFormat = format
	}
	return nil
}

func sortedVolIDs(vols map[string]*collab.LocalVolume) []string {
	ids := make([]string, 0, len(vols))
	for id := range vols {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineVolumes 按驱动器名排序
func OnlineVolumes(task *collab.MigrationTask) []*collab.LocalVolume {
	var out []*collab.LocalVolume
	for _, vol := range task.Volumes {
		if vol.Mode == collab.ModeOnline {
			out = append(out, vol)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Drive < out[j].Drive })
	return out
}

// OfflineVolumes 需要复制的离线卷，已复制的卷不在其中
func OfflineVolumes(task *collab.MigrationTask) []*collab.LocalVolume {
	var out []*collab.LocalVolume
	for _, volid := range sortedVolIDs(task.Volumes) {
		vol := task.Volumes[volid]
		if vol.Mode == collab.ModeOffline && !vol.Replicated {
			out = append(out, vol)
		}
	}
	return out
}
