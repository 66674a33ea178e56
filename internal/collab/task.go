package collab

import "time"

type Phase string

const (
	PhasePrepare  Phase = "prepare"
	PhaseExecute  Phase = "execute"
	PhaseFinalize Phase = "finalize"
	PhaseDone     Phase = "done"
)

type MigrationMode string

const (
	ModeOnline  MigrationMode = "online"
	ModeOffline MigrationMode = "offline"
)

// 迁移传输方式
const (
	TypeSecure    = "secure"
	TypeInsecure  = "insecure"
	TypeWebsocket = "websocket"
)

type Options struct {
	Online         bool              `json:"online"`
	Force          bool              `json:"force"`
	WithLocalDisks bool              `json:"with_local_disks"`
	TargetStorage  map[string]string `json:"targetstorage,omitempty"`
	BridgeMap      map[string]string `json:"bridgemap,omitempty"`
	MigrationType  string            `json:"migration_type"`
	Network        string            `json:"migration_network,omitempty"`
	BWLimitKiB     int64             `json:"bwlimit,omitempty"`
}

// MapStorage 未映射时保持原存储，"*" 为默认映射
func (o Options) MapStorage(storeid string) string {
	if t, ok := o.TargetStorage[storeid]; ok && t != "" {
		return t
	}
	if t, ok := o.TargetStorage["*"]; ok && t != "" {
		return t
	}
	return storeid
}

func (o Options) MapBridge(bridge string) string {
	if t, ok := o.BridgeMap[bridge]; ok && t != "" {
		return t
	}
	if t, ok := o.BridgeMap["*"]; ok && t != "" {
		return t
	}
	return bridge
}

// DiskRef 卷被引用的方式
type DiskRef string

const (
	RefAttached  DiskRef = "attached"
	RefUnused    DiskRef = "unused"
	RefSnapshot  DiskRef = "snapshot"
	RefPending   DiskRef = "pending"
	RefGenerated DiskRef = "generated"
)

// LocalVolume 需要复制到目标节点的本地卷
type LocalVolume struct {
	VolID         string        `json:"volid"`
	SourceStorage string        `json:"source_storage"`
	TargetStorage string        `json:"target_storage"`
	Size          int64         `json:"size"`
	Format        string        `json:"format"`
	Replicated    bool          `json:"replicated"`
	Bitmap        string        `json:"bitmap,omitempty"`
	Mode          MigrationMode `json:"migration_mode"`
	BWLimitKiB    int64         `json:"bwlimit,omitempty"`
	// Drive 在运行中的虚拟机上挂载的位置，未挂载时为空
	Drive        string    `json:"drive,omitempty"`
	Refs         []DiskRef `json:"refs"`
	HasSnapshots bool      `json:"snapshots,omitempty"`
	// ExportFormat 离线复制使用的流格式
	ExportFormat string `json:"export_format,omitempty"`
	// TargetVolID 目标端分配的卷
	TargetVolID string `json:"target_volid,omitempty"`
	// Transferred 实际传输的字节数
	Transferred int64 `json:"transferred,omitempty"`
	// DirtyBytes 增量镜像开始时位图标记的字节数
	DirtyBytes int64 `json:"dirty_bytes,omitempty"`
}

func (v *LocalVolume) HasRef(ref DiskRef) bool {
	for _, r := range v.Refs {
		if r == ref {
			return true
		}
	}
	return false
}

// TargetDrive 目标端为在线磁盘导出的 NBD 端点
type TargetDrive struct {
	Drive    string `json:"drive"`
	VolID    string `json:"volid"`
	DriveStr string `json:"drivestr,omitempty"`
	URI      string `json:"uri"`
	Bitmap   string `json:"bitmap,omitempty"`
}

// TunnelInfo 内存迁移流的端点
type TunnelInfo struct {
	Proto   string   `json:"proto"`
	Addr    string   `json:"addr"`
	Port    int      `json:"port,omitempty"`
	Sockets []string `json:"sockets,omitempty"`
}

// MigrationTask 一次迁移的运行期状态，不持久化
type MigrationTask struct {
	ID         string
	VMID       uint32
	Node       string
	TargetNode string
	TargetAddr string
	Opts       Options
	Phase      Phase
	// Errors Finalize 阶段的告警
	Errors bool

	Running      bool
	SourceStatus string
	StartTime    time.Time

	Config       *VMConfig
	Volumes      map[string]*LocalVolume
	TargetDrives map[string]*TargetDrive
	Tunnel       *TunnelInfo
	SpicePort    int
}

func NewMigrationTask(id string, vmid uint32, node, target string, opts Options) *MigrationTask {
	return &MigrationTask{
		ID:           id,
		VMID:         vmid,
		Node:         node,
		TargetNode:   target,
		Opts:         opts,
		Phase:        PhasePrepare,
		StartTime:    time.Now(),
		Volumes:      make(map[string]*LocalVolume),
		TargetDrives: make(map[string]*TargetDrive),
	}
}
