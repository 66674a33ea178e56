// Package collab 迁移核心依赖的外部组件
package collab

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrLocked        = errors.New("locked")
	ErrDigestChanged = errors.New("config changed by another process")
)

// StopOptions Supervisor.Stop 的参数
type StopOptions struct {
	SkipLock     bool          `json:"skiplock"`
	KeepActive   bool          `json:"keep_active"`
	MigratedFrom string        `json:"migratedfrom,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// NBDRequest 目标端为一个在线磁盘准备的卷
type NBDRequest struct {
	Drive   Drive  `json:"drive"`
	Storage string `json:"storage"`
	// VolID 已复制的卷直接复用
	VolID  string `json:"volid,omitempty"`
	Bitmap string `json:"bitmap,omitempty"`
}

// StartParams 目标端以 incoming 模式启动虚拟机
type StartParams struct {
	Config        *VMConfig             `json:"config"`
	MigratedFrom  string                `json:"migratedfrom"`
	MigrationType string                `json:"migration_type"`
	Network       string                `json:"migration_network,omitempty"`
	StateURI      string                `json:"stateuri"`
	NBD           map[string]NBDRequest `json:"nbd,omitempty"`
	NBDProtoV     int                   `json:"nbd_proto_version,omitempty"`
	SpiceTicket   string                `json:"spice_ticket,omitempty"`
}

type MigrateEndpoint struct {
	Proto string `json:"proto"`
	Addr  string `json:"addr"`
	Port  int    `json:"port,omitempty"`
}

type NBDEndpoint struct {
	URI    string `json:"uri"`
	VolID  string `json:"volid"`
	Bitmap string `json:"bitmap,omitempty"`
}

// StartResult 目标端启动后返回的端点
type StartResult struct {
	Migrate   MigrateEndpoint        `json:"migrate"`
	NBD       map[string]NBDEndpoint `json:"nbd,omitempty"`
	SpicePort int                    `json:"spice_port,omitempty"`
}

// Supervisor 本节点虚拟机进程管理
type Supervisor interface {
	// IsRunning 返回 qemu 进程 pid，未运行时为 0
	IsRunning(ctx context.Context, vmid uint32) (int, error)
	// Start 启动进程；StateURI 非空时以 incoming 模式启动
	Start(ctx context.Context, vmid uint32, params StartParams) error
	Stop(ctx context.Context, vmid uint32, opts StopOptions) error
	CommandLine(ctx context.Context, vmid uint32) ([]string, error)
}

// Locker 按虚拟机的互斥锁
type Locker interface {
	Lock(ctx context.Context, vmid uint32, owner string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// ConfigStore 虚拟机配置存储
type ConfigStore interface {
	Load(ctx context.Context, vmid uint32) (*VMConfig, error)
	// Write 配置的 Digest 与存储中不一致时返回 ErrDigestChanged
	Write(ctx context.Context, cfg *VMConfig) error
	Create(ctx context.Context, cfg *VMConfig) error
	Delete(ctx context.Context, vmid uint32) error
	MoveOwnership(ctx context.Context, vmid uint32, target string) error
}

type StorageInfo struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Path       string `json:"path,omitempty"`
	Shared     bool   `json:"shared"`
	Enabled    bool   `json:"enabled"`
	BWLimitKiB int64  `json:"bwlimit,omitempty"`
	// Nodes 为空表示所有节点可用
	Nodes []string `json:"nodes,omitempty"`
}

// AvailableOn 存储启用且对 node 可见
func (s *StorageInfo) AvailableOn(node string) bool {
	if !s.Enabled {
		return false
	}
	if len(s.Nodes) == 0 {
		return true
	}
	for _, n := range s.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// 卷导出流格式：8 字节大端长度头后跟内容
const (
	// ExportRawSize 只有当前数据
	ExportRawSize = "raw+size"
	// ExportQcow2Size 整个 qcow2 文件，内部快照随之保留
	ExportQcow2Size = "qcow2+size"
)

type VolumeInfo struct {
	VolID  string
	Size   int64
	Format string
	Owner  uint32
	// Base 链接克隆的基础镜像
	Base string
}

// Storage 存储层
type Storage interface {
	Storage(ctx context.Context, storeid string) (*StorageInfo, error)
	ParseVolumeID(volid string) (storeid, name string, err error)
	VolumeInfo(ctx context.Context, volid string) (*VolumeInfo, error)
	Path(ctx context.Context, volid string) (string, error)
	Alloc(ctx context.Context, storeid string, vmid uint32, format string, size int64) (string, error)
	Free(ctx context.Context, volid string) error
	// Open 以 format（ExportRawSize 或 ExportQcow2Size）打开卷用于导出，返回流的长度
	Open(ctx context.Context, volid, format string) (io.ReadCloser, int64, error)
	// BWLimit 按操作类型返回限速（KiB/s），override 非 0 时优先
	BWLimit(ctx context.Context, op string, storeids []string, override int64) int64
}

type ReplicatedVolume struct {
	VolID    string
	LastSync time.Time
	Bitmap   string
}

// Replication 存储复制
type Replication interface {
	// Replicated 已复制到 target 且状态有效的卷
	Replicated(ctx context.Context, vmid uint32, target string) (map[string]ReplicatedVolume, error)
	// SwitchTarget 迁移完成后复制任务改为从 target 复制回 source
	SwitchTarget(ctx context.Context, vmid uint32, source, target string) error
}
