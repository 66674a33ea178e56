// Package storagesync 决定每个本地卷的迁移方式并执行复制或镜像
package storagesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/qmp"

	"github.com/spf13/viper"
)

// Monitor 控制通道，*qmp.Client 实现了它
type Monitor interface {
	Cmd(ctx context.Context, peer qmp.Peer, name string, args interface{}, opts ...qmp.CmdOption) (json.RawMessage, error)
}

// ValidationError 预检失败，此时还没有任何副作用
type ValidationError struct {
	VolID  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.VolID == "" {
		return e.Reason
	}
	return fmt.Sprintf("can't migrate '%s': %s", e.VolID, e.Reason)
}

type Config struct {
	RunDir string
	// JobPoll 轮询 block job 的间隔
	JobPoll time.Duration
	// ImportPoll 轮询目标端导入状态的间隔
	ImportPoll         time.Duration
	SocketWaitRetries  int
	SocketWaitInterval time.Duration
	// CancelTimeout 等待镜像任务结束的上限
	CancelTimeout time.Duration
}

func NewConfig(conf *viper.Viper) Config {
	return Config{
		RunDir:             conf.GetString("node.run_dir"),
		JobPoll:            time.Second,
		ImportPoll:         time.Second,
		SocketWaitRetries:  conf.GetInt("migrate.socket_wait_retries"),
		SocketWaitInterval: conf.GetDuration("migrate.socket_wait_interval"),
		CancelTimeout:      5 * time.Minute,
	}
}

// 允许复制的存储类型
var migratableTypes = map[string]bool{
	"dir":       true,
	"nfs":       true,
	"lvm":       true,
	"lvmthin":   true,
	"zfspool":   true,
	"btrfs":     true,
	"cifs":      true,
	"glusterfs": true,
}

type Engine struct {
	storage collab.Storage
	repl    collab.Replication
	mon     Monitor
	logger  *log.Logger
	conf    Config
}

func NewEngine(storage collab.Storage, repl collab.Replication, mon Monitor, logger *log.Logger, conf Config) *Engine {
	if conf.JobPoll <= 0 {
		conf.JobPoll = time.Second
	}
	if conf.ImportPoll <= 0 {
		conf.ImportPoll = time.Second
	}
	if conf.SocketWaitRetries <= 0 {
		conf.SocketWaitRetries = 50
	}
	if conf.SocketWaitInterval <= 0 {
		conf.SocketWaitInterval = 100 * time.Millisecond
	}
	if conf.CancelTimeout <= 0 {
		conf.CancelTimeout = 5 * time.Minute
	}
	return &Engine{
		storage: storage,
		repl:    repl,
		mon:     mon,
		logger:  logger,
		conf:    conf,
	}
}
