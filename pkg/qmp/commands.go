package qmp

import "time"

const (
	TimeoutInteractive = 5 * time.Second
	TimeoutDevice      = 60 * time.Second
	TimeoutBlockJob    = 10 * time.Minute
	TimeoutLong        = time.Hour
)

// CommandSpec 命令描述符，在入队时解析一次
type CommandSpec struct {
	Name    string
	Timeout time.Duration
	// NoReplyOK 为 true 时，连接在没有应答的情况下关闭视为成功
	NoReplyOK bool
}

var commandTable = map[string]CommandSpec{}

func register(timeout time.Duration, noReply bool, names ...string) {
	for _, name := range names {
		commandTable[name] = CommandSpec{Name: name, Timeout: timeout, NoReplyOK: noReply}
	}
}

func init() {
	register(TimeoutDevice, false,
		"device_add", "device_del", "blockdev-add", "blockdev-del", "drive_add", "drive_del",
		"netdev_add", "netdev_del", "eject", "change", "blockdev-change-medium",
		"nbd-server-add", "block-export-add", "block-export-del",
	)
	register(TimeoutBlockJob, false,
		"drive-mirror", "blockdev-mirror", "block-job-cancel", "block-job-complete",
		"block-job-change", "block-job-pause", "block-job-resume", "query-block-jobs",
		"block-dirty-bitmap-add", "block-dirty-bitmap-remove", "query-backup", "backup-cancel",
		"savevm-start", "savevm-end", "query-savevm", "snapshot-drive", "delete-drive-snapshot",
		"blockdev-snapshot-internal-sync", "blockdev-snapshot-delete-internal-sync",
		"guest-fstrim",
	)
	register(TimeoutLong, false,
		"migrate", "query-migrate", "migrate_cancel", "migrate-incoming", "backup",
		"guest-fsfreeze-freeze", "guest-fsfreeze-thaw",
	)
	register(TimeoutBlockJob, true, "guest-shutdown")
	register(TimeoutInteractive, true, "guest-suspend-ram", "guest-suspend-disk", "guest-suspend-hybrid")
}

// Lookup 返回命令描述符，未登记的命令使用交互超时
func Lookup(name string) CommandSpec {
	if spec, ok := commandTable[name]; ok {
		return spec
	}
	return CommandSpec{Name: name, Timeout: TimeoutInteractive}
}
