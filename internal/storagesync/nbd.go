package storagesync

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DeviceName qemu 中驱动器的节点名
func DeviceName(drive string) string {
	return "drive-" + drive
}

// ExportName NBD 导出名与驱动器名对应
func ExportName(drive string) string {
	return "drive-" + drive
}

func MirrorJobID(drive string) string {
	return "mirror-" + drive
}

// NBDSocket 目标端 NBD server 监听的 unix socket
func NBDSocket(runDir string, vmid uint32) string {
	return filepath.Join(runDir, fmt.Sprintf("%d_nbd.migrate", vmid))
}

// MigrateSocket 目标端内存迁移流的 unix socket
func MigrateSocket(runDir string, vmid uint32) string {
	return filepath.Join(runDir, fmt.Sprintf("%d.migrate", vmid))
}

func NBDUnixURI(socket, drive string) string {
	return fmt.Sprintf("nbd:unix:%s:exportname=%s", socket, ExportName(drive))
}

func NBDTCPURI(addr string, port int, drive string) string {
	return fmt.Sprintf("nbd:%s:%d:exportname=%s", addr, port, ExportName(drive))
}

// NBDSocketFromURI unix 形式的 NBD 地址中的 socket 路径
func NBDSocketFromURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, "nbd:unix:")
	if !ok {
		return "", false
	}
	path, _, _ := strings.Cut(rest, ":exportname=")
	return path, path != ""
}
