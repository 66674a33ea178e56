package qmp

import (
	"fmt"
	"path/filepath"
)

// PeerKind 控制通道的类型
type PeerKind int

const (
	// Monitor QEMU monitor (QMP)，连接后需要完成 capabilities 协商
	Monitor PeerKind = iota
	// Agent 客户机内的 guest agent，每条命令之前都要先同步
	Agent
)

func (k PeerKind) String() string {
	switch k {
	case Monitor:
		return "qmp"
	case Agent:
		return "qga"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Peer 一个虚拟机的一个控制 socket
type Peer struct {
	VMID uint32
	Kind PeerKind
}

func MonitorPeer(vmid uint32) Peer { return Peer{VMID: vmid, Kind: Monitor} }

func AgentPeer(vmid uint32) Peer { return Peer{VMID: vmid, Kind: Agent} }

func (p Peer) String() string {
	return fmt.Sprintf("VM %d %s", p.VMID, p.Kind)
}

// SocketPath 返回 peer 在 runDir 下的 socket 路径，例如 /var/run/qemu-server/100.qmp
func (p Peer) SocketPath(runDir string) string {
	return filepath.Join(runDir, fmt.Sprintf("%d.%s", p.VMID, p.Kind))
}
