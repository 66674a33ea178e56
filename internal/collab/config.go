package collab

import (
	"sort"
	"strings"
)

// Drive 配置中的一个磁盘项
type Drive struct {
	Key    string `json:"key"`
	VolID  string `json:"volid"`
	Media  string `json:"media,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Format string `json:"format,omitempty"`
	// EFIType 仅 efidisk 使用（2m|4m）
	EFIType string `json:"efitype,omitempty"`
}

func (d Drive) IsCDROM() bool {
	return d.Media == "cdrom"
}

// IsCloudInit cloud-init 盘由配置生成
func (d Drive) IsCloudInit() bool {
	return strings.Contains(d.VolID, "cloudinit")
}

func (d Drive) IsEFI() bool {
	return strings.HasPrefix(d.Key, "efidisk")
}

func (d Drive) IsTPM() bool {
	return strings.HasPrefix(d.Key, "tpmstate")
}

// IsVolume cdrom 的 none/cdrom 等不是存储卷
func (d Drive) IsVolume() bool {
	return d.VolID != "" && d.VolID != "none" && d.VolID != "cdrom" && strings.Contains(d.VolID, ":")
}

type NetDevice struct {
	Model  string `json:"model"`
	MAC    string `json:"mac"`
	Bridge string `json:"bridge"`
	Tag    int    `json:"tag,omitempty"`
}

type Snapshot struct {
	Name   string           `json:"name"`
	Drives map[string]Drive `json:"drives"`
}

// VMConfig 迁移关心的虚拟机配置
type VMConfig struct {
	VMID      uint32               `json:"vmid"`
	Name      string               `json:"name,omitempty"`
	Node      string               `json:"node"`
	Lock      string               `json:"lock,omitempty"`
	MemoryMiB int64                `json:"memory"`
	Drives    map[string]Drive     `json:"drives"`
	Unused    []string             `json:"unused,omitempty"`
	Pending   map[string]Drive     `json:"pending,omitempty"`
	Snapshots map[string]Snapshot  `json:"snapshots,omitempty"`
	Nets      map[string]NetDevice `json:"nets,omitempty"`
	HostPCI   []string             `json:"hostpci,omitempty"`
	USB       []string             `json:"usb,omitempty"`
	// Clipboard 显示设备的剪贴板模式
	Clipboard string `json:"clipboard,omitempty"`
	// FSTrimClonedDisks 迁移磁盘后在客户机内执行 fstrim
	FSTrimClonedDisks bool   `json:"fstrim_cloned_disks,omitempty"`
	Digest            string `json:"digest,omitempty"`
}

// Clone 深拷贝，映射存储/网桥时不修改原配置
func (c *VMConfig) Clone() *VMConfig {
	out := *c
	out.Drives = cloneDrives(c.Drives)
	out.Pending = cloneDrives(c.Pending)
	out.Unused = append([]string(nil), c.Unused...)
	out.HostPCI = append([]string(nil), c.HostPCI...)
	out.USB = append([]string(nil), c.USB...)
	if c.Nets != nil {
		out.Nets = make(map[string]NetDevice, len(c.Nets))
		for k, v := range c.Nets {
			out.Nets[k] = v
		}
	}
	if c.Snapshots != nil {
		out.Snapshots = make(map[string]Snapshot, len(c.Snapshots))
		for k, v := range c.Snapshots {
			out.Snapshots[k] = Snapshot{Name: v.Name, Drives: cloneDrives(v.Drives)}
		}
	}
	return &out
}

func cloneDrives(in map[string]Drive) map[string]Drive {
	if in == nil {
		return nil
	}
	out := make(map[string]Drive, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DriveKeys 按名称排序，保证日志和操作顺序稳定
func (c *VMConfig) DriveKeys() []string {
	keys := make([]string, 0, len(c.Drives))
	for k := range c.Drives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReplaceVolume 把所有引用 from 的地方改为 to
func (c *VMConfig) ReplaceVolume(from, to string) {
	replace := func(m map[string]Drive) {
		for k, d := range m {
			if d.VolID == from {
				d.VolID = to
				m[k] = d
			}
		}
	}
	replace(c.Drives)
	replace(c.Pending)
	for _, s := range c.Snapshots {
		replace(s.Drives)
	}
	for i, v := range c.Unused {
		if v == from {
			c.Unused[i] = to
		}
	}
}
