package collab

// 迁移隧道命令的参数和应答

// ConfigParams config 命令在目标端创建虚拟机配置
type ConfigParams struct {
	Config *VMConfig `json:"config"`
}

// DiskParams disk 命令在目标端分配一个卷
type DiskParams struct {
	Storage string `json:"storage"`
	Format  string `json:"format"`
	Size    int64  `json:"size"`
	Drive   string `json:"drive"`
}

type DiskResult struct {
	VolID string `json:"volid"`
}

type BWLimitParams struct {
	Storages []string `json:"storages"`
	BWLimit  int64    `json:"bwlimit,omitempty"`
}

type BWLimitResult struct {
	BWLimit int64 `json:"bwlimit"`
}

type StopParams struct {
	Timeout int `json:"timeout,omitempty"`
}
