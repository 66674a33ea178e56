package v1

// 迁移任务相关 API 定义

// MigrateVMRequest 迁移虚拟机请求
type MigrateVMRequest struct {
	Target           string            `json:"target" binding:"required" example:"pve02"`         // 目标节点
	Online           bool              `json:"online" example:"true"`                             // 是否在线迁移
	WithLocalDisks   bool              `json:"with_local_disks" example:"true"`                   // 是否迁移本地磁盘
	Force            bool              `json:"force" example:"false"`                             // 允许迁移带本地设备的虚拟机
	TargetStorage    map[string]string `json:"targetstorage,omitempty"`                           // 存储映射，"*" 为默认
	BridgeMap        map[string]string `json:"bridgemap,omitempty"`                               // 网桥映射，"*" 为默认
	MigrationType    string            `json:"migration_type,omitempty" example:"secure"`         // secure（默认）、insecure、websocket
	MigrationNetwork string            `json:"migration_network,omitempty" example:"10.0.0.0/24"` // 迁移网络CIDR
	Bwlimit          int64             `json:"bwlimit,omitempty" example:"102400"`                // 带宽限制（KiB/s）
}

type MigrateVMData struct {
	TaskID string `json:"task_id" example:"UPID:pve01:4bZ9kQ1:qmigrate:100"`
}

// MigrateVMResponse 迁移虚拟机响应
type MigrateVMResponse struct {
	Response
	Data MigrateVMData `json:"data"`
}

// TaskItem 迁移任务
type TaskItem struct {
	TaskID       string `json:"task_id" example:"UPID:pve01:4bZ9kQ1:qmigrate:100"`
	VMID         uint32 `json:"vmid" example:"100"`
	Node         string `json:"node" example:"pve01"`
	TargetNode   string `json:"target_node" example:"pve02"`
	Mode         string `json:"mode" example:"online"`
	Status       string `json:"status" example:"running"` // running / ok / warnings / error
	Phase        string `json:"phase" example:"execute"`
	StartTime    int64  `json:"start_time" example:"1735689600"`
	EndTime      int64  `json:"end_time,omitempty" example:"1735689720"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// GetTaskResponse 任务状态响应
type GetTaskResponse struct {
	Response
	Data TaskItem `json:"data"`
}

// ListTasksRequest 任务列表请求
type ListTasksRequest struct {
	Page     int    `form:"page" example:"1"`
	PageSize int    `form:"page_size" example:"20"`
	VMID     uint32 `form:"vmid" example:"100"`
	Status   string `form:"status" example:"running"`
}

type ListTasksData struct {
	Total int64      `json:"total"`
	List  []TaskItem `json:"list"`
}

// ListTasksResponse 任务列表响应
type ListTasksResponse struct {
	Response
	Data ListTasksData `json:"data"`
}

// GetTaskLogRequest 任务日志请求
type GetTaskLogRequest struct {
	Start int `form:"start" example:"0"`  // 起始行号
	Limit int `form:"limit" example:"50"` // 返回行数
}

type TaskLogItem struct {
	N int    `json:"n" example:"1"` // 行号
	T string `json:"t"`             // 日志内容
}

type GetTaskLogData struct {
	Total int64         `json:"total"`
	Lines []TaskLogItem `json:"lines"`
}

// GetTaskLogResponse 任务日志响应
type GetTaskLogResponse struct {
	Response
	Data GetTaskLogData `json:"data"`
}
