package model

import "time"

// MigrateTask 一次迁移任务，由 migrate 接口创建
type MigrateTask struct {
	Id         int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	TaskID     string `json:"task_id" gorm:"column:task_id;size:128;not null;uniqueIndex"`
	VMID       uint32 `json:"vmid" gorm:"column:vmid;not null;index"`
	Node       string `json:"node" gorm:"column:node;size:100;not null"`
	TargetNode string `json:"target_node" gorm:"column:target_node;size:100;not null"`
	Mode       string `json:"mode" gorm:"column:mode;size:20"` // online | offline
	Options    string `json:"options" gorm:"column:options;type:text"`

	Status string `json:"status" gorm:"column:status;size:20;not null;default:'running';index"`
	Phase  string `json:"phase" gorm:"column:phase;size:20"`

	StartTime time.Time  `json:"start_time" gorm:"column:start_time"`
	EndTime   *time.Time `json:"end_time" gorm:"column:end_time;index"`

	ErrorMessage string `json:"error_message" gorm:"column:error_message;type:text"`

	Creator    string    `json:"creator" gorm:"column:creator;size:100"`
	CreateTime time.Time `json:"create_time" gorm:"column:gmt_create;autoCreateTime"`
	UpdateTime time.Time `json:"update_time" gorm:"column:gmt_modified;autoUpdateTime"`
}

func (MigrateTask) TableName() string {
	return "migrate_task"
}

// 任务状态
const (
	MigrateTaskStatusRunning  = "running"
	MigrateTaskStatusOK       = "ok"
	MigrateTaskStatusWarnings = "warnings"
	MigrateTaskStatusError    = "error"
)
