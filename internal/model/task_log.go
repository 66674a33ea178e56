package model

import "time"

// TaskLog 任务日志的一行
type TaskLog struct {
	Id         int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	TaskID     string    `json:"task_id" gorm:"column:task_id;size:128;not null;index:idx_task_seq,priority:1"`
	Seq        int       `json:"seq" gorm:"column:seq;not null;index:idx_task_seq,priority:2"`
	Level      string    `json:"level" gorm:"column:level;size:10"`
	Line       string    `json:"line" gorm:"column:line;type:text"`
	CreateTime time.Time `json:"create_time" gorm:"column:gmt_create;autoCreateTime"`
}

func (TaskLog) TableName() string {
	return "task_log"
}
