package model

import "time"

// ReplicationState 一个卷到某个目标节点的最近一次复制
type ReplicationState struct {
	Id         int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	VMID       uint32    `json:"vmid" gorm:"column:vmid;not null;uniqueIndex:uk_repl_vol,priority:1"`
	Target     string    `json:"target" gorm:"column:target;size:100;not null;uniqueIndex:uk_repl_vol,priority:2"`
	VolID      string    `json:"volid" gorm:"column:volid;size:255;not null;uniqueIndex:uk_repl_vol,priority:3"`
	Source     string    `json:"source" gorm:"column:source;size:100;not null"`
	LastSync   time.Time `json:"last_sync" gorm:"column:last_sync"`
	Bitmap     string    `json:"bitmap" gorm:"column:bitmap;size:128"`
	Failed     int8      `json:"failed" gorm:"column:failed;default:0"` // 最近一次复制失败
	CreateTime time.Time `json:"create_time" gorm:"column:gmt_create;autoCreateTime"`
	UpdateTime time.Time `json:"update_time" gorm:"column:gmt_modified;autoUpdateTime"`
}

func (ReplicationState) TableName() string {
	return "replication_state"
}
