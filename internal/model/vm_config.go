package model

import "time"

// VMConfig 本节点保存的虚拟机配置，Config 为 JSON
type VMConfig struct {
	VMID       uint32    `json:"vmid" gorm:"column:vmid;primaryKey;autoIncrement:false"`
	Node       string    `json:"node" gorm:"column:node;size:100;not null;index"`
	Lock       string    `json:"lock" gorm:"column:lock_name;size:32"`
	Config     string    `json:"config" gorm:"column:config;type:text;not null"`
	Digest     string    `json:"digest" gorm:"column:digest;size:64;not null"`
	CreateTime time.Time `json:"create_time" gorm:"column:gmt_create;autoCreateTime"`
	UpdateTime time.Time `json:"update_time" gorm:"column:gmt_modified;autoUpdateTime"`
}

func (VMConfig) TableName() string {
	return "vm_config"
}
