package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScheduledRun 定时执行配置
type ScheduledRun struct {
	BaseModel

	ScheduleID  string `gorm:"size:36;not null;uniqueIndex" json:"schedule_id"`
	Name        string `gorm:"size:200;not null" json:"name"`
	Description string `gorm:"size:500" json:"description"`
	CronExpr    string `gorm:"size:100;not null" json:"cron_expr"`
	IsActive    bool   `gorm:"index" json:"is_active"` // 不设默认值，false 才能写入

	// 执行配置
	Inventory string         `gorm:"type:text;not null" json:"-"`
	Hosts     datatypes.JSON `gorm:"type:jsonb" json:"hosts"`
	Selection datatypes.JSON `gorm:"type:jsonb" json:"selection"`

	// 执行状态
	LastRunAt  *time.Time `gorm:"index" json:"last_run_at"`
	NextRunAt  *time.Time `gorm:"index" json:"next_run_at"`
	LastStatus string     `gorm:"size:20" json:"last_status"`
	LastRunID  string     `gorm:"size:32" json:"last_run_id"`
	RunCount   int64      `gorm:"default:0" json:"run_count"`
}

// TableName 指定表名
func (ScheduledRun) TableName() string {
	return "scheduled_runs"
}

// 定时执行状态常量
const (
	ScheduleStatusIdle      = "idle"      // 空闲
	ScheduleStatusSubmitted = "submitted" // 已提交执行
	ScheduleStatusSkipped   = "skipped"   // 已有执行进行中，本次跳过
	ScheduleStatusFailed    = "failed"    // 提交失败
)
