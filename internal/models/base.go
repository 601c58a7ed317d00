package models

import (
	"time"
)

// BaseModel 执行记录与定时执行共用的主键和时间戳
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All 需要迁移的模型
func All() []interface{} {
	return []interface{}{
		&ExecutionRun{},
		&RunLog{},
		&ScheduledRun{},
	}
}
