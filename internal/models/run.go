package models

import (
	"time"

	"gorm.io/datatypes"
)

// 执行状态常量
const (
	RunStatusPending   = "pending"   // 已创建
	RunStatusQueued    = "queued"    // 已入队
	RunStatusRunning   = "running"   // 执行中
	RunStatusCompleted = "completed" // 执行结束（含非零退出）
	RunStatusFailed    = "failed"    // 启动失败或内部错误
)

// 执行来源
const (
	RunSourceAPI      = "api"
	RunSourceSchedule = "schedule"
)

// ExecutionRun 一次安全检查执行
type ExecutionRun struct {
	BaseModel

	RunID  string `gorm:"size:32;not null;uniqueIndex" json:"run_id"`
	Mode   string `gorm:"size:20;not null" json:"mode"` // unified/per_host
	Status string `gorm:"size:20;default:'pending';index" json:"status"`
	Source string `gorm:"size:20" json:"source"`

	// 对账后的历史状态 never_executed/executed_partial/completed
	HistoryStatus string `gorm:"size:20;index" json:"history_status"`

	ScheduleID *uint `gorm:"index" json:"schedule_id,omitempty"`

	// 输入
	Targets   datatypes.JSON `gorm:"type:jsonb" json:"targets"`
	Selection datatypes.JSON `gorm:"type:jsonb" json:"selection"`
	Inventory string         `gorm:"type:text" json:"-"`

	// 合成结果
	Plan           datatypes.JSON `gorm:"type:jsonb" json:"plan,omitempty"`
	ModuleCount    int            `json:"module_count"`
	WorkspaceDir   string         `gorm:"size:500" json:"workspace_dir"`
	InventoryPath  string         `gorm:"size:500" json:"inventory_path"`
	PlaybookPath   string         `gorm:"size:500" json:"playbook_path"`
	ResultDir      string         `gorm:"size:500" json:"result_dir"`
	TranscriptPath string         `gorm:"size:500" json:"transcript_path"`

	// 执行结果
	Launched bool           `json:"launched"`
	ExitCode *int           `json:"exit_code,omitempty"`
	Error    string         `gorm:"type:text" json:"error,omitempty"`
	Recap    datatypes.JSON `gorm:"type:jsonb" json:"recap,omitempty"`

	// 汇总，便于列表展示
	UnreachableCount int     `json:"unreachable_count"`
	VulnerableHosts  int     `json:"vulnerable_hosts"`
	ImprovementRate  float64 `json:"improvement_rate"`

	QueuedAt   *time.Time `json:"queued_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName 指定表名
func (ExecutionRun) TableName() string {
	return "execution_runs"
}

// RunLog 执行输出（持久化存储）
type RunLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	RunID     string    `gorm:"size:32;not null;index" json:"run_id"`
	Seq       int       `gorm:"not null" json:"seq"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Level     string    `gorm:"size:20" json:"level"` // info/success/error/output
	HostName  string    `gorm:"size:100;index" json:"host_name,omitempty"`
	Message   string    `gorm:"type:text" json:"message"`
}

// TableName 指定表名
func (RunLog) TableName() string {
	return "run_logs"
}
