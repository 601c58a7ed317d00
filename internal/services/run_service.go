package services

import (
	"askable/internal/models"
	"askable/internal/playbook"
	"askable/internal/reconcile"
	"askable/internal/runner"
	"askable/pkg/errors"
	"askable/pkg/pagination"
	"askable/pkg/queue"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Enqueuer 执行队列入队
type Enqueuer interface {
	Enqueue(ctx context.Context, runID, source string) (*queue.RunMessage, error)
}

// RunService 执行记录服务
type RunService struct {
	db       *gorm.DB
	queue    Enqueuer
	pipeline *Pipeline
	log      *logrus.Logger
	mu       sync.Mutex
}

// NewRunService 创建执行服务
func NewRunService(db *gorm.DB, queue Enqueuer, pipeline *Pipeline, log *logrus.Logger) *RunService {
	return &RunService{db: db, queue: queue, pipeline: pipeline, log: log}
}

// Pipeline 执行流水线
func (s *RunService) Pipeline() *Pipeline {
	return s.pipeline
}

var inFlightStatuses = []string{models.RunStatusPending, models.RunStatusQueued, models.RunStatusRunning}

// Submit 生成执行计划并入队
//
// 已有未结束的执行时返回 ErrRunInProgress。
func (s *RunService) Submit(ctx context.Context, req RunRequest, source string, scheduleID *uint) (*models.ExecutionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active int64
	if err := s.db.Model(&models.ExecutionRun{}).Where("status IN ?", inFlightStatuses).Count(&active).Error; err != nil {
		return nil, fmt.Errorf("查询执行状态失败: %w", err)
	}
	if active > 0 {
		return nil, errors.ErrRunInProgress
	}

	pr, err := s.pipeline.Prepare(req)
	if err != nil {
		return nil, err
	}

	run, err := newRunRecord(pr, req, source, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("保存执行记录失败: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, run.RunID, source); err != nil {
		s.db.Model(run).Updates(map[string]interface{}{
			"status": models.RunStatusFailed,
			"error":  err.Error(),
		})
		return nil, err
	}

	now := time.Now()
	run.Status = models.RunStatusQueued
	run.QueuedAt = &now
	if err := s.db.Model(run).Updates(map[string]interface{}{
		"status":    run.Status,
		"queued_at": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("更新执行状态失败: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id": run.RunID,
		"source": source,
	}).Info("执行已入队")
	return run, nil
}

func newRunRecord(pr *PreparedRun, req RunRequest, source string, scheduleID *uint) (*models.ExecutionRun, error) {
	targets, err := json.Marshal(pr.Targets)
	if err != nil {
		return nil, err
	}
	selection, err := json.Marshal(req.Selection)
	if err != nil {
		return nil, err
	}
	plan, err := json.Marshal(pr.Execution)
	if err != nil {
		return nil, err
	}

	return &models.ExecutionRun{
		RunID:          pr.RunID,
		Mode:           string(pr.Plan.Mode),
		Status:         models.RunStatusPending,
		Source:         source,
		ScheduleID:     scheduleID,
		Targets:        datatypes.JSON(targets),
		Selection:      datatypes.JSON(selection),
		Inventory:      req.Inventory,
		Plan:           datatypes.JSON(plan),
		ModuleCount:    len(pr.Plan.Modules),
		WorkspaceDir:   pr.Workspace.Dir,
		InventoryPath:  pr.Workspace.InventoryPath,
		PlaybookPath:   pr.Workspace.PlaybookPath,
		ResultDir:      pr.Workspace.ResultDir,
		TranscriptPath: pr.Workspace.TranscriptPath,
	}, nil
}

// restore 从执行记录还原执行计划
func restore(run *models.ExecutionRun) (*PreparedRun, error) {
	var ep playbook.ExecutionPlan
	if err := json.Unmarshal(run.Plan, &ep); err != nil {
		return nil, fmt.Errorf("解析执行计划失败: %w", err)
	}
	return &PreparedRun{
		RunID:     run.RunID,
		Targets:   ep.Targets,
		Execution: &ep,
		Workspace: &playbook.Workspace{
			RunID:          run.RunID,
			Dir:            run.WorkspaceDir,
			InventoryPath:  run.InventoryPath,
			PlaybookPath:   run.PlaybookPath,
			ResultDir:      run.ResultDir,
			TranscriptPath: run.TranscriptPath,
		},
	}, nil
}

// Get 获取执行记录
func (s *RunService) Get(runID string) (*models.ExecutionRun, error) {
	var run models.ExecutionRun
	if err := s.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrRunNotFound
		}
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}
	return &run, nil
}

// List 分页查询执行记录，按执行标识倒序
func (s *RunService) List(params *pagination.PageParams, status string) ([]models.ExecutionRun, int64, error) {
	query := s.db.Model(&models.ExecutionRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计执行记录失败: %w", err)
	}

	var runs []models.ExecutionRun
	if err := query.Order("run_id DESC").Scopes(params.Scope()).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询执行记录失败: %w", err)
	}
	return runs, total, nil
}

// Logs 分页查询执行输出
func (s *RunService) Logs(runID string, params *pagination.PageParams, host string) ([]models.RunLog, int64, error) {
	if _, err := s.Get(runID); err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&models.RunLog{}).Where("run_id = ?", runID)
	if host != "" {
		query = query.Where("host_name = ?", host)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计执行日志失败: %w", err)
	}

	var logs []models.RunLog
	if err := query.Order("seq ASC").Scopes(params.Scope()).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询执行日志失败: %w", err)
	}
	return logs, total, nil
}

// Report 根据磁盘上的结果文件重新对账
func (s *RunService) Report(runID string) (*reconcile.Report, error) {
	run, err := s.Get(runID)
	if err != nil {
		return nil, err
	}
	pr, err := restore(run)
	if err != nil {
		return nil, err
	}

	var recap *runner.Recap
	if len(run.Recap) > 0 {
		recap = &runner.Recap{}
		if err := json.Unmarshal(run.Recap, recap); err != nil {
			s.log.WithError(err).WithField("run_id", runID).Warn("解析执行汇总失败")
			recap = nil
		}
	}

	in := reconcile.InputFromPlan(pr.Execution, run.TranscriptPath, recap)
	in.NotLaunched = run.FinishedAt != nil && !run.Launched
	return reconcile.Reconcile(in), nil
}

// RecoverInterrupted 服务重启时把未结束的执行标记为失败
func (s *RunService) RecoverInterrupted() (int64, error) {
	now := time.Now()
	result := s.db.Model(&models.ExecutionRun{}).
		Where("status IN ?", []string{models.RunStatusPending, models.RunStatusRunning}).
		Updates(map[string]interface{}{
			"status":      models.RunStatusFailed,
			"error":       "服务重启，执行中断",
			"finished_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("恢复中断的执行失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Warnf("已将 %d 个中断的执行标记为失败", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// Requeue 重新投递已入队但未开始的执行；重复的消息在消费时会被跳过
func (s *RunService) Requeue(ctx context.Context) (int, error) {
	var runs []models.ExecutionRun
	if err := s.db.Where("status = ?", models.RunStatusQueued).Order("run_id ASC").Find(&runs).Error; err != nil {
		return 0, fmt.Errorf("查询排队中的执行失败: %w", err)
	}
	for _, run := range runs {
		if _, err := s.queue.Enqueue(ctx, run.RunID, run.Source); err != nil {
			return 0, err
		}
	}
	if len(runs) > 0 {
		s.log.Infof("已重新投递 %d 个排队中的执行", len(runs))
	}
	return len(runs), nil
}
