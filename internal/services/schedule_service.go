package services

import (
	"askable/internal/models"
	"askable/internal/planner"
	"askable/pkg/errors"
	"askable/pkg/pagination"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateScheduleRequest 创建定时执行请求
type CreateScheduleRequest struct {
	Name        string            `json:"name" binding:"required,max=200"`
	Description string            `json:"description" binding:"max=500"`
	CronExpr    string            `json:"cron_expr" binding:"required,cron"`
	IsActive    bool              `json:"is_active"`
	Inventory   string            `json:"inventory" binding:"required"`
	Hosts       []string          `json:"hosts"`
	Selection   planner.Selection `json:"selection"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleService 定时执行调度
type ScheduleService struct {
	db      *gorm.DB
	runs    *RunService
	log     *logrus.Logger
	cron    *cron.Cron
	jobs    map[uint]cron.EntryID // scheduledRunID -> cronEntryID
	mu      sync.RWMutex
	running bool
}

// NewScheduleService 创建调度服务
func NewScheduleService(db *gorm.DB, runs *RunService, log *logrus.Logger) *ScheduleService {
	return &ScheduleService{
		db:   db,
		runs: runs,
		log:  log,
		cron: cron.New(),
		jobs: make(map[uint]cron.EntryID),
	}
}

// Start 加载启用的定时执行并启动调度器
func (s *ScheduleService) Start() error {
	if s.running {
		return fmt.Errorf("调度器已经在运行")
	}

	var schedules []models.ScheduledRun
	if err := s.db.Where("is_active = ?", true).Find(&schedules).Error; err != nil {
		return fmt.Errorf("加载定时执行失败: %w", err)
	}
	for i := range schedules {
		if err := s.addJob(&schedules[i]); err != nil {
			s.log.Errorf("添加定时执行失败 [%s]: %v", schedules[i].Name, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.log.Infof("定时执行调度器启动成功，已加载 %d 个任务", len(schedules))
	return nil
}

// Stop 停止调度器，等待正在触发的任务返回
func (s *ScheduleService) Stop() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("定时执行调度器已停止")
}

// Create 创建定时执行
func (s *ScheduleService) Create(req *CreateScheduleRequest) (*models.ScheduledRun, error) {
	schedule, err := cronParser.Parse(req.CronExpr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidCron, err)
	}
	if err := req.Selection.Validate(); err != nil {
		return nil, fmt.Errorf("选择参数错误: %w", err)
	}

	hosts, _ := json.Marshal(trimNames(req.Hosts))
	selection, _ := json.Marshal(req.Selection)
	next := schedule.Next(time.Now())

	sr := &models.ScheduledRun{
		ScheduleID:  uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CronExpr:    req.CronExpr,
		IsActive:    req.IsActive,
		Inventory:   req.Inventory,
		Hosts:       datatypes.JSON(hosts),
		Selection:   datatypes.JSON(selection),
		NextRunAt:   &next,
		LastStatus:  models.ScheduleStatusIdle,
	}
	if err := s.db.Create(sr).Error; err != nil {
		return nil, fmt.Errorf("创建定时执行失败: %w", err)
	}

	if sr.IsActive {
		if err := s.addJob(sr); err != nil {
			s.db.Delete(sr)
			return nil, err
		}
	}
	return sr, nil
}

// Get 获取定时执行
func (s *ScheduleService) Get(id uint) (*models.ScheduledRun, error) {
	var sr models.ScheduledRun
	if err := s.db.First(&sr, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrScheduleNotFound
		}
		return nil, err
	}
	return &sr, nil
}

// List 分页查询定时执行
func (s *ScheduleService) List(params *pagination.PageParams) ([]models.ScheduledRun, int64, error) {
	var total int64
	if err := s.db.Model(&models.ScheduledRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var schedules []models.ScheduledRun
	if err := s.db.Order("id DESC").Scopes(params.Scope()).Find(&schedules).Error; err != nil {
		return nil, 0, err
	}
	return schedules, total, nil
}

// SetActive 启用或禁用定时执行
func (s *ScheduleService) SetActive(id uint, active bool) error {
	sr, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.db.Model(sr).Update("is_active", active).Error; err != nil {
		return err
	}
	sr.IsActive = active

	s.removeJob(id)
	if active {
		return s.addJob(sr)
	}
	return nil
}

// Delete 删除定时执行
func (s *ScheduleService) Delete(id uint) error {
	sr, err := s.Get(id)
	if err != nil {
		return err
	}
	s.removeJob(id)
	return s.db.Delete(sr).Error
}

// Trigger 立即提交一次执行
func (s *ScheduleService) Trigger(ctx context.Context, id uint) (*models.ExecutionRun, error) {
	sr, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, sr)
}

// addJob 添加到调度器
func (s *ScheduleService) addJob(sr *models.ScheduledRun) error {
	if !sr.IsActive {
		return nil
	}

	// 复制必要的值，避免闭包问题
	id := sr.ID
	name := sr.Name

	entryID, err := s.cron.AddFunc(sr.CronExpr, func() {
		s.log.Infof("定时执行触发: [%s] (ID: %d)", name, id)
		s.fire(id)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidCron, err)
	}

	s.mu.Lock()
	s.jobs[id] = entryID
	s.mu.Unlock()

	s.log.Infof("已添加定时执行 [%s] (ID: %d)，cron: %s", name, id, sr.CronExpr)
	return nil
}

// removeJob 从调度器移除
func (s *ScheduleService) removeJob(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, id)
	}
}

// Jobs 已注册的调度数量
func (s *ScheduleService) Jobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *ScheduleService) fire(id uint) {
	sr, err := s.Get(id)
	if err != nil {
		s.log.WithError(err).Errorf("加载定时执行失败 [ID: %d]", id)
		return
	}
	if !sr.IsActive {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.submit(ctx, sr); err != nil {
		s.log.WithError(err).Warnf("定时执行提交失败 [ID: %d]", id)
	}
}

// submit 提交执行并记录定时执行状态；已有执行进行中时本次跳过
func (s *ScheduleService) submit(ctx context.Context, sr *models.ScheduledRun) (*models.ExecutionRun, error) {
	req := RunRequest{Inventory: sr.Inventory}
	if len(sr.Hosts) > 0 {
		if err := json.Unmarshal(sr.Hosts, &req.Hosts); err != nil {
			return nil, fmt.Errorf("解析主机列表失败: %w", err)
		}
	}
	if len(sr.Selection) > 0 {
		if err := json.Unmarshal(sr.Selection, &req.Selection); err != nil {
			return nil, fmt.Errorf("解析选择参数失败: %w", err)
		}
	}

	id := sr.ID
	run, err := s.runs.Submit(ctx, req, models.RunSourceSchedule, &id)

	now := time.Now()
	updates := map[string]interface{}{"last_run_at": now}
	if schedule, perr := cronParser.Parse(sr.CronExpr); perr == nil {
		updates["next_run_at"] = schedule.Next(now)
	}
	switch {
	case err == nil:
		updates["last_status"] = models.ScheduleStatusSubmitted
		updates["last_run_id"] = run.RunID
		updates["run_count"] = gorm.Expr("run_count + 1")
	case errors.Is(err, errors.ErrRunInProgress):
		updates["last_status"] = models.ScheduleStatusSkipped
	default:
		updates["last_status"] = models.ScheduleStatusFailed
	}
	if uerr := s.db.Model(&models.ScheduledRun{}).Where("id = ?", id).Updates(updates).Error; uerr != nil {
		s.log.WithError(uerr).Errorf("更新定时执行状态失败 [ID: %d]", id)
	}
	return run, err
}
