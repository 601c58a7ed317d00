package services

import (
	"askable/internal/metrics"
	"askable/internal/models"
	"askable/internal/reconcile"
	"askable/internal/runner"
	"askable/pkg/errors"
	"askable/pkg/queue"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunQueue 执行消费者使用的队列操作
type RunQueue interface {
	Enqueuer
	runner.Publisher
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.RunMessage, error)
	UpdateRunStatus(ctx context.Context, runID, status string) error
	SetRunResult(ctx context.Context, runID string, exitCode int, errorMsg string) error
}

const logBatchSize = 50

// RunWorker 从队列取出执行并调用执行器，同一时间只执行一个
type RunWorker struct {
	db       *gorm.DB
	queue    RunQueue
	pipeline *Pipeline
	invoker  *runner.Invoker
	metrics  *metrics.Collector
	log      *logrus.Logger

	dequeueTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunWorker 创建执行消费者
func NewRunWorker(db *gorm.DB, q RunQueue, pipeline *Pipeline, collector *metrics.Collector, log *logrus.Logger) *RunWorker {
	return &RunWorker{
		db:             db,
		queue:          q,
		pipeline:       pipeline,
		invoker:        pipeline.NewInvoker(runner.NewRealtimeLogger(q)),
		metrics:        collector,
		log:            log,
		dequeueTimeout: 5 * time.Second,
	}
}

// Start 启动消费者
func (w *RunWorker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.consume()
	w.log.Info("执行消费者启动")
}

// Stop 停止消费者，正在进行的执行会被取消
func (w *RunWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.log.Info("执行消费者已停止")
}

func (w *RunWorker) consume() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		msg, err := w.queue.Dequeue(w.ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || w.ctx.Err() != nil {
				continue
			}
			w.log.WithError(err).Error("获取执行消息失败")
			w.metrics.RecordError("dequeue")
			time.Sleep(time.Second)
			continue
		}

		if err := w.Process(w.ctx, msg.RunID); err != nil {
			w.log.WithError(err).WithField("run_id", msg.RunID).Error("处理执行失败")
		}
	}
}

// Process 执行一次已入队的运行并保存结果
func (w *RunWorker) Process(ctx context.Context, runID string) error {
	log := w.log.WithField("run_id", runID)

	var run models.ExecutionRun
	if err := w.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		return fmt.Errorf("执行记录不存在: %w", err)
	}
	if run.Status != models.RunStatusQueued {
		log.Warnf("执行状态为 %s，跳过", run.Status)
		return nil
	}

	pr, err := restore(&run)
	if err != nil {
		w.fail(ctx, &run, err)
		return err
	}

	// 启动失败时由 complete 改回 false；服务中途退出时保留为 true
	startedAt := time.Now()
	if err := w.db.Model(&run).Updates(map[string]interface{}{
		"status":     models.RunStatusRunning,
		"launched":   true,
		"started_at": startedAt,
	}).Error; err != nil {
		return fmt.Errorf("更新执行状态失败: %w", err)
	}
	if err := w.queue.UpdateRunStatus(ctx, runID, queue.StatusRunning); err != nil {
		log.WithError(err).Warn("更新队列状态失败")
	}

	w.metrics.RunStarted(run.Mode)
	log.Info("开始执行")

	logs := newLogWriter(w.db, runID, log)
	result, report, err := w.pipeline.Execute(ctx, w.invoker, pr, logs.onEvent)
	logs.flush()
	if err != nil {
		w.metrics.RunFinished(run.Mode, -1, time.Since(startedAt).Seconds(), nil)
		w.fail(ctx, &run, err)
		return err
	}

	w.metrics.RunFinished(run.Mode, result.ExitCode, time.Since(startedAt).Seconds(), result.Recap)
	w.metrics.Reconciled(report)

	if err := w.complete(ctx, &run, result, report); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"exit_code":   result.ExitCode,
		"status":      report.Status,
		"unreachable": len(report.UnreachableHosts),
		"vulnerable":  report.VulnerableHosts,
	}).Info("执行结束")
	return nil
}

// complete 保存退出码、汇总和对账摘要
func (w *RunWorker) complete(ctx context.Context, run *models.ExecutionRun, result runner.Result, report *reconcile.Report) error {
	launched := !errors.Is(result.Err, errors.ErrRunnerLaunch)
	status := models.RunStatusCompleted
	if !launched {
		status = models.RunStatusFailed
	}

	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	updates := map[string]interface{}{
		"status":            status,
		"launched":          launched,
		"exit_code":         result.ExitCode,
		"error":             errMsg,
		"history_status":    string(report.Status),
		"unreachable_count": len(report.UnreachableHosts),
		"vulnerable_hosts":  report.VulnerableHosts,
		"improvement_rate":  report.ImprovementRate,
		"finished_at":       time.Now(),
	}
	if result.Recap != nil {
		if data, err := json.Marshal(result.Recap); err == nil {
			updates["recap"] = datatypes.JSON(data)
		}
	}
	if err := w.db.Model(run).Updates(updates).Error; err != nil {
		return fmt.Errorf("保存执行结果失败: %w", err)
	}

	if err := w.queue.SetRunResult(ctx, run.RunID, result.ExitCode, errMsg); err != nil {
		w.log.WithError(err).WithField("run_id", run.RunID).Warn("保存队列结果失败")
	}
	return nil
}

func (w *RunWorker) fail(ctx context.Context, run *models.ExecutionRun, cause error) {
	w.metrics.RecordError("run")
	w.db.Model(run).Updates(map[string]interface{}{
		"status":         models.RunStatusFailed,
		"error":          cause.Error(),
		"history_status": string(reconcile.NeverExecuted),
		"finished_at":    time.Now(),
	})
	w.queue.SetRunResult(ctx, run.RunID, -1, cause.Error())
}

// logWriter 批量写入执行输出
type logWriter struct {
	db    *gorm.DB
	runID string
	log   *logrus.Entry
	seq   int
	batch []models.RunLog
}

func newLogWriter(db *gorm.DB, runID string, log *logrus.Entry) *logWriter {
	return &logWriter{db: db, runID: runID, log: log, batch: make([]models.RunLog, 0, logBatchSize)}
}

func (lw *logWriter) onEvent(ev runner.Event) {
	switch ev.Type {
	case runner.EventOutput:
		lw.add(runner.ClassifyLine(ev.Line), runner.HostOf(ev.Line), ev.Line, ev.Time)
	case runner.EventError:
		lw.add("error", "", ev.Message, ev.Time)
	}
	if len(lw.batch) >= logBatchSize {
		lw.flush()
	}
}

func (lw *logWriter) add(level, host, message string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	lw.seq++
	lw.batch = append(lw.batch, models.RunLog{
		RunID:     lw.runID,
		Seq:       lw.seq,
		Timestamp: ts,
		Level:     level,
		HostName:  host,
		Message:   message,
	})
}

func (lw *logWriter) flush() {
	if len(lw.batch) == 0 {
		return
	}
	if err := lw.db.Create(&lw.batch).Error; err != nil {
		lw.log.WithError(err).Error("保存执行日志失败")
	}
	lw.batch = lw.batch[:0]
}
