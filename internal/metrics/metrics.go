package metrics

import (
	"askable/internal/reconcile"
	"askable/internal/runner"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 执行相关
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askable_runs_started_total",
		Help: "Total number of security check runs started by mode",
	}, []string{"mode"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askable_runs_finished_total",
		Help: "Total number of runs finished by exit code",
	}, []string{"exit_code"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "askable_run_duration_seconds",
		Help:    "Duration of runner executions",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"mode"})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "askable_runs_in_flight",
		Help: "Number of runs currently executing",
	})

	// 对账相关
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askable_outcomes_total",
		Help: "Total number of reconciled check outcomes by status",
	}, []string{"status"})

	unreachableHosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "askable_unreachable_hosts_total",
		Help: "Total number of target hosts that produced no artifacts",
	})

	recapTotals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askable_recap_tasks_total",
		Help: "Task counters reported by the runner summary",
	}, []string{"result"})

	errorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askable_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type"})
)

// Collector 指标记录
type Collector struct{}

// NewCollector 创建指标记录器
func NewCollector() *Collector {
	return &Collector{}
}

// RunStarted 记录执行开始
func (c *Collector) RunStarted(mode string) {
	runsStarted.WithLabelValues(mode).Inc()
	runsInFlight.Inc()
}

// RunFinished 记录执行结束
func (c *Collector) RunFinished(mode string, exitCode int, seconds float64, recap *runner.Recap) {
	runsInFlight.Dec()
	runsFinished.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	runDuration.WithLabelValues(mode).Observe(seconds)
	if recap == nil {
		return
	}
	t := recap.Total
	for label, n := range map[string]int{
		"ok":          t.Ok,
		"changed":     t.Changed,
		"failed":      t.Failed,
		"unreachable": t.Unreachable,
		"skipped":     t.Skipped,
		"rescued":     t.Rescued,
		"ignored":     t.Ignored,
	} {
		recapTotals.WithLabelValues(label).Add(float64(n))
	}
}

// Reconciled 记录对账结果
func (c *Collector) Reconciled(report *reconcile.Report) {
	if report == nil {
		return
	}
	outcomes.WithLabelValues(string(reconcile.OriginallySafe)).Add(float64(report.Counts.OriginallySafe))
	outcomes.WithLabelValues(string(reconcile.RemediatedSafe)).Add(float64(report.Counts.RemediatedSafe))
	outcomes.WithLabelValues(string(reconcile.AttemptedFailed)).Add(float64(report.Counts.AttemptedFailed))
	outcomes.WithLabelValues(string(reconcile.StillVulnerable)).Add(float64(report.Counts.StillVulnerable))
	unreachableHosts.Add(float64(len(report.UnreachableHosts)))
}

// RecordError 记录错误
func (c *Collector) RecordError(errorType string) {
	errorCounter.WithLabelValues(errorType).Inc()
}

// Handler Prometheus 抓取接口
func Handler() http.Handler {
	return promhttp.Handler()
}
