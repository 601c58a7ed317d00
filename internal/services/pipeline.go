package services

import (
	"askable/internal/catalog"
	"askable/internal/inventory"
	"askable/internal/planner"
	"askable/internal/playbook"
	"askable/internal/reconcile"
	"askable/internal/runner"
	"askable/pkg/config"
	"askable/pkg/errors"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RunRequest 发起执行的请求
type RunRequest struct {
	Inventory string            `json:"inventory" binding:"required"`
	Hosts     []string          `json:"hosts"`
	Selection planner.Selection `json:"selection"`
}

// PreparedRun 已写入磁盘、可以交给执行器的执行
type PreparedRun struct {
	RunID     string
	Inventory *inventory.Inventory
	Targets   []string
	Plan      *planner.TaskPlan
	Execution *playbook.ExecutionPlan
	Workspace *playbook.Workspace
}

// Job 执行器输入
func (pr *PreparedRun) Job() runner.Job {
	return runner.Job{
		RunID:          pr.RunID,
		PlaybookPath:   pr.Workspace.PlaybookPath,
		InventoryPath:  pr.Workspace.InventoryPath,
		TranscriptPath: pr.Workspace.TranscriptPath,
		ResultDir:      pr.Workspace.ResultDir,
	}
}

// Pipeline 编译、合成、执行、对账，不依赖数据库和队列
type Pipeline struct {
	catalog *catalog.Catalog
	cfg     config.RunnerConfig
	ids     *playbook.RunIDGenerator
	log     *logrus.Logger
}

// NewPipeline 创建执行流水线
func NewPipeline(cat *catalog.Catalog, cfg config.RunnerConfig, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		catalog: cat,
		cfg:     cfg,
		ids:     playbook.NewRunIDGenerator(),
		log:     log,
	}
}

// Catalog 检查项目录
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Prepare 解析清单、编译选择、确定目标主机，写入清单和 playbook
//
// 目标主机为空或选择没有对应任何模块时，在启动执行器之前返回错误。
func (p *Pipeline) Prepare(req RunRequest) (*PreparedRun, error) {
	inv, err := inventory.Parse(req.Inventory)
	if err != nil {
		return nil, err
	}
	if err := req.Selection.Validate(); err != nil {
		return nil, fmt.Errorf("选择参数错误: %w", err)
	}

	plan := planner.Compile(req.Selection, p.catalog)
	if plan.Empty() {
		return nil, errors.ErrEmptyPlan
	}

	targets, err := resolveTargets(inv, req, plan)
	if err != nil {
		return nil, err
	}

	taskDir, err := p.taskDir()
	if err != nil {
		return nil, err
	}

	runID := p.ids.Next()
	ws, err := playbook.NewWorkspace(p.cfg.PlaybookDir, p.cfg.LogDir, runID)
	if err != nil {
		return nil, err
	}

	ep, err := playbook.Synthesize(targets, plan, playbook.Options{
		RunID:        runID,
		ArtifactRoot: ws.ResultDir,
		TaskDir:      taskDir,
		Become:       true,
		GatherFacts:  !p.cfg.SkipFacts,
	})
	if err != nil {
		return nil, err
	}
	if len(ep.Phases) == 0 {
		return nil, errors.ErrEmptyPlan
	}

	if err := ws.Prepare(); err != nil {
		return nil, err
	}
	if err := inventory.WriteFile(ws.InventoryPath, inv, targets); err != nil {
		return nil, err
	}
	if err := ep.WriteFile(ws.PlaybookPath); err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"mode":    plan.Mode,
		"targets": len(targets),
		"modules": len(plan.Modules),
		"phases":  len(ep.Phases),
	}).Info("执行计划已生成")

	return &PreparedRun{
		RunID:     runID,
		Inventory: inv,
		Targets:   targets,
		Plan:      plan,
		Execution: ep,
		Workspace: ws,
	}, nil
}

// taskDir 检查模块目录的绝对路径，相对路径按执行器工作目录解析
func (p *Pipeline) taskDir() (string, error) {
	dir := p.cfg.TaskDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.cfg.WorkDir, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("解析检查模块目录失败: %w", err)
	}
	return abs, nil
}

// resolveTargets Unified 模式使用请求中的主机（为空时为全部主机）；
// PerHost 模式使用至少请求了一个模块的主机，请求中指定主机时再取交集
func resolveTargets(inv *inventory.Inventory, req RunRequest, plan *planner.TaskPlan) ([]string, error) {
	names := trimNames(req.Hosts)
	if plan.Mode == planner.ModePerHost {
		scoped := plan.ScopedHosts()
		if len(names) > 0 {
			scoped = intersect(scoped, names)
		}
		if len(scoped) == 0 {
			return nil, errors.ErrEmptyTargetGroup
		}
		names = scoped
	}

	hosts, err := inv.Select(names)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Name)
	}
	return out, nil
}

// NewInvoker 按配置创建执行器
func (p *Pipeline) NewInvoker(sinks ...runner.LineSink) *runner.Invoker {
	return runner.NewInvoker(runner.Config{
		Binary:     p.cfg.Binary,
		WorkDir:    p.cfg.WorkDir,
		Verbosity:  p.cfg.Verbosity,
		Forks:      p.cfg.Forks,
		RunTimeout: p.cfg.RunTimeout,
	}, p.log, sinks...)
}

// Execute 启动执行器并以有界超时轮询输出，结束后对账
func (p *Pipeline) Execute(ctx context.Context, inv *runner.Invoker, pr *PreparedRun, onEvent func(runner.Event)) (runner.Result, *reconcile.Report, error) {
	h, err := inv.Start(ctx, pr.Job())
	if err != nil {
		return runner.Result{}, nil, err
	}

	poll := p.cfg.PollTimeout
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			h.Cancel()
		default:
		}

		ev, ok := h.Poll(poll)
		if !ok {
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Type == runner.EventFinished {
			break
		}
	}

	result := h.Result()
	in := reconcile.InputFromPlan(pr.Execution, pr.Workspace.TranscriptPath, result.Recap)
	in.NotLaunched = errors.Is(result.Err, errors.ErrRunnerLaunch)
	return result, reconcile.Reconcile(in), nil
}

func trimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func intersect(sorted []string, names []string) []string {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]string, 0, len(sorted))
	for _, n := range sorted {
		if wanted[n] {
			out = append(out, n)
		}
	}
	return out
}
