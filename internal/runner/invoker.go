package runner

import (
	"askable/internal/inventory"
	"askable/pkg/errors"
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType 输出通道事件类型
type EventType string

const (
	EventOutput   EventType = "output"
	EventFinished EventType = "finished"
	EventError    EventType = "error"
)

// Event 执行过程中的一条事件
type Event struct {
	Type     EventType `json:"type"`
	Line     string    `json:"line,omitempty"`
	ExitCode int       `json:"exit_code"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// State 执行器状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// Job 一次执行的输入
type Job struct {
	RunID          string
	PlaybookPath   string
	InventoryPath  string
	TranscriptPath string
	ResultDir      string
	// Limit 限定执行的主机组，默认 target_servers
	Limit string
}

func (j Job) limit() string {
	if j.Limit == "" {
		return inventory.TargetGroup
	}
	return j.Limit
}

// LineSink 接收每一行输出，例如实时日志发布、日志入库
type LineSink interface {
	Line(runID, line string)
}

// Config 执行器配置
type Config struct {
	Binary     string
	WorkDir    string
	Verbosity  int
	Forks      int
	RunTimeout time.Duration
	BufferSize int
	Env        []string
}

// Result 执行结果，Finished 事件之后可用
type Result struct {
	RunID    string `json:"run_id"`
	ExitCode int    `json:"exit_code"`
	Recap    *Recap `json:"recap"`
	Err      error  `json:"-"`
}

// Invoker 以后台任务方式运行 ansible-playbook
//
// 同一时间只允许一个执行：Idle -> Running -> Finished。
// 调用方观察到上一个 Handle 的 Finished 事件之前，Start 返回 ErrRunInProgress。
type Invoker struct {
	cfg   Config
	log   *logrus.Logger
	sinks []LineSink

	mu      sync.Mutex
	state   State
	current *Handle
}

// NewInvoker 创建执行器
func NewInvoker(cfg Config, log *logrus.Logger, sinks ...LineSink) *Invoker {
	if cfg.Binary == "" {
		cfg.Binary = "ansible-playbook"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Invoker{cfg: cfg, log: log, sinks: sinks}
}

// State 当前状态
func (inv *Invoker) State() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Command 组装执行命令
func (inv *Invoker) Command(job Job) []string {
	args := []string{inv.cfg.Binary, "-i", job.InventoryPath, job.PlaybookPath, "--limit", job.limit()}
	if inv.cfg.Forks > 0 {
		args = append(args, "--forks", strconv.Itoa(inv.cfg.Forks))
	}
	if inv.cfg.Verbosity > 0 {
		args = append(args, "-"+strings.Repeat("v", inv.cfg.Verbosity))
	}
	return args
}

// Start 启动执行并立即返回；输出通过 Handle 的事件通道获取
func (inv *Invoker) Start(ctx context.Context, job Job) (*Handle, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state == StateRunning {
		return nil, errors.ErrRunInProgress
	}

	transcript, err := OpenTranscript(job.TranscriptPath)
	if err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	if inv.cfg.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	h := &Handle{
		RunID:  job.RunID,
		events: make(chan Event, inv.cfg.BufferSize),
		done:   make(chan struct{}),
		cancel: cancel,
		inv:    inv,
	}
	inv.state = StateRunning
	inv.current = h

	go inv.run(ctx, job, h, transcript)
	return h, nil
}

// observed Handle 的 Finished 事件已被调用方读取
func (inv *Invoker) observed(h *Handle) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.current == h {
		inv.state = StateFinished
	}
}

func (inv *Invoker) run(ctx context.Context, job Job, h *Handle, tr *Transcript) {
	log := inv.log.WithField("run_id", job.RunID)
	command := inv.Command(job)

	defer h.cancel()
	defer close(h.events)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("执行器内部错误: %v", r)
			log.Error(msg)
			tr.Error(msg)
			h.emit(Event{Type: EventError, Message: msg})
			inv.finish(h, tr, -1, fmt.Errorf("%s", msg), EmptyRecap())
		}
	}()

	tr.Header(job, command)
	log.WithField("command", strings.Join(command, " ")).Info("开始执行playbook")

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = inv.cfg.WorkDir
	cmd.Env = append(os.Environ(), "ANSIBLE_HOST_KEY_CHECKING=False", "ANSIBLE_NOCOLOR=1", "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, inv.cfg.Env...)

	// stdout 与 stderr 共用同一个管道，保持输出顺序
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		inv.launchFailed(h, tr, log, err)
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		inv.launchFailed(h, tr, log, err)
		return
	}

	parser := NewRecapParser()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		tr.Line(line)
		parser.Feed(line)
		for _, sink := range inv.sinks {
			sink.Line(job.RunID, line)
		}
		h.emit(Event{Type: EventOutput, Line: line})
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	exitCode := exitCodeOf(waitErr)

	if scanErr != nil {
		msg := fmt.Sprintf("读取执行输出失败: %v", scanErr)
		tr.Error(msg)
		h.emit(Event{Type: EventError, Message: msg})
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		msg := fmt.Sprintf("执行被中止: %v", ctxErr)
		tr.Error(msg)
		h.emit(Event{Type: EventError, Message: msg})
	}

	var resultErr error
	if exitCode != 0 {
		resultErr = fmt.Errorf("%w: exit code %d", errors.ErrRunnerNonZeroExit, exitCode)
	}

	recap := parser.Recap()
	log.WithFields(logrus.Fields{
		"exit_code": exitCode,
		"hosts":     len(recap.Hosts),
		"failed":    recap.Total.Failed,
	}).Info("playbook执行结束")

	tr.Footer(job.RunID, exitCode)
	inv.finish(h, tr, exitCode, resultErr, recap)
}

func (inv *Invoker) launchFailed(h *Handle, tr *Transcript, log *logrus.Entry, err error) {
	msg := fmt.Sprintf("启动执行器失败: %v", err)
	log.Error(msg)
	tr.Error(msg)
	h.emit(Event{Type: EventError, Message: msg})
	inv.finish(h, tr, -1, fmt.Errorf("%w: %v", errors.ErrRunnerLaunch, err), nil)
}

// finish 关闭日志文件后发送 Finished 事件，Finished 总是最后一个事件
func (inv *Invoker) finish(h *Handle, tr *Transcript, exitCode int, err error, recap *Recap) {
	if closeErr := tr.Close(); closeErr != nil {
		inv.log.WithError(closeErr).WithField("run_id", h.RunID).Warn("关闭执行日志失败")
	}
	h.complete(Result{RunID: h.RunID, ExitCode: exitCode, Recap: recap, Err: err})
	h.emit(Event{Type: EventFinished, ExitCode: exitCode})
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Handle 单次执行的句柄
type Handle struct {
	RunID string

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	inv    *Invoker

	mu       sync.Mutex
	result   Result
	finished bool
	seen     bool
}

func (h *Handle) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.events <- ev
}

func (h *Handle) complete(r Result) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.result = r
	h.mu.Unlock()
	close(h.done)
}

// Poll 在超时时间内等待下一条事件；超时或通道关闭时 ok 为 false
func (h *Handle) Poll(timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-h.events:
		if !ok {
			return Event{}, false
		}
		if ev.Type == EventFinished {
			h.markSeen()
		}
		return ev, true
	case <-timer.C:
		return Event{}, false
	}
}

// Wait 读取剩余事件直到 Finished，onEvent 可为空
func (h *Handle) Wait(ctx context.Context, onEvent func(Event)) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case ev, ok := <-h.events:
			if !ok {
				return h.Result(), nil
			}
			if onEvent != nil {
				onEvent(ev)
			}
			if ev.Type == EventFinished {
				h.markSeen()
				return h.Result(), nil
			}
		}
	}
}

func (h *Handle) markSeen() {
	h.mu.Lock()
	already := h.seen
	h.seen = true
	h.mu.Unlock()
	if !already {
		h.inv.observed(h)
	}
}

// Done 后台任务结束时关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Finished 调用方是否已经读到 Finished 事件
func (h *Handle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen
}

// Result 执行结果；后台任务结束前返回零值
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Cancel 终止执行中的进程
func (h *Handle) Cancel() {
	h.cancel()
}
