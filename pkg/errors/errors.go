package errors

import (
	stderrors "errors"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// ========== 领域错误 ==========

var (
	// ErrMalformedInventory 清单中没有任何主机
	ErrMalformedInventory = stderrors.New("malformed inventory: no hosts found")
	// ErrEmptyTargetGroup 执行前目标主机为空
	ErrEmptyTargetGroup = stderrors.New("empty target group")
	// ErrRunnerLaunch 执行器进程无法启动
	ErrRunnerLaunch = stderrors.New("runner launch failure")
	// ErrRunnerNonZeroExit 执行器进程以非零状态退出
	ErrRunnerNonZeroExit = stderrors.New("runner exited with non-zero status")
	// ErrMissingArtifact 结果文件不存在
	ErrMissingArtifact = stderrors.New("missing artifact")
	// ErrMalformedRecapLine PLAY RECAP 行无法解析
	ErrMalformedRecapLine = stderrors.New("malformed recap line")
	// ErrEmptyPlan 选择没有对应任何检查模块
	ErrEmptyPlan = stderrors.New("selection reaches no check module")
	// ErrRunInProgress 已有执行中的任务
	ErrRunInProgress = stderrors.New("a run is already in progress")
	// ErrRunNotFound 执行记录不存在
	ErrRunNotFound = stderrors.New("run not found")
	// ErrScheduleNotFound 定时执行不存在
	ErrScheduleNotFound = stderrors.New("schedule not found")
	// ErrInvalidCron cron 表达式无效
	ErrInvalidCron = stderrors.New("invalid cron expression")
)

// Is 转发到标准库，避免调用方同时引入两个 errors 包
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// CodeOf 将领域错误映射为接口错误码
func CodeOf(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case Is(err, ErrMalformedInventory), Is(err, ErrEmptyTargetGroup), Is(err, ErrEmptyPlan), Is(err, ErrInvalidCron):
		return CodeInvalidParam
	case Is(err, ErrRunNotFound), Is(err, ErrScheduleNotFound):
		return CodeNotFound
	case Is(err, ErrRunInProgress):
		return CodeConflict
	default:
		return CodeServerError
	}
}
