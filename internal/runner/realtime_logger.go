package runner

import (
	"context"
	"encoding/json"
	"regexp"
	"time"
)

// LogMessage 推送给前端的实时日志消息
type LogMessage struct {
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	HostName  string `json:"host_name"`
}

// Publisher 实时日志通道
type Publisher interface {
	PublishRunLog(ctx context.Context, runID string, payload []byte) error
}

// RealtimeLogger 把执行输出发布到实时日志通道（WebSocket 订阅）
type RealtimeLogger struct {
	pub     Publisher
	timeout time.Duration
}

// NewRealtimeLogger 创建实时日志记录器，pub 为空时不发布
func NewRealtimeLogger(pub Publisher) *RealtimeLogger {
	return &RealtimeLogger{pub: pub, timeout: 100 * time.Millisecond}
}

var hostInBrackets = regexp.MustCompile(`\[([^\]\s]+)\]`)

// Line 实现 LineSink
func (rl *RealtimeLogger) Line(runID, line string) {
	if rl.pub == nil || runID == "" || line == "" {
		return
	}
	msg := LogMessage{
		RunID:     runID,
		Timestamp: time.Now().Unix(),
		Level:     ClassifyLine(line),
		Message:   line,
		HostName:  HostOf(line),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// 较短的超时，避免阻塞执行输出
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()
	rl.pub.PublishRunLog(ctx, runID, data)
}

// ClassifyLine 根据内容判断日志级别
func ClassifyLine(line string) string {
	switch {
	case containsAny(line, []string{"TASK", "PLAY"}):
		return "info"
	case containsAny(line, []string{"ok:", "changed:"}):
		return "success"
	case containsAny(line, []string{"failed:", "fatal:", "FAILED", "UNREACHABLE"}):
		return "error"
	}
	return "output"
}

// HostOf 提取 "ok: [web1]" 形式中的主机名
func HostOf(line string) string {
	if !containsAny(line, []string{"ok:", "changed:", "failed:", "fatal:", "skipping:", "included:"}) {
		return ""
	}
	if m := hostInBrackets.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}
