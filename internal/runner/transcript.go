package runner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const transcriptRule = "=================================================="

// Transcript 执行日志文件，每行带时间前缀
type Transcript struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	now    func() time.Time
	closed bool
}

// OpenTranscript 创建执行日志文件
func OpenTranscript(path string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建执行日志失败: %w", err)
	}
	return &Transcript{path: path, file: f, w: bufio.NewWriter(f), now: time.Now}, nil
}

// Path 日志文件路径
func (t *Transcript) Path() string {
	return t.path
}

// Header 写入日志头
func (t *Transcript) Header(job Job, command []string) {
	t.raw(
		fmt.Sprintf("=== Ansible Playbook execution log (run: %s) ===", job.RunID),
		"Started: "+t.now().Format("2006-01-02 15:04:05"),
		"Command: "+strings.Join(command, " "),
		"Playbook: "+job.PlaybookPath,
		"Inventory: "+job.InventoryPath,
		"Target group: "+job.limit(),
		"Results: "+job.ResultDir,
		transcriptRule,
		"",
	)
}

// Line 写入一行输出
func (t *Transcript) Line(line string) {
	t.raw(t.stamp() + " " + line)
}

// Error 写入错误行
func (t *Transcript) Error(msg string) {
	t.raw("", t.stamp()+" ERROR: "+msg)
}

// Footer 写入结束信息
func (t *Transcript) Footer(runID string, exitCode int) {
	t.raw(
		"",
		transcriptRule,
		fmt.Sprintf("%s Finished - exit code: %d (run: %s)", t.stamp(), exitCode, runID),
		"Ended: "+t.now().Format("2006-01-02 15:04:05"),
	)
}

// Close 刷新缓冲并关闭文件，可重复调用
func (t *Transcript) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	flushErr := t.w.Flush()
	closeErr := t.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (t *Transcript) stamp() string {
	return "[" + t.now().Format("15:04:05") + "]"
}

func (t *Transcript) raw(lines ...string) {
	if t.closed {
		return
	}
	for _, l := range lines {
		t.w.WriteString(l)
		t.w.WriteByte('\n')
	}
	// 每次写入后立即刷新到文件
	t.w.Flush()
}
