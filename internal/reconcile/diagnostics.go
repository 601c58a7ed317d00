package reconcile

import (
	"bufio"
	"os"
	"strings"
)

const maxErrorLines = 10

// Diagnostics 没有任何结果文件时从执行日志中提取的线索
type Diagnostics struct {
	TranscriptPath string   `json:"transcript_path"`
	HasTranscript  bool     `json:"has_transcript"`
	ErrorLines     []string `json:"error_lines"`
	FailedSummary  []string `json:"failed_summary"`
	Size           int64    `json:"size"`
}

var errorKeywords = []string{"error", "failed", "fatal", "unreachable"}

// Diagnose 读取执行日志，收集 PLAY RECAP 之前的最后几条错误行和汇总中的失败行
func Diagnose(path string) *Diagnostics {
	d := &Diagnostics{TranscriptPath: path, ErrorLines: []string{}, FailedSummary: []string{}}

	f, err := os.Open(path)
	if err != nil {
		return d
	}
	defer f.Close()
	d.HasTranscript = true
	if info, err := f.Stat(); err == nil {
		d.Size = info.Size()
	}

	recapStarted := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		if strings.Contains(lower, "play recap") {
			recapStarted = true
			continue
		}
		if !containsAny(lower, errorKeywords) {
			continue
		}
		if recapStarted {
			if strings.Contains(lower, "failed=") {
				d.FailedSummary = append(d.FailedSummary, line)
			}
			continue
		}
		d.ErrorLines = append(d.ErrorLines, line)
	}

	if len(d.ErrorLines) > maxErrorLines {
		d.ErrorLines = d.ErrorLines[len(d.ErrorLines)-maxErrorLines:]
	}
	return d
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
