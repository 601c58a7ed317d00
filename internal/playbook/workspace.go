package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunIDLayout 执行标识的时间格式
const RunIDLayout = "20060102_150405"

// RunIDGenerator 生成单调递增的执行标识
type RunIDGenerator struct {
	mu   sync.Mutex
	last string
	seq  int
	now  func() time.Time
}

// NewRunIDGenerator 创建执行标识生成器
func NewRunIDGenerator() *RunIDGenerator {
	return &RunIDGenerator{now: time.Now}
}

// Next 返回下一个执行标识；同一秒内的后续标识追加 _NNN 后缀，保证按字典序递增
func (g *RunIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	base := g.now().Format(RunIDLayout)
	if len(g.last) >= len(RunIDLayout) && base <= g.last[:len(RunIDLayout)] {
		// 时钟未前进或回拨时沿用上一个时间戳
		base = g.last[:len(RunIDLayout)]
		g.seq++
		g.last = fmt.Sprintf("%s_%03d", base, g.seq)
		return g.last
	}
	g.seq = 0
	g.last = base
	return g.last
}

// Workspace 单次执行的文件布局
type Workspace struct {
	RunID          string `json:"run_id"`
	Dir            string `json:"dir"`
	InventoryPath  string `json:"inventory_path"`
	PlaybookPath   string `json:"playbook_path"`
	ResultDir      string `json:"result_dir"`
	TranscriptPath string `json:"transcript_path"`
}

// NewWorkspace 计算执行目录结构，路径均为绝对路径
func NewWorkspace(playbookDir, logDir, runID string) (*Workspace, error) {
	pbDir, err := filepath.Abs(playbookDir)
	if err != nil {
		return nil, fmt.Errorf("解析playbook目录失败: %w", err)
	}
	lgDir, err := filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("解析日志目录失败: %w", err)
	}

	dir := filepath.Join(pbDir, "playbook_result_"+runID)
	return &Workspace{
		RunID:          runID,
		Dir:            dir,
		InventoryPath:  filepath.Join(dir, "inventory_"+runID+".ini"),
		PlaybookPath:   filepath.Join(dir, "security_check_"+runID+".yml"),
		ResultDir:      filepath.Join(dir, "results"),
		TranscriptPath: filepath.Join(lgDir, "ansible_execute_log_"+runID+".log"),
	}, nil
}

// Prepare 创建执行目录、结果目录和日志目录
func (w *Workspace) Prepare() error {
	for _, dir := range []string{w.Dir, w.ResultDir, filepath.Dir(w.TranscriptPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}
