package playbook

import (
	"askable/internal/inventory"
	"askable/internal/planner"
	"askable/pkg/errors"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultArtifactExt 结果文件扩展名
const DefaultArtifactExt = "json"

// ProbePhaseName 连通性探测阶段名称
const ProbePhaseName = "Connectivity probe"

// Options 合成参数
type Options struct {
	RunID        string
	ArtifactRoot string // 结果文件目录
	TaskDir      string // 检查模块 playbook 所在目录，相对路径按当前目录解析
	ArtifactExt  string
	Become       bool
	GatherFacts  bool
}

// Phase 计划中的一个模块阶段
type Phase struct {
	Module string `json:"module"`
	Code   string `json:"code"`
	// Hosts 执行该阶段的主机；Guarded 为 false 时是全部目标主机
	Hosts            []string `json:"hosts"`
	Guarded          bool     `json:"guarded"`
	ArtifactTemplate string   `json:"artifact_template"`
}

// ExecutionPlan 合成后的执行计划
type ExecutionPlan struct {
	RunID        string       `json:"run_id"`
	Mode         planner.Mode `json:"mode"`
	Targets      []string     `json:"targets"`
	ArtifactRoot string       `json:"artifact_root"`
	ArtifactExt  string       `json:"artifact_ext"`
	Phases       []Phase      `json:"phases"`

	opts Options
}

// ArtifactPath 模块在某台主机上的结果文件路径，只由模块编码和主机名决定
func ArtifactPath(root, moduleCode, host, ext string) string {
	if ext == "" {
		ext = DefaultArtifactExt
	}
	return filepath.Join(root, fmt.Sprintf("%s_%s.%s", moduleCode, host, ext))
}

// Synthesize 根据目标主机和任务计划生成执行计划
//
// 计划总是以非致命的连通性探测开始；之后按任务计划的顺序为每个模块生成一个阶段。
// PerHost 计划中每个阶段带主机成员条件，作用域与目标主机没有交集的模块被丢弃。
// 只有目标主机为空时返回错误。
func Synthesize(targets []string, plan *planner.TaskPlan, opts Options) (*ExecutionPlan, error) {
	if len(targets) == 0 {
		return nil, errors.ErrEmptyTargetGroup
	}
	if opts.ArtifactExt == "" {
		opts.ArtifactExt = DefaultArtifactExt
	}
	// ansible 按 playbook 所在目录解析相对路径，模块目录必须是绝对路径
	if opts.TaskDir != "" && !filepath.IsAbs(opts.TaskDir) {
		abs, err := filepath.Abs(opts.TaskDir)
		if err != nil {
			return nil, fmt.Errorf("解析检查模块目录失败: %w", err)
		}
		opts.TaskDir = abs
	}

	sortedTargets := append([]string(nil), targets...)
	sort.Strings(sortedTargets)

	ep := &ExecutionPlan{
		RunID:        opts.RunID,
		Mode:         planner.ModeUnified,
		Targets:      sortedTargets,
		ArtifactRoot: opts.ArtifactRoot,
		ArtifactExt:  opts.ArtifactExt,
		opts:         opts,
	}
	if plan == nil {
		return ep, nil
	}
	ep.Mode = plan.Mode

	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	for _, m := range plan.Modules {
		phase := Phase{
			Module:           m.ID,
			Code:             m.Code,
			ArtifactTemplate: ArtifactPath(opts.ArtifactRoot, m.Code, "{{ inventory_hostname }}", opts.ArtifactExt),
		}
		if plan.Mode == planner.ModePerHost {
			for _, h := range m.Scope {
				if targetSet[h] {
					phase.Hosts = append(phase.Hosts, h)
				}
			}
			if len(phase.Hosts) == 0 {
				continue
			}
			phase.Guarded = true
		} else {
			phase.Hosts = sortedTargets
		}
		ep.Phases = append(ep.Phases, phase)
	}
	return ep, nil
}

// ExpectedArtifacts 每台目标主机应产生的结果文件
func (p *ExecutionPlan) ExpectedArtifacts() map[string][]string {
	out := make(map[string][]string, len(p.Targets))
	for _, h := range p.Targets {
		out[h] = nil
	}
	for _, phase := range p.Phases {
		for _, h := range phase.Hosts {
			out[h] = append(out[h], ArtifactPath(p.ArtifactRoot, phase.Code, h, p.ArtifactExt))
		}
	}
	return out
}

// ===== YAML 文档 =====

// 检查模块文件本身是完整的 playbook，通过 import_playbook 引入，
// 结果文件路径以 result_json_path 变量传入
type play struct {
	Name              string                 `yaml:"name"`
	Hosts             string                 `yaml:"hosts"`
	Become            bool                   `yaml:"become"`
	GatherFacts       bool                   `yaml:"gather_facts"`
	IgnoreErrors      bool                   `yaml:"ignore_errors"`
	IgnoreUnreachable bool                   `yaml:"ignore_unreachable"`
	AnyErrorsFatal    bool                   `yaml:"any_errors_fatal"`
	Vars              map[string]interface{} `yaml:"vars,omitempty"`
	Tasks             []task                 `yaml:"tasks"`
}

type task struct {
	Name string    `yaml:"name"`
	Ping *struct{} `yaml:"ansible.builtin.ping,omitempty"`
}

type importEntry struct {
	Name           string                 `yaml:"name"`
	ImportPlaybook string                 `yaml:"ansible.builtin.import_playbook"`
	When           string                 `yaml:"when,omitempty"`
	Vars           map[string]interface{} `yaml:"vars"`
}

// Render 输出 ansible-playbook 可执行的 YAML 文档
func (p *ExecutionPlan) Render() ([]byte, error) {
	entries := []interface{}{p.probePlay()}
	for _, phase := range p.Phases {
		entries = append(entries, p.moduleImport(phase))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("生成playbook失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("生成playbook失败: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile 渲染并写入文件
func (p *ExecutionPlan) WriteFile(path string) error {
	data, err := p.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建playbook目录失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入playbook失败: %w", err)
	}
	return nil
}

// probePlay 连通性探测，同时收集后续模块使用的 facts
func (p *ExecutionPlan) probePlay() play {
	return play{
		Name:              ProbePhaseName,
		Hosts:             inventory.TargetGroup,
		Become:            p.opts.Become,
		GatherFacts:       p.opts.GatherFacts,
		IgnoreErrors:      true,
		IgnoreUnreachable: true,
		AnyErrorsFatal:    false,
		Vars: map[string]interface{}{
			"result_directory":    p.ArtifactRoot,
			"execution_timestamp": p.RunID,
		},
		Tasks: []task{
			{Name: "Probe host connectivity", Ping: &struct{}{}},
		},
	}
}

func (p *ExecutionPlan) moduleImport(phase Phase) importEntry {
	entry := importEntry{
		Name:           phase.Code,
		ImportPlaybook: filepath.Join(p.opts.TaskDir, phase.Module),
		Vars: map[string]interface{}{
			"result_json_path":    phase.ArtifactTemplate,
			"result_directory":    p.ArtifactRoot,
			"execution_timestamp": p.RunID,
		},
	}
	if phase.Guarded {
		entry.When = hostGuard(phase.Hosts)
	}
	return entry
}

// hostGuard 生成 when 条件，主机名以 JSON 字符串字面量写入
func hostGuard(hosts []string) string {
	list, _ := json.Marshal(hosts)
	return "inventory_hostname in " + string(list)
}
