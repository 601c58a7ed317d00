package reconcile

import (
	"askable/internal/playbook"
	"askable/internal/runner"
	"askable/pkg/errors"
	"os"
	"sort"
	"time"
)

// Status 安全状态
type Status string

const (
	OriginallySafe  Status = "originally_safe"
	RemediatedSafe  Status = "remediated_safe"
	AttemptedFailed Status = "attempted_failed"
	StillVulnerable Status = "still_vulnerable"
)

// Classify 把一条结果归入四种状态之一；失败状态同时返回失败子类型
func Classify(o Outcome, vocab Vocabulary) (Status, Family) {
	applied := bool(o.RemediationApplied)
	if !bool(o.IsVulnerable) && !applied {
		return OriginallySafe, FamilyNone
	}
	if applied {
		family := vocab.Match(string(o.RemediationResult))
		switch {
		case family == FamilySuccess:
			return RemediatedSafe, FamilyNone
		case family.IsFailure():
			return AttemptedFailed, family
		}
	}
	return StillVulnerable, FamilyNone
}

// HistoryStatus 执行记录状态
type HistoryStatus string

const (
	NeverExecuted   HistoryStatus = "never_executed"
	ExecutedPartial HistoryStatus = "executed_partial"
	Completed       HistoryStatus = "completed"
)

// Counts 各状态计数
type Counts struct {
	OriginallySafe  int `json:"originally_safe"`
	RemediatedSafe  int `json:"remediated_safe"`
	AttemptedFailed int `json:"attempted_failed"`
	StillVulnerable int `json:"still_vulnerable"`
	Total           int `json:"total"`

	// 按失败子类型细分 AttemptedFailed
	Failed  int `json:"failed"`
	Ignored int `json:"ignored"`
	Skipped int `json:"skipped"`

	RemediationAttempted int `json:"remediation_attempted"`
}

func (c *Counts) add(status Status, family Family, attempted bool) {
	c.Total++
	if attempted {
		c.RemediationAttempted++
	}
	switch status {
	case OriginallySafe:
		c.OriginallySafe++
	case RemediatedSafe:
		c.RemediatedSafe++
	case AttemptedFailed:
		c.AttemptedFailed++
		switch family {
		case FamilyIgnored:
			c.Ignored++
		case FamilySkipped:
			c.Skipped++
		default:
			c.Failed++
		}
	case StillVulnerable:
		c.StillVulnerable++
	}
}

// ImprovementRate 调整成功率，没有调整记录时为 0
func (c Counts) ImprovementRate() float64 {
	if c.RemediationAttempted == 0 {
		return 0
	}
	return float64(c.RemediatedSafe) / float64(c.RemediationAttempted)
}

// Vulnerable 仍有未解决问题
func (c Counts) Vulnerable() bool {
	return c.StillVulnerable+c.AttemptedFailed > 0
}

// ClassifiedOutcome 带状态的结果
type ClassifiedOutcome struct {
	Outcome
	Status  Status `json:"status"`
	Failure Family `json:"failure,omitempty"`
}

// HostReport 单台主机的汇总
type HostReport struct {
	Host       string              `json:"host"`
	Counts     Counts              `json:"counts"`
	Vulnerable bool                `json:"vulnerable"`
	Outcomes   []ClassifiedOutcome `json:"outcomes"`
	Recap      *runner.HostRecap   `json:"recap,omitempty"`
}

// Report 一次执行的汇总报告
type Report struct {
	RunID       string        `json:"run_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Status      HistoryStatus `json:"status"`

	Hosts           []HostReport `json:"hosts"`
	Counts          Counts       `json:"counts"`
	ImprovementRate float64      `json:"improvement_rate"`
	VulnerableHosts int          `json:"vulnerable_hosts"`
	SafeHosts       int          `json:"safe_hosts"`

	TargetHosts      []string `json:"target_hosts"`
	UnreachableHosts []string `json:"unreachable_hosts"`
	ReachableRate    float64  `json:"reachable_rate"`

	ArtifactsExpected int      `json:"artifacts_expected"`
	ArtifactsLoaded   int      `json:"artifacts_loaded"`
	ArtifactsMissing  int      `json:"artifacts_missing"`
	MalformedFiles    []string `json:"malformed_files,omitempty"`

	Recap       *runner.Recap `json:"recap,omitempty"`
	Diagnostics *Diagnostics  `json:"diagnostics,omitempty"`
}

// Host 查找主机汇总
func (r *Report) Host(name string) (*HostReport, bool) {
	for i := range r.Hosts {
		if r.Hosts[i].Host == name {
			return &r.Hosts[i], true
		}
	}
	return nil, false
}

// Input 对账输入
type Input struct {
	RunID   string
	Targets []string
	// Artifacts 每台主机预期的结果文件路径
	Artifacts      map[string][]string
	TranscriptPath string
	Recap          *runner.Recap
	Vocabulary     Vocabulary
	// NotLaunched 执行器进程没有启动成功；已加载到结果文件时不生效
	NotLaunched bool
}

// InputFromPlan 根据执行计划构造对账输入
func InputFromPlan(plan *playbook.ExecutionPlan, transcriptPath string, recap *runner.Recap) Input {
	return Input{
		RunID:          plan.RunID,
		Targets:        plan.Targets,
		Artifacts:      plan.ExpectedArtifacts(),
		TranscriptPath: transcriptPath,
		Recap:          recap,
	}
}

// Reconcile 读取结果文件并生成汇总报告
//
// 缺失的文件直接跳过；无法解析的文件记录在 MalformedFiles 中。
func Reconcile(in Input) *Report {
	vocab := in.Vocabulary
	if vocab == nil {
		vocab = DefaultVocabulary
	}

	report := &Report{
		RunID:            in.RunID,
		GeneratedAt:      time.Now(),
		Hosts:            []HostReport{},
		UnreachableHosts: []string{},
		Recap:            in.Recap,
	}

	targets := uniqueSorted(in.Targets)
	report.TargetHosts = targets

	for _, host := range targets {
		hr := HostReport{Host: host, Outcomes: []ClassifiedOutcome{}}
		if in.Recap != nil {
			if rec, ok := in.Recap.Get(host); ok {
				hr.Recap = &rec
			}
		}

		reported := false
		for _, path := range in.Artifacts[host] {
			report.ArtifactsExpected++
			outcomes, err := LoadArtifact(path)
			if err != nil {
				if errors.Is(err, errors.ErrMissingArtifact) {
					report.ArtifactsMissing++
				} else {
					report.MalformedFiles = append(report.MalformedFiles, path)
				}
				continue
			}
			report.ArtifactsLoaded++
			reported = true

			for _, o := range outcomes {
				if o.Hostname == "" {
					o.Hostname = host
				}
				status, family := Classify(o, vocab)
				hr.Outcomes = append(hr.Outcomes, ClassifiedOutcome{Outcome: o, Status: status, Failure: family})
				hr.Counts.add(status, family, bool(o.RemediationApplied))
				report.Counts.add(status, family, bool(o.RemediationApplied))
			}
		}

		if !reported {
			report.UnreachableHosts = append(report.UnreachableHosts, host)
		}
		hr.Vulnerable = hr.Counts.Vulnerable()
		if reported {
			if hr.Vulnerable {
				report.VulnerableHosts++
			} else {
				report.SafeHosts++
			}
		}
		report.Hosts = append(report.Hosts, hr)
	}

	report.ImprovementRate = report.Counts.ImprovementRate()
	if len(targets) > 0 {
		report.ReachableRate = float64(len(targets)-len(report.UnreachableHosts)) / float64(len(targets))
	}

	// 磁盘上有结果文件时一定执行过；没有结果文件时才看进程是否启动
	executed := report.ArtifactsLoaded > 0 || (!in.NotLaunched && fileExists(in.TranscriptPath))
	switch {
	case !executed:
		report.Status = NeverExecuted
	case len(report.UnreachableHosts) == 0 && report.ArtifactsMissing == 0 && len(report.MalformedFiles) == 0:
		report.Status = Completed
	default:
		report.Status = ExecutedPartial
	}

	if report.ArtifactsLoaded == 0 && in.TranscriptPath != "" {
		report.Diagnostics = Diagnose(in.TranscriptPath)
	}
	return report
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
