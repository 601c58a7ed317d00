package reconcile

import (
	"askable/pkg/errors"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Flag 兼容 true / "true" / "yes" / 1 等写法的布尔值
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = false
		return nil
	}
	if s, err := strconv.Unquote(raw); err == nil {
		raw = s
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1", "on":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Text 字符串字段，非字符串值按原始 JSON 文本保留
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	*t = Text(bytes.TrimSpace(data))
	return nil
}

// Details 漏洞详情
type Details struct {
	Reason         Text     `json:"reason,omitempty"`
	Recommendation Text     `json:"recommendation,omitempty"`
	CurrentMode    Text     `json:"current_mode,omitempty"`
	CurrentOwner   Text     `json:"current_owner,omitempty"`
	Files          []string `json:"files,omitempty"`
}

// 检查模块写入文件列表时使用的字段名，按顺序取第一个存在的
var fileListKeys = []string{"vulnerable_files_found", "file_list", "vulnerable_files"}

func (d *Details) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// 非对象的详情按原因处理
		var reason Text
		reason.UnmarshalJSON(data)
		*d = Details{Reason: reason}
		return nil
	}

	var out Details
	for key, target := range map[string]*Text{
		"reason":         &out.Reason,
		"recommendation": &out.Recommendation,
		"current_mode":   &out.CurrentMode,
		"current_owner":  &out.CurrentOwner,
	} {
		if raw, ok := fields[key]; ok {
			target.UnmarshalJSON(raw)
		}
	}
	for _, key := range fileListKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		out.Files = fileList(raw)
		break
	}
	*d = out
	return nil
}

func fileList(raw json.RawMessage) []string {
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		var single string
		if json.Unmarshal(raw, &single) == nil && single != "" {
			return []string{single}
		}
		return nil
	}
	files := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			files = append(files, v)
		case nil:
		default:
			b, _ := json.Marshal(v)
			files = append(files, string(b))
		}
	}
	return files
}

// Outcome 检查模块在一台主机上的原始结果
type Outcome struct {
	Hostname             string  `json:"hostname"`
	DiagnosisResult      Text    `json:"diagnosis_result"`
	IsVulnerable         Flag    `json:"is_vulnerable"`
	RemediationApplied   Flag    `json:"remediation_applied"`
	RemediationResult    Text    `json:"remediation_result"`
	RemediationTimestamp Text    `json:"remediation_timestamp,omitempty"`
	TaskDescription      Text    `json:"task_description,omitempty"`
	PlaybookName         Text    `json:"playbook_name,omitempty"`
	Details              Details `json:"vulnerability_details"`

	// Source 结果文件路径
	Source string `json:"source,omitempty"`
}

// LoadArtifact 读取结果文件，文件内容可以是单个对象或对象数组
//
// 文件不存在时返回 ErrMissingArtifact。
func LoadArtifact(path string) ([]Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrMissingArtifact, path)
		}
		return nil, fmt.Errorf("读取结果文件失败: %w", err)
	}
	outcomes, err := ParseArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("解析结果文件失败 %s: %w", path, err)
	}
	for i := range outcomes {
		outcomes[i].Source = path
	}
	return outcomes, nil
}

// ParseArtifact 解析结果文件内容
func ParseArtifact(data []byte) ([]Outcome, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("结果文件为空")
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
		outcomes := make([]Outcome, 0, len(raw))
		for _, item := range raw {
			if t := bytes.TrimSpace(item); len(t) == 0 || t[0] != '{' {
				continue
			}
			var o Outcome
			if err := json.Unmarshal(item, &o); err != nil {
				return nil, err
			}
			outcomes = append(outcomes, o)
		}
		return outcomes, nil
	}

	var o Outcome
	if err := json.Unmarshal(trimmed, &o); err != nil {
		return nil, err
	}
	return []Outcome{o}, nil
}
