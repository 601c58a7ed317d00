package planner

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SelectionNode 单个服务的选择：选择全部，或按分类逐项选择
type SelectionNode struct {
	all        bool
	categories map[string]map[string]bool
}

// AllOf 选择服务下的全部检查项
func AllOf() SelectionNode {
	return SelectionNode{all: true}
}

// Explicit 按 分类 -> 条目 -> 是否选中 逐项选择
func Explicit(categories map[string]map[string]bool) SelectionNode {
	return SelectionNode{categories: categories}
}

// IsAll 是否选择了全部
func (n SelectionNode) IsAll() bool {
	return n.all
}

// Categories 逐项选择的内容，选择全部时为空
func (n SelectionNode) Categories() map[string]map[string]bool {
	if n.all {
		return nil
	}
	return n.categories
}

// selectionNodeJSON 与前端约定的结构：{"all": true} 或 {"categories": {...}}
type selectionNodeJSON struct {
	All        bool                       `json:"all"`
	Categories map[string]map[string]bool `json:"categories,omitempty"`
}

func (n SelectionNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(selectionNodeJSON{All: n.all, Categories: n.Categories()})
}

func (n *SelectionNode) UnmarshalJSON(data []byte) error {
	var raw selectionNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.All {
		*n = AllOf()
		return nil
	}
	*n = Explicit(raw.Categories)
	return nil
}

// SelectionTree 服务名 -> 选择
type SelectionTree map[string]SelectionNode

// Mode 执行模式
type Mode string

const (
	// ModeUnified 所有目标主机使用同一份选择
	ModeUnified Mode = "unified"
	// ModePerHost 每台主机各自的选择
	ModePerHost Mode = "per_host"
)

// Selection 一次执行的选择，Unified 与 PerHost 二选一
type Selection struct {
	Mode    Mode                     `json:"mode"`
	Tree    SelectionTree            `json:"tree,omitempty"`
	PerHost map[string]SelectionTree `json:"hosts,omitempty"`
}

// Unified 构造统一选择
func Unified(tree SelectionTree) Selection {
	return Selection{Mode: ModeUnified, Tree: tree}
}

// PerHost 构造按主机选择
func PerHost(trees map[string]SelectionTree) Selection {
	return Selection{Mode: ModePerHost, PerHost: trees}
}

// Validate 检查模式与内容是否匹配
func (s Selection) Validate() error {
	switch s.Mode {
	case ModeUnified:
		if s.PerHost != nil {
			return fmt.Errorf("unified 模式不能携带按主机选择")
		}
	case ModePerHost:
		if s.Tree != nil {
			return fmt.Errorf("per_host 模式不能携带统一选择")
		}
	default:
		return fmt.Errorf("未知的执行模式: %q", s.Mode)
	}
	return nil
}

// Hosts 按主机选择中出现的主机名（已排序）
func (s Selection) Hosts() []string {
	hosts := make([]string, 0, len(s.PerHost))
	for h := range s.PerHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
