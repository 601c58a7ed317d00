package planner

import (
	"askable/internal/catalog"
	"sort"
)

// PlanModule 计划中的一个任务模块
type PlanModule struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	// Scope 允许执行该模块的主机，Unified 模式下为空
	Scope []string `json:"scope,omitempty"`
}

// InScope 主机是否在模块的作用域内；Unified 模式下总是 true
func (m PlanModule) InScope(host string) bool {
	if m.Scope == nil {
		return true
	}
	i := sort.SearchStrings(m.Scope, host)
	return i < len(m.Scope) && m.Scope[i] == host
}

// TaskPlan 去重后的任务模块列表
type TaskPlan struct {
	Mode    Mode         `json:"mode"`
	Modules []PlanModule `json:"modules"`
}

// Empty 计划中没有任何模块
func (p *TaskPlan) Empty() bool {
	return p == nil || len(p.Modules) == 0
}

// IDs 模块标识列表
func (p *TaskPlan) IDs() []string {
	ids := make([]string, 0, len(p.Modules))
	for _, m := range p.Modules {
		ids = append(ids, m.ID)
	}
	return ids
}

// ScopedHosts PerHost 计划中至少请求了一个模块的主机
func (p *TaskPlan) ScopedHosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, m := range p.Modules {
		for _, h := range m.Scope {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}

// ModulesFor 主机将要执行的模块
func (p *TaskPlan) ModulesFor(host string) []string {
	var ids []string
	for _, m := range p.Modules {
		if m.InScope(host) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// CountSelected 统计选择的检查项数量
//
// 选择全部的服务按目录中的检查项总数计算，否则统计被勾选的条目数。
func CountSelected(tree SelectionTree, cat *catalog.Catalog) int {
	total := 0
	for service, node := range tree {
		if node.IsAll() {
			total += cat.ItemCount(service)
			continue
		}
		for _, items := range node.Categories() {
			for _, selected := range items {
				if selected {
					total++
				}
			}
		}
	}
	return total
}

// Reachable 选择树能到达的模块标识（去重、排序）
func Reachable(tree SelectionTree, cat *catalog.Catalog) []string {
	set := make(map[string]struct{})
	for service, node := range tree {
		if node.IsAll() {
			for _, item := range cat.Items(service) {
				if item.Module != "" {
					set[item.Module] = struct{}{}
				}
			}
			continue
		}
		for _, items := range node.Categories() {
			for key, selected := range items {
				if !selected {
					continue
				}
				if module := cat.ModuleFor(key); module != "" {
					set[module] = struct{}{}
				}
			}
		}
	}
	return sortedSet(set)
}

// Compile 将选择编译为任务计划
//
// PerHost 模式下先对每台主机单独求可达模块，再取并集作为全局模块集合，
// 每个模块的作用域是请求了它的主机集合。没有任何主机请求的模块不会出现。
func Compile(sel Selection, cat *catalog.Catalog) *TaskPlan {
	if sel.Mode != ModePerHost {
		plan := &TaskPlan{Mode: ModeUnified}
		for _, id := range Reachable(sel.Tree, cat) {
			plan.Modules = append(plan.Modules, PlanModule{ID: id, Code: catalog.ModuleCode(id)})
		}
		return plan
	}

	scopes := make(map[string]map[string]struct{})
	for _, host := range sel.Hosts() {
		for _, id := range Reachable(sel.PerHost[host], cat) {
			if scopes[id] == nil {
				scopes[id] = make(map[string]struct{})
			}
			scopes[id][host] = struct{}{}
		}
	}

	plan := &TaskPlan{Mode: ModePerHost}
	for _, id := range sortedKeys(scopes) {
		plan.Modules = append(plan.Modules, PlanModule{
			ID:    id,
			Code:  catalog.ModuleCode(id),
			Scope: sortedSet(scopes[id]),
		})
	}
	return plan
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
