package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Serialize 将选中的主机输出为执行用清单
//
// 输出依次为 [target_servers] 组、选中主机原来所属的组，以及 [all:vars]。
// 只有不属于连接身份变量、且在所有选中主机上取值相同的变量才会进入 [all:vars]，
// 其余变量写在各自的主机行上。
func Serialize(inv *Inventory, selected []string) (string, error) {
	hosts, err := inv.Select(selected)
	if err != nil {
		return "", err
	}

	globals := sharedVars(hosts)

	var lines []string
	lines = append(lines, "["+TargetGroup+"]")
	for _, h := range hosts {
		lines = append(lines, hostLine(h, globals))
	}
	lines = append(lines, "")

	var groups []string
	members := make(map[string][]*Host)
	for _, h := range hosts {
		if _, seen := members[h.Group]; !seen {
			groups = append(groups, h.Group)
		}
		members[h.Group] = append(members[h.Group], h)
	}
	for _, g := range groups {
		lines = append(lines, "["+g+"]")
		for _, h := range members[g] {
			lines = append(lines, hostLine(h, globals))
		}
		lines = append(lines, "")
	}

	if globals.Len() > 0 {
		lines = append(lines, "[all:vars]")
		for _, key := range globals.Keys() {
			value, _ := globals.Get(key)
			lines = append(lines, key+"="+value)
		}
	}

	return strings.Join(lines, "\n") + "\n", nil
}

// WriteFile 序列化并写入文件
func WriteFile(path string, inv *Inventory, selected []string) error {
	content, err := Serialize(inv, selected)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建清单目录失败: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("写入清单文件失败: %w", err)
	}
	return nil
}

// sharedVars 计算可提升为全局的变量
func sharedVars(hosts []*Host) *Vars {
	out := NewVars()
	decided := make(map[string]bool)
	for _, h := range hosts {
		for _, key := range h.Vars.Keys() {
			if decided[key] {
				continue
			}
			decided[key] = true
			if IsReserved(key) {
				continue
			}
			value, _ := h.Vars.Get(key)
			if sameOnAll(hosts, key, value) {
				out.Set(key, value)
			}
		}
	}
	return out
}

func sameOnAll(hosts []*Host, key, value string) bool {
	for _, h := range hosts {
		v, ok := h.Vars.Get(key)
		if !ok || v != value {
			return false
		}
	}
	return true
}

func hostLine(h *Host, globals *Vars) string {
	parts := []string{h.Name}
	for _, key := range h.Vars.Keys() {
		if _, ok := globals.Get(key); ok {
			continue
		}
		value, _ := h.Vars.Get(key)
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, " ")
}
