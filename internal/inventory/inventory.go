package inventory

import (
	"askable/pkg/errors"
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TargetGroup 序列化时生成的执行目标组
const TargetGroup = "target_servers"

// DefaultService 未声明 services 时主机的默认服务标签
const DefaultService = "Server-Linux"

// reservedVars 连接身份变量，只能按主机输出，不会提升到 [all:vars]
var reservedVars = map[string]bool{
	"ansible_host":        true,
	"ansible_port":        true,
	"ansible_user":        true,
	"ansible_connection":  true,
	"ansible_become_pass": true,
}

// IsReserved 判断变量是否为连接身份变量
func IsReserved(key string) bool {
	return reservedVars[key]
}

// Host 目标主机
type Host struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Group       string   `json:"group"`
	Description string   `json:"description,omitempty"`
	Services    []string `json:"services"`
	Vars        *Vars    `json:"vars"`
}

// HasService 主机是否启用了某个服务
func (h *Host) HasService(service string) bool {
	for _, s := range h.Services {
		if strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}

// Inventory 解析后的主机清单
type Inventory struct {
	Hosts   map[string]*Host
	Globals *Vars

	order []string
}

// Names 按清单中首次出现的顺序返回主机名
func (inv *Inventory) Names() []string {
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// Get 查找主机
func (inv *Inventory) Get(name string) (*Host, bool) {
	h, ok := inv.Hosts[name]
	return h, ok
}

// Select 解析目标主机子集，保持清单顺序；names 为空时返回全部主机
func (inv *Inventory) Select(names []string) ([]*Host, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.TrimSpace(n)] = true
	}

	hosts := make([]*Host, 0, len(inv.order))
	for _, name := range inv.order {
		if len(names) == 0 || wanted[name] {
			hosts = append(hosts, inv.Hosts[name])
		}
	}
	if len(hosts) == 0 {
		return nil, errors.ErrEmptyTargetGroup
	}
	return hosts, nil
}

// ParseFile 读取并解析清单文件
func ParseFile(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单文件失败: %w", err)
	}
	return Parse(string(data))
}

// Parse 解析 ini 格式的清单文本
func Parse(text string) (*Inventory, error) {
	inv := &Inventory{
		Hosts:   make(map[string]*Host),
		Globals: NewVars(),
	}

	var (
		currentGroup string
		inVars       bool
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.TrimSpace(line[1 : len(line)-1])
			switch {
			case strings.HasSuffix(section, ":vars"):
				inVars, currentGroup = true, ""
			case strings.HasSuffix(section, ":children"):
				inVars, currentGroup = false, ""
			default:
				inVars, currentGroup = false, section
			}
			continue
		}

		if inVars {
			if key, value, ok := splitVar(line); ok {
				inv.Globals.Set(key, value)
			}
			continue
		}

		if currentGroup == "" {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		if strings.HasPrefix(name, "ansible_") {
			continue
		}
		inv.addHost(name, currentGroup, fields[1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	if len(inv.Hosts) == 0 {
		return nil, errors.ErrMalformedInventory
	}

	// 主机变量优先，全局变量只补齐缺失的键
	for _, name := range inv.order {
		host := inv.Hosts[name]
		for _, key := range inv.Globals.Keys() {
			if _, ok := host.Vars.Get(key); !ok {
				value, _ := inv.Globals.Get(key)
				host.Vars.Set(key, value)
			}
		}
		if addr, ok := host.Vars.Get("ansible_host"); ok && host.Address == "" {
			host.Address = addr
		}
		if host.Address == "" {
			host.Address = host.Name
		}
	}

	return inv, nil
}

// addHost 记录主机行；同一主机再次出现时以后出现的组和变量为准
func (inv *Inventory) addHost(name, group string, tokens []string) {
	host, ok := inv.Hosts[name]
	if !ok {
		host = &Host{
			Name:        name,
			Description: group + " group server",
			Services:    []string{DefaultService},
			Vars:        NewVars(),
		}
		inv.Hosts[name] = host
		inv.order = append(inv.order, name)
	}
	host.Group = group

	for _, token := range tokens {
		key, value, ok := splitVar(token)
		if !ok {
			continue
		}
		switch key {
		case "services":
			host.Services = parseServices(value)
		case "description":
			host.Description = strings.ReplaceAll(value, "_", " ")
		case "ansible_host":
			host.Address = value
			host.Vars.Set(key, value)
		default:
			host.Vars.Set(key, value)
		}
	}
}

func splitVar(s string) (string, string, bool) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

func parseServices(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, titleCase(s))
		}
	}
	if len(out) == 0 {
		return []string{DefaultService}
	}
	return out
}

// titleCase 每个单词首字母大写，其余小写（server-linux -> Server-Linux）
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
