package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Item 检查项
type Item struct {
	Service     string `json:"service"`
	Category    string `json:"category"`
	Code        string `json:"code"`
	Description string `json:"description"`
	// Label 原始条目文本，如 "U-01: root 계정 원격 접속 제한"，按项选择时以它为键
	Label  string `json:"label"`
	Module string `json:"module,omitempty"`
}

// Category 服务下的检查分类
type Category struct {
	Name  string  `json:"name"`
	Items []*Item `json:"items"`
}

// Service 服务
type Service struct {
	Name       string      `json:"name"`
	Count      int         `json:"count"`
	Categories []*Category `json:"categories"`
}

// Catalog 服务 -> 分类 -> 检查项 的静态目录
type Catalog struct {
	services map[string]*Service
	order    []string
	byLabel  map[string]*Item
	byCode   map[string]*Item
}

// categoryFile vulnerability_categories.json 中单个服务的结构
type categoryFile struct {
	Count         int                 `json:"count"`
	Subcategories map[string][]string `json:"subcategories"`
}

// Load 从分类文件和模块映射文件加载目录
func Load(categoriesPath, mappingPath string) (*Catalog, error) {
	categories, err := os.ReadFile(categoriesPath)
	if err != nil {
		return nil, fmt.Errorf("读取检查项分类文件失败: %w", err)
	}
	mapping, err := os.ReadFile(mappingPath)
	if err != nil {
		return nil, fmt.Errorf("读取模块映射文件失败: %w", err)
	}
	return Parse(categories, mapping)
}

// Parse 解析分类和映射 JSON
func Parse(categoriesJSON, mappingJSON []byte) (*Catalog, error) {
	var services map[string]categoryFile
	if err := json.Unmarshal(categoriesJSON, &services); err != nil {
		return nil, fmt.Errorf("解析检查项分类失败: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(mappingJSON, &mapping); err != nil {
		return nil, fmt.Errorf("解析模块映射失败: %w", err)
	}

	b := NewBuilder()
	for _, name := range sortedKeys(services) {
		svc := services[name]
		for _, category := range sortedKeys(svc.Subcategories) {
			for _, label := range svc.Subcategories[category] {
				code := ItemCode(label)
				b.Add(name, category, label, mapping[code])
			}
		}
		if svc.Count > 0 {
			b.SetCount(name, svc.Count)
		}
	}
	return b.Build(), nil
}

// ItemCode 取条目文本中第一个冒号之前的部分作为检查项编码
func ItemCode(label string) string {
	code, _, _ := strings.Cut(label, ":")
	return strings.TrimSpace(code)
}

// ModuleCode 模块标识去掉 .yml/.yaml 后缀
func ModuleCode(module string) string {
	module = strings.TrimSuffix(module, ".yml")
	return strings.TrimSuffix(module, ".yaml")
}

// Services 按名称顺序返回所有服务
func (c *Catalog) Services() []*Service {
	out := make([]*Service, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.services[name])
	}
	return out
}

// Service 查找服务
func (c *Catalog) Service(name string) (*Service, bool) {
	s, ok := c.services[name]
	return s, ok
}

// ItemCount 服务的检查项总数
func (c *Catalog) ItemCount(service string) int {
	s, ok := c.services[service]
	if !ok {
		return 0
	}
	return s.Count
}

// Items 服务下的全部检查项
func (c *Catalog) Items(service string) []*Item {
	s, ok := c.services[service]
	if !ok {
		return nil
	}
	var out []*Item
	for _, cat := range s.Categories {
		out = append(out, cat.Items...)
	}
	return out
}

// Lookup 按条目文本或编码查找检查项
func (c *Catalog) Lookup(key string) (*Item, bool) {
	if item, ok := c.byLabel[key]; ok {
		return item, true
	}
	item, ok := c.byCode[ItemCode(key)]
	return item, ok
}

// ModuleFor 条目对应的任务模块，未映射时返回空串
func (c *Catalog) ModuleFor(key string) string {
	item, ok := c.Lookup(key)
	if !ok {
		return ""
	}
	return item.Module
}

// Builder 以代码方式构造目录，测试和内置目录使用
type Builder struct {
	c *Catalog
}

func NewBuilder() *Builder {
	return &Builder{c: &Catalog{
		services: make(map[string]*Service),
		byLabel:  make(map[string]*Item),
		byCode:   make(map[string]*Item),
	}}
}

// Add 添加一个检查项；module 为空表示该项没有对应模块
func (b *Builder) Add(service, category, label, module string) *Builder {
	c := b.c
	svc, ok := c.services[service]
	if !ok {
		svc = &Service{Name: service}
		c.services[service] = svc
		c.order = append(c.order, service)
	}

	var cat *Category
	for _, existing := range svc.Categories {
		if existing.Name == category {
			cat = existing
			break
		}
	}
	if cat == nil {
		cat = &Category{Name: category}
		svc.Categories = append(svc.Categories, cat)
	}

	code := ItemCode(label)
	_, desc, _ := strings.Cut(label, ":")
	item := &Item{
		Service:     service,
		Category:    category,
		Code:        code,
		Description: strings.TrimSpace(desc),
		Label:       label,
		Module:      module,
	}
	cat.Items = append(cat.Items, item)
	svc.Count++
	c.byLabel[label] = item
	if _, exists := c.byCode[code]; !exists {
		c.byCode[code] = item
	}
	return b
}

// SetCount 覆盖服务声明的检查项数
func (b *Builder) SetCount(service string, count int) *Builder {
	if svc, ok := b.c.services[service]; ok {
		svc.Count = count
	}
	return b
}

// Build 返回构造好的目录，服务按名称排序
func (b *Builder) Build() *Catalog {
	sort.Strings(b.c.order)
	return b.c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
