package runner

import (
	"askable/pkg/errors"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HostRecap 单台主机的 PLAY RECAP 统计
type HostRecap struct {
	Host        string `json:"host"`
	Ok          int    `json:"ok"`
	Changed     int    `json:"changed"`
	Unreachable int    `json:"unreachable"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Rescued     int    `json:"rescued"`
	Ignored     int    `json:"ignored"`
}

func (r *HostRecap) add(o HostRecap) {
	r.Ok += o.Ok
	r.Changed += o.Changed
	r.Unreachable += o.Unreachable
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Rescued += o.Rescued
	r.Ignored += o.Ignored
}

// Recap 一次执行的汇总
type Recap struct {
	Hosts     []HostRecap `json:"hosts"`
	Total     HostRecap   `json:"total"`
	Malformed int         `json:"malformed"`
}

// Get 查找主机统计
func (r *Recap) Get(host string) (HostRecap, bool) {
	for _, h := range r.Hosts {
		if h.Host == host {
			return h, true
		}
	}
	return HostRecap{}, false
}

// EmptyRecap 全零汇总
func EmptyRecap() *Recap {
	return &Recap{Hosts: []HostRecap{}}
}

var (
	timestampPrefix = regexp.MustCompile(`^\[[^\]]*\]\s*`)
	recapField      = regexp.MustCompile(`(\w+)=(\S*)`)

	errNotRecapLine = stderrors.New("not a recap line")
)

var recapKeys = []string{"ok=", "changed=", "failed=", "unreachable="}

// ParseRecapLine 解析一行 "<host> : ok=N changed=N ..."
//
// 行首的 [时间] 前缀会先被去掉。字段顺序任意，缺失的字段为 0。
func ParseRecapLine(line string) (HostRecap, error) {
	clean := timestampPrefix.ReplaceAllString(strings.TrimSpace(line), "")

	host, stats, ok := strings.Cut(clean, ":")
	if !ok || !containsAny(stats, recapKeys) {
		return HostRecap{}, errNotRecapLine
	}

	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " \t=") {
		return HostRecap{}, fmt.Errorf("%w: invalid host %q", errors.ErrMalformedRecapLine, host)
	}

	rec := HostRecap{Host: host}
	for _, m := range recapField.FindAllStringSubmatch(stats, -1) {
		target := rec.field(m[1])
		if target == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 0 {
			return HostRecap{}, fmt.Errorf("%w: %s=%q", errors.ErrMalformedRecapLine, m[1], m[2])
		}
		*target = n
	}
	return rec, nil
}

func (r *HostRecap) field(name string) *int {
	switch name {
	case "ok":
		return &r.Ok
	case "changed":
		return &r.Changed
	case "unreachable":
		return &r.Unreachable
	case "failed":
		return &r.Failed
	case "skipped":
		return &r.Skipped
	case "rescued":
		return &r.Rescued
	case "ignored":
		return &r.Ignored
	}
	return nil
}

// RecapParser 逐行接收输出并收集汇总行
//
// 出现 PLAY RECAP 标记时只统计最后一个标记之后的行；没有标记时统计所有匹配的行。
type RecapParser struct {
	sawMarker bool
	before    []HostRecap
	after     []HostRecap
	malformed int
}

// NewRecapParser 创建解析器
func NewRecapParser() *RecapParser {
	return &RecapParser{}
}

// Feed 处理一行输出
func (p *RecapParser) Feed(line string) {
	if strings.Contains(line, "PLAY RECAP") {
		p.sawMarker = true
		p.after = nil
		return
	}
	rec, err := ParseRecapLine(line)
	if err != nil {
		if errors.Is(err, errors.ErrMalformedRecapLine) {
			p.malformed++
		}
		return
	}
	if p.sawMarker {
		p.after = append(p.after, rec)
	} else {
		p.before = append(p.before, rec)
	}
}

// Recap 返回汇总；没有任何匹配行时返回全零汇总
func (p *RecapParser) Recap() *Recap {
	entries := p.before
	if p.sawMarker {
		entries = p.after
	}

	out := EmptyRecap()
	out.Malformed = p.malformed
	index := make(map[string]int)
	for _, rec := range entries {
		if i, ok := index[rec.Host]; ok {
			out.Hosts[i] = rec
			continue
		}
		index[rec.Host] = len(out.Hosts)
		out.Hosts = append(out.Hosts, rec)
	}
	for _, h := range out.Hosts {
		out.Total.add(h)
	}
	return out
}

// ParseRecap 解析完整输出
func ParseRecap(lines []string) *Recap {
	p := NewRecapParser()
	for _, line := range lines {
		p.Feed(line)
	}
	return p.Recap()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
