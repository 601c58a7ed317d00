package reconcile

import "strings"

// Family 调整结果文本所属的关键字族
type Family string

const (
	FamilyNone    Family = ""
	FamilySuccess Family = "success"
	FamilyFailed  Family = "failed"
	FamilyIgnored Family = "ignored"
	FamilySkipped Family = "skipped"
)

// IsFailure 失败、忽略、跳过都算调整未成功
func (f Family) IsFailure() bool {
	return f == FamilyFailed || f == FamilyIgnored || f == FamilySkipped
}

// Rule 一组关键字对应一个族
type Rule struct {
	Family   Family
	Keywords []string
}

// Vocabulary 关键字表，按顺序匹配，第一个命中的规则生效
type Vocabulary []Rule

// DefaultVocabulary 失败类关键字优先于成功类，"조치 완료 실패" 判为失败
var DefaultVocabulary = Vocabulary{
	{Family: FamilyIgnored, Keywords: []string{"무시", "ignore"}},
	{Family: FamilySkipped, Keywords: []string{"건너뛰", "건너뜀", "skip"}},
	{Family: FamilyFailed, Keywords: []string{"실패", "오류", "error", "failed", "fail"}},
	{Family: FamilySuccess, Keywords: []string{"조치 완료", "완료", "성공", "complete", "success"}},
}

// Match 返回文本所属的族，不区分大小写
func (v Vocabulary) Match(text string) Family {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return FamilyNone
	}
	for _, rule := range v {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Family
			}
		}
	}
	return FamilyNone
}
