package model

// VerdictKind 区分审核结论的两种形态。
type VerdictKind int

const (
	VerdictClear VerdictKind = iota
	VerdictFlagged
)

// Verdict 是一次审核的结论：要么通过，要么携带各类别的最高分。
type Verdict struct {
	Kind   VerdictKind        `json:"-"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// ClearVerdict 返回通过审核的结论。
func ClearVerdict() Verdict {
	return Verdict{Kind: VerdictClear}
}

// FlaggedVerdict 返回被拦截的结论；scores 为空时视为通过。
func FlaggedVerdict(scores map[string]float64) Verdict {
	if len(scores) == 0 {
		return ClearVerdict()
	}
	return Verdict{Kind: VerdictFlagged, Scores: scores}
}

func (v Verdict) Flagged() bool {
	return v.Kind == VerdictFlagged
}

// Review 把分数转换为可持久化的 map，用于管理端的审核详情。
func (v Verdict) Review() map[string]interface{} {
	review := make(map[string]interface{}, len(v.Scores))
	for k, s := range v.Scores {
		review[k] = s
	}
	return review
}
