package service

import (
	"sort"
	"time"

	"section-swap/backend/internal/model"
)

// Candidate 一条可参与匹配的 pending 申请及其申请人身份
type Candidate struct {
	Request  *model.SwapRequest
	Identity Identity
}

func (c *Candidate) ID() string           { return c.Request.SwapRequestID }
func (c *Candidate) UserID() string       { return c.Request.UserID }
func (c *Candidate) Current() string      { return c.Request.CurrentSection }
func (c *Candidate) Target() string       { return c.Request.TargetSection }
func (c *Candidate) CreatedAt() time.Time { return c.Request.CreatedAt }

// reciprocal c 与 other 的方向正好相反
func (c *Candidate) reciprocal(other *Candidate) bool {
	return c.Current() == other.Target() && c.Target() == other.Current()
}

// CandidateIndex 单次匹配运行内的候选集，按 (专业, 当前班级) 分组。
// 只读，不跨运行复用。
type CandidateIndex struct {
	branch  string
	ordered []*Candidate
	from    map[string][]*Candidate
}

// BuildCandidateIndex 从快照构建某专业的候选集。
// 非该专业或非 pending 的记录被忽略；排序为优先级降序、创建时间升序、ID 升序。
func BuildCandidateIndex(branch string, snapshot []*Candidate) *CandidateIndex {
	ordered := make([]*Candidate, 0, len(snapshot))
	for _, c := range snapshot {
		if c == nil || c.Request == nil {
			continue
		}
		if c.Request.Branch != branch || c.Request.Status != model.SwapStatusPending {
			continue
		}
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return candidateBefore(ordered[i], ordered[j]) })

	from := make(map[string][]*Candidate)
	for _, c := range ordered {
		from[c.Current()] = append(from[c.Current()], c)
	}
	return &CandidateIndex{branch: branch, ordered: ordered, from: from}
}

func candidateBefore(a, b *Candidate) bool {
	if a.Identity.Tier != b.Identity.Tier {
		return a.Identity.Tier > b.Identity.Tier
	}
	if !a.CreatedAt().Equal(b.CreatedAt()) {
		return a.CreatedAt().Before(b.CreatedAt())
	}
	return a.ID() < b.ID()
}

// Branch 候选集所属专业
func (ix *CandidateIndex) Branch() string { return ix.branch }

// Len 候选数量
func (ix *CandidateIndex) Len() int { return len(ix.ordered) }

// From 当前位于 section 的候选，按匹配优先顺序
func (ix *CandidateIndex) From(section string) []*Candidate {
	list := ix.from[section]
	out := make([]*Candidate, len(list))
	copy(out, list)
	return out
}

// Ordered 全部候选，按匹配优先顺序
func (ix *CandidateIndex) Ordered() []*Candidate {
	out := make([]*Candidate, len(ix.ordered))
	copy(out, ix.ordered)
	return out
}

// partitionByBranch 按专业拆分候选，返回专业名（升序）与分组
func partitionByBranch(cands []*Candidate) ([]string, map[string][]*Candidate) {
	groups := make(map[string][]*Candidate)
	for _, c := range cands {
		groups[c.Request.Branch] = append(groups[c.Request.Branch], c)
	}
	branches := make([]string, 0, len(groups))
	for b := range groups {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	return branches, groups
}
