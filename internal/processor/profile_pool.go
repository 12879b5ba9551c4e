package processor

import (
	"sync"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// ProfilePool 已完成解析的档案，按加入顺序排列
type ProfilePool struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*types.CandidateProfile
}

// NewProfilePool 创建空档案池
func NewProfilePool() *ProfilePool {
	return &ProfilePool{byID: make(map[string]*types.CandidateProfile)}
}

// Put 加入或替换档案，替换时保留原位置
func (p *ProfilePool) Put(profile *types.CandidateProfile) {
	if profile == nil || profile.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[profile.ID]; !ok {
		p.order = append(p.order, profile.ID)
	}
	p.byID[profile.ID] = profile
}

// Remove 移除档案，返回是否存在
func (p *ProfilePool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return false
	}
	delete(p.byID, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Replace 用新集合整体替换
func (p *ProfilePool) Replace(profiles []*types.CandidateProfile) {
	next := NewProfilePool()
	for _, profile := range profiles {
		next.Put(profile)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order, p.byID = next.order, next.byID
}

// Get 按ID取档案
func (p *ProfilePool) Get(id string) (*types.CandidateProfile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.byID[id]
	return profile, ok
}

// Profiles 当前全部档案的快照
func (p *ProfilePool) Profiles() []*types.CandidateProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.CandidateProfile, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// Len 档案数量
func (p *ProfilePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}
