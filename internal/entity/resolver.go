package entity

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// Resolver 进程内的姓名实体表：小写全名 -> 候选人身份
// 条目只增不删；同一身份的写入串行化，读者总是看到完整的条目快照
type Resolver struct {
	mu      sync.RWMutex
	entries map[string]*types.EntityMapEntry

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex

	logger zerolog.Logger
}

// NewResolver 创建空的实体表
func NewResolver() *Resolver {
	return &Resolver{
		entries:  make(map[string]*types.EntityMapEntry),
		keyLocks: make(map[string]*sync.Mutex),
		logger:   logger.Named("entity_resolver"),
	}
}

// normalize 小写并折叠空白；Caser 有状态，每次调用单独创建
func normalize(s string) string {
	return strings.Join(strings.Fields(cases.Lower(language.Und).String(s)), " ")
}

// GenerateNameVariants 生成姓名的常见写法（均为小写，按下列顺序去重）
// 至少两段时：全名、"名 姓"、"首字母们. 姓"、"名首字母. 姓"、"姓"；单段时只有自身
func GenerateNameVariants(name string) []string {
	name = normalize(name)
	if name == "" {
		return nil
	}

	variants := []string{name}
	add := func(v string) {
		if !slices.Contains(variants, v) {
			variants = append(variants, v)
		}
	}
	parts := strings.Fields(name)
	if len(parts) > 1 {
		first, last := parts[0], parts[len(parts)-1]
		add(first + " " + last)

		var initials strings.Builder
		for _, p := range parts[:len(parts)-1] {
			initials.WriteString(firstRune(p))
		}
		add(initials.String() + ". " + last)
		add(firstRune(first) + ". " + last)
		add(last)
	}
	return variants
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

func (r *Resolver) keyLock(key string) *sync.Mutex {
	r.keyLocksMu.Lock()
	defer r.keyLocksMu.Unlock()
	l, ok := r.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[key] = l
	}
	return l
}

func union(dst map[string]struct{}, values ...string) {
	for _, v := range values {
		if v = normalize(v); v != "" {
			dst[v] = struct{}{}
		}
	}
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}

// Update 把档案并入实体表；没有姓名的档案被忽略并返回 false
// 身份 ID 在首次出现时确定，之后的更新只对技能、公司、院校集合做并集
func (r *Resolver) Update(p *types.CandidateProfile) bool {
	key := normalize(p.Name())
	if key == "" {
		return false
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	current := r.entries[key]
	r.mu.RUnlock()

	var next *types.EntityMapEntry
	if current == nil {
		aliases := make(map[string]struct{})
		for _, v := range GenerateNameVariants(key) {
			aliases[v] = struct{}{}
		}
		next = &types.EntityMapEntry{
			ID:           p.ID,
			Aliases:      aliases,
			Skills:       make(map[string]struct{}),
			Companies:    make(map[string]struct{}),
			Institutions: make(map[string]struct{}),
		}
	} else {
		next = &types.EntityMapEntry{
			ID:           current.ID,
			Aliases:      current.Aliases,
			Skills:       cloneSet(current.Skills),
			Companies:    cloneSet(current.Companies),
			Institutions: cloneSet(current.Institutions),
		}
	}

	for _, s := range p.Skills {
		union(next.Skills, s.Name)
	}
	for _, w := range p.WorkExperience {
		union(next.Companies, w.Company)
	}
	for _, e := range p.Education {
		if e.Institution != nil {
			union(next.Institutions, *e.Institution)
		}
	}

	r.mu.Lock()
	r.entries[key] = next
	r.mu.Unlock()

	r.logger.Debug().
		Str("name", key).
		Str("id", next.ID).
		Int("skills", len(next.Skills)).
		Int("companies", len(next.Companies)).
		Msg("实体表已更新")
	return true
}

// Resolve 先在候选集中做大小写无关的全名精确匹配，没有结果时再按别名匹配实体表中的身份
// 多个匹配全部返回，由调用方消歧
func (r *Resolver) Resolve(name string, candidates []*types.CandidateProfile) []*types.CandidateProfile {
	query := normalize(name)
	if query == "" {
		return nil
	}

	var matched []*types.CandidateProfile
	for _, c := range candidates {
		if c != nil && normalize(c.Name()) == query {
			matched = append(matched, c)
		}
	}
	if len(matched) > 0 {
		return matched
	}

	ids := make(map[string]struct{})
	r.mu.RLock()
	for _, entry := range r.entries {
		if _, ok := entry.Aliases[query]; ok {
			ids[entry.ID] = struct{}{}
		}
	}
	r.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if _, ok := ids[c.ID]; ok {
			matched = append(matched, c)
		}
	}
	return matched
}

// Lookup 返回某个全名的条目快照
func (r *Resolver) Lookup(name string) (types.EntityMapEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[normalize(name)]
	if !ok {
		return types.EntityMapEntry{}, false
	}
	return *entry, true
}

// Len 实体数量
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Describe 以可读形式输出某个实体，找不到时返回空串
func (r *Resolver) Describe(name string) string {
	entry, ok := r.Lookup(name)
	if !ok {
		return ""
	}
	keys := func(set map[string]struct{}) string {
		out := make([]string, 0, len(set))
		for k := range set {
			out = append(out, k)
		}
		sort.Strings(out)
		return strings.Join(out, ", ")
	}
	return fmt.Sprintf("%s (id=%s) skills=[%s] companies=[%s] institutions=[%s]",
		normalize(name), entry.ID, keys(entry.Skills), keys(entry.Companies), keys(entry.Institutions))
}
