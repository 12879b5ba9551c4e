package parser

import (
	"fmt"
	"strings"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// 这些分类的技能行重复一次以提高其在向量中的权重
var weightedSkillCategories = map[string]bool{
	"Programming Languages": true,
	"Frameworks":            true,
	"Technologies":          true,
}

// EmbeddingText 生成用于向量化的档案文本
func EmbeddingText(p *types.CandidateProfile) string {
	var parts []string

	if name := p.Name(); name != "" {
		parts = append(parts, "Name: "+name)
	}

	categories, byCategory := groupSkills(p.Skills)
	for _, category := range categories {
		line := fmt.Sprintf("%s Skills: %s", category, strings.Join(byCategory[category], ", "))
		parts = append(parts, line)
		if weightedSkillCategories[category] {
			parts = append(parts, line)
		}
	}

	for _, w := range p.WorkExperience {
		if w.Position != "" && w.Company != "" {
			line := fmt.Sprintf("Position: %s at %s", w.Position, w.Company)
			parts = append(parts, line, line)
		}
		if len(w.Highlights) > 0 {
			parts = append(parts, "Work Highlights: "+strings.Join(w.Highlights, ". "))
		}
	}

	for _, e := range p.Education {
		if e.Degree == nil || e.Institution == nil {
			continue
		}
		line := "Education: " + *e.Degree
		if e.FieldOfStudy != nil {
			line += " in " + *e.FieldOfStudy
		}
		parts = append(parts, line+" at "+*e.Institution)
	}

	return strings.Join(parts, "\n")
}

// groupSkills 按首次出现顺序分组，无分类归入 "Other"
func groupSkills(skills []types.Skill) ([]string, map[string][]string) {
	var order []string
	grouped := make(map[string][]string)
	for _, s := range skills {
		category := "Other"
		if s.Category != nil && *s.Category != "" {
			category = *s.Category
		}
		if _, ok := grouped[category]; !ok {
			order = append(order, category)
		}
		grouped[category] = append(grouped[category], s.Name)
	}
	return order, grouped
}
