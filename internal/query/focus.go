package query

import (
	"fmt"
	"strings"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

// Focus 查询关注的档案部分
type Focus struct {
	Skills     bool
	Education  bool
	Experience bool
	Projects   bool
}

var (
	skillTerms      = []string{"skill", "technology", "know", "proficiency"}
	educationTerms  = []string{"education", "degree", "university", "school", "college", "academic", "institution"}
	experienceTerms = []string{"experience", "work", "job", "position"}
	projectTerms    = []string{"project", "portfolio", "build"}
)

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// DetectFocus 按关键词判断查询关注的部分，可同时命中多个
func DetectFocus(query string) Focus {
	q := strings.ToLower(query)
	return Focus{
		Skills:     containsAny(q, skillTerms...),
		Education:  containsAny(q, educationTerms...),
		Experience: containsAny(q, experienceTerms...),
		Projects:   containsAny(q, projectTerms...),
	}
}

// None 没有命中任何关注点
func (f Focus) None() bool {
	return !f.Skills && !f.Education && !f.Experience && !f.Projects
}

func (f Focus) showSkills() bool {
	return f.Skills || (!f.Education && !f.Experience && !f.Projects)
}

func (f Focus) showEducation() bool {
	return f.Education || (!f.Skills && !f.Experience && !f.Projects)
}

func (f Focus) showExperience() bool {
	return f.Experience || (!f.Skills && !f.Education && !f.Projects)
}

const maxHighlights, maxTechnologies, maxProjectDescription = 3, 5, 200

func dateRange(start, end *types.PartialDate) string {
	if start == nil || end == nil {
		return ""
	}
	return fmt.Sprintf(" (%s-%s)", start.YearLabel(), end.YearLabel())
}

// BuildFocusedContext 为每个档案生成只包含相关部分的文本，档案之间以空行分隔
func BuildFocusedContext(profiles []*types.CandidateProfile, query string) string {
	q := strings.ToLower(query)
	focus := DetectFocus(query)
	askWhen := containsAny(q, "when", "year")
	askDuration := askWhen || strings.Contains(q, "how long")
	askDetail := containsAny(q, "detail", "responsibility")
	askAchievement := containsAny(q, "accomplish", "achievement")
	showProjects := focus.Projects || strings.Contains(q, "project")

	blocks := make([]string, 0, len(profiles))
	for i, p := range profiles {
		var b strings.Builder
		fmt.Fprintf(&b, "--- CV #%d ---\n", i+1)
		if name := p.Name(); name != "" {
			fmt.Fprintf(&b, "Name: %s\n", name)
		}

		if len(p.Skills) > 0 && focus.showSkills() {
			b.WriteString("\nSkills:\n")
			categories, grouped := groupSkills(p.Skills)
			for _, category := range categories {
				fmt.Fprintf(&b, "- %s: %s\n", category, strings.Join(grouped[category], ", "))
			}
		}

		if len(p.Education) > 0 && focus.showEducation() {
			b.WriteString("\nEducation:\n")
			for _, e := range p.Education {
				fmt.Fprintf(&b, "- %s", utils.Deref(e.Degree))
				if e.FieldOfStudy != nil {
					fmt.Fprintf(&b, " in %s", *e.FieldOfStudy)
				}
				fmt.Fprintf(&b, " at %s", utils.Deref(e.Institution))
				if askWhen {
					b.WriteString(dateRange(e.StartDate, e.EndDate))
				}
				b.WriteString("\n")
			}
		}

		if len(p.WorkExperience) > 0 && focus.showExperience() {
			b.WriteString("\nWork Experience:\n")
			for _, w := range p.WorkExperience {
				fmt.Fprintf(&b, "- %s at %s", w.Position, w.Company)
				if askDuration {
					b.WriteString(dateRange(w.StartDate, w.EndDate))
				}
				b.WriteString("\n")

				if w.Description != nil && askDetail {
					fmt.Fprintf(&b, "  Description: %s\n", *w.Description)
				}
				if len(w.Highlights) > 0 && askAchievement {
					b.WriteString("  Highlights:\n")
					for j, h := range w.Highlights {
						if j == maxHighlights {
							break
						}
						fmt.Fprintf(&b, "   - %s\n", h)
					}
				}
			}
		}

		if len(p.Projects) > 0 && showProjects {
			b.WriteString("\nProjects:\n")
			for _, pr := range p.Projects {
				fmt.Fprintf(&b, "- %s", pr.Name)
				if len(pr.Technologies) > 0 {
					techs := pr.Technologies
					if len(techs) > maxTechnologies {
						techs = techs[:maxTechnologies]
					}
					fmt.Fprintf(&b, " (Technologies: %s)", strings.Join(techs, ", "))
				}
				b.WriteString("\n")

				if pr.Description != nil && len([]rune(*pr.Description)) > 10 {
					desc := []rune(*pr.Description)
					short := string(desc)
					if len(desc) > maxProjectDescription {
						short = string(desc[:maxProjectDescription]) + "..."
					}
					fmt.Fprintf(&b, "  Description: %s\n", short)
				}
			}
		}

		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// groupSkills 按首次出现的分类分组，无分类归入 "Other"
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
