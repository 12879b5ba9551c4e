package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// 模型输出文档中的中间结构，数字与字符串之间按弱类型转换
type rawPersonalInfo struct {
	Name     *string `mapstructure:"name"`
	Email    *string `mapstructure:"email"`
	Phone    *string `mapstructure:"phone"`
	Location *string `mapstructure:"location"`
	LinkedIn *string `mapstructure:"linkedin"`
	GitHub   *string `mapstructure:"github"`
	Website  *string `mapstructure:"website"`
}

type rawEducation struct {
	Institution  *string `mapstructure:"institution"`
	Degree       *string `mapstructure:"degree"`
	FieldOfStudy *string `mapstructure:"field_of_study"`
	StartDate    *string `mapstructure:"start_date"`
	EndDate      *string `mapstructure:"end_date"`
	GPA          *string `mapstructure:"gpa"`
}

type rawWorkExperience struct {
	Company     *string  `mapstructure:"company"`
	Position    *string  `mapstructure:"position"`
	StartDate   *string  `mapstructure:"start_date"`
	EndDate     *string  `mapstructure:"end_date"`
	Location    *string  `mapstructure:"location"`
	Description *string  `mapstructure:"description"`
	Highlights  []string `mapstructure:"highlights"`
}

type rawSkill struct {
	Name     *string `mapstructure:"name"`
	Category *string `mapstructure:"category"`
}

type rawProject struct {
	Name         *string  `mapstructure:"name"`
	Description  *string  `mapstructure:"description"`
	Technologies []string `mapstructure:"technologies"`
	StartDate    *string  `mapstructure:"start_date"`
	EndDate      *string  `mapstructure:"end_date"`
	URL          *string  `mapstructure:"url"`
}

type rawCertification struct {
	Name           *string `mapstructure:"name"`
	Issuer         *string `mapstructure:"issuer"`
	URL            *string `mapstructure:"url"`
	Date           *string `mapstructure:"date"`
	ExpirationDate *string `mapstructure:"expiration_date"`
}

func decodeWeak(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return nil
}

// clean 去掉首尾空白，空串与 "null" 视为缺失
func clean(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func parseDate(s *string) *types.PartialDate {
	if s = clean(s); s == nil {
		return nil
	}
	d, ok := types.ParsePartialDate(*s)
	if !ok {
		return nil
	}
	return d
}

var leadingNumber = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

func parseGPA(s *string) *float64 {
	if s = clean(s); s == nil {
		return nil
	}
	m := leadingNumber.FindString(*s)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &f
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orEmpty(s *string) string {
	if s = clean(s); s == nil {
		return ""
	}
	return *s
}

// NormalizeSkills 将三种技能形状统一为 (name, category) 列表：
// 按分类的对象 {"分类": ["a"]}、字符串数组 ["a"]、对象数组 [{"name": "a", "category": "c"}]
func NormalizeSkills(v any) []types.Skill {
	skills := []types.Skill{}
	switch shape := v.(type) {
	case map[string]any:
		categories := make([]string, 0, len(shape))
		for category := range shape {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			cat := category
			for _, item := range asList(shape[category]) {
				name, ok := item.(string)
				if !ok || strings.TrimSpace(name) == "" {
					continue
				}
				skills = append(skills, types.Skill{Name: strings.TrimSpace(name), Category: clean(&cat)})
			}
		}
	case []any:
		for _, item := range shape {
			switch s := item.(type) {
			case string:
				if name := strings.TrimSpace(s); name != "" {
					skills = append(skills, types.Skill{Name: name})
				}
			case map[string]any:
				var raw rawSkill
				if err := decodeWeak(s, &raw); err != nil {
					continue
				}
				if name := clean(raw.Name); name != nil {
					skills = append(skills, types.Skill{Name: *name, Category: clean(raw.Category)})
				}
			}
		}
	}
	return skills
}

// MapProfile 将模型输出文档映射到档案结构
// 所有集合字段先重置为空列表；个人信息中为 null 的字段保留 base 的已知值
func MapProfile(doc map[string]any, base *types.CandidateProfile) (*types.CandidateProfile, []error) {
	profile := &types.CandidateProfile{}
	if base != nil {
		profile.ID = base.ID
		profile.RawText = base.RawText
		profile.PersonalInfo = base.PersonalInfo
	}
	profile.ResetCollections()

	var warnings []error
	warn := func(section string, i int, err error) {
		warnings = append(warnings, fmt.Errorf("%s[%d]: %w", section, i, err))
	}

	if pi, ok := doc["personal_information"].(map[string]any); ok {
		var raw rawPersonalInfo
		if err := decodeWeak(pi, &raw); err != nil {
			warn("personal_information", 0, err)
		} else {
			merge := func(dst **string, v *string) {
				if v = clean(v); v != nil {
					*dst = v
				}
			}
			merge(&profile.PersonalInfo.Name, raw.Name)
			merge(&profile.PersonalInfo.Email, raw.Email)
			merge(&profile.PersonalInfo.Phone, raw.Phone)
			merge(&profile.PersonalInfo.Location, raw.Location)
			merge(&profile.PersonalInfo.LinkedIn, raw.LinkedIn)
			merge(&profile.PersonalInfo.GitHub, raw.GitHub)
			merge(&profile.PersonalInfo.Website, raw.Website)
		}
	}

	for i, item := range asList(doc["education"]) {
		var raw rawEducation
		if err := decodeWeak(item, &raw); err != nil {
			warn("education", i, err)
			continue
		}
		profile.Education = append(profile.Education, types.Education{
			Institution:  clean(raw.Institution),
			Degree:       clean(raw.Degree),
			FieldOfStudy: clean(raw.FieldOfStudy),
			StartDate:    parseDate(raw.StartDate),
			EndDate:      parseDate(raw.EndDate),
			GPA:          parseGPA(raw.GPA),
		})
	}

	for i, item := range asList(doc["work_experience"]) {
		var raw rawWorkExperience
		if err := decodeWeak(item, &raw); err != nil {
			warn("work_experience", i, err)
			continue
		}
		profile.WorkExperience = append(profile.WorkExperience, types.WorkExperience{
			Company:     orEmpty(raw.Company),
			Position:    orEmpty(raw.Position),
			StartDate:   parseDate(raw.StartDate),
			EndDate:     parseDate(raw.EndDate),
			Location:    clean(raw.Location),
			Description: clean(raw.Description),
			Highlights:  cleanList(raw.Highlights),
		})
	}

	profile.Skills = NormalizeSkills(doc["skills"])

	for i, item := range asList(doc["projects"]) {
		var raw rawProject
		if err := decodeWeak(item, &raw); err != nil {
			warn("projects", i, err)
			continue
		}
		name := clean(raw.Name)
		if name == nil {
			continue
		}
		profile.Projects = append(profile.Projects, types.Project{
			Name:         *name,
			Description:  clean(raw.Description),
			Technologies: cleanList(raw.Technologies),
			StartDate:    parseDate(raw.StartDate),
			EndDate:      parseDate(raw.EndDate),
			URL:          clean(raw.URL),
		})
	}

	for i, item := range asList(doc["certifications"]) {
		var raw rawCertification
		if err := decodeWeak(item, &raw); err != nil {
			warn("certifications", i, err)
			continue
		}
		name := clean(raw.Name)
		if name == nil {
			continue
		}
		profile.Certifications = append(profile.Certifications, types.Certification{
			Name:           *name,
			Issuer:         clean(raw.Issuer),
			URL:            clean(raw.URL),
			Date:           parseDate(raw.Date),
			ExpirationDate: parseDate(raw.ExpirationDate),
		})
	}

	return profile, warnings
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func dateOrNil(d *types.PartialDate) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func stringList(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// ProfileDocument MapProfile 的逆映射，输出与模型文档相同的形状（技能为对象数组）
func ProfileDocument(p *types.CandidateProfile) map[string]any {
	pi := p.PersonalInfo
	doc := map[string]any{
		"personal_information": map[string]any{
			"name":     strOrNil(pi.Name),
			"email":    strOrNil(pi.Email),
			"phone":    strOrNil(pi.Phone),
			"location": strOrNil(pi.Location),
			"linkedin": strOrNil(pi.LinkedIn),
			"github":   strOrNil(pi.GitHub),
			"website":  strOrNil(pi.Website),
		},
	}

	education := make([]any, 0, len(p.Education))
	for _, e := range p.Education {
		var gpa any
		if e.GPA != nil {
			gpa = *e.GPA
		}
		education = append(education, map[string]any{
			"institution":    strOrNil(e.Institution),
			"degree":         strOrNil(e.Degree),
			"field_of_study": strOrNil(e.FieldOfStudy),
			"start_date":     dateOrNil(e.StartDate),
			"end_date":       dateOrNil(e.EndDate),
			"gpa":            gpa,
		})
	}
	doc["education"] = education

	work := make([]any, 0, len(p.WorkExperience))
	for _, w := range p.WorkExperience {
		work = append(work, map[string]any{
			"company":     w.Company,
			"position":    w.Position,
			"start_date":  dateOrNil(w.StartDate),
			"end_date":    dateOrNil(w.EndDate),
			"location":    strOrNil(w.Location),
			"description": strOrNil(w.Description),
			"highlights":  stringList(w.Highlights),
		})
	}
	doc["work_experience"] = work

	skills := make([]any, 0, len(p.Skills))
	for _, s := range p.Skills {
		skills = append(skills, map[string]any{"name": s.Name, "category": strOrNil(s.Category)})
	}
	doc["skills"] = skills

	projects := make([]any, 0, len(p.Projects))
	for _, pr := range p.Projects {
		projects = append(projects, map[string]any{
			"name":         pr.Name,
			"description":  strOrNil(pr.Description),
			"technologies": stringList(pr.Technologies),
			"start_date":   dateOrNil(pr.StartDate),
			"end_date":     dateOrNil(pr.EndDate),
			"url":          strOrNil(pr.URL),
		})
	}
	doc["projects"] = projects

	certs := make([]any, 0, len(p.Certifications))
	for _, c := range p.Certifications {
		certs = append(certs, map[string]any{
			"name":            c.Name,
			"issuer":          strOrNil(c.Issuer),
			"url":             strOrNil(c.URL),
			"date":            dateOrNil(c.Date),
			"expiration_date": dateOrNil(c.ExpirationDate),
		})
	}
	doc["certifications"] = certs

	return doc
}
