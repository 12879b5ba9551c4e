package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

func annLee() *types.CandidateProfile {
	return &types.CandidateProfile{
		ID:           "cv-ann",
		PersonalInfo: types.PersonalInfo{Name: utils.StringPtr("Ann Lee")},
		Skills: []types.Skill{
			{Name: "Go", Category: utils.StringPtr("Programming Languages")},
			{Name: "Docker"},
			{Name: "Python", Category: utils.StringPtr("Programming Languages")},
		},
		Education: []types.Education{{
			Institution:  utils.StringPtr("IST"),
			Degree:       utils.StringPtr("MSc"),
			FieldOfStudy: utils.StringPtr("Informatics"),
			StartDate:    &types.PartialDate{Year: 2015, Month: 9},
			EndDate:      &types.PartialDate{Year: 2017},
		}},
		WorkExperience: []types.WorkExperience{{
			Company:     "Acme",
			Position:    "Backend Engineer",
			StartDate:   &types.PartialDate{Year: 2017, Month: 9},
			EndDate:     &types.PartialDate{Present: true},
			Description: utils.StringPtr("APIs"),
			Highlights:  []string{"h1", "h2", "h3", "h4"},
		}},
		Projects: []types.Project{
			{
				Name:         "CVBot",
				Description:  utils.StringPtr(strings.Repeat("x", 250)),
				Technologies: []string{"a", "b", "c", "d", "e", "f"},
			},
			{Name: "Tiny", Description: utils.StringPtr("short")},
		},
	}
}

func TestDetectFocus(t *testing.T) {
	assert.Equal(t, Focus{Skills: true}, DetectFocus("What SKILLS does she have?"))
	assert.Equal(t, Focus{Education: true, Experience: true}, DetectFocus("degree and job history"))
	assert.True(t, DetectFocus("Tell me about Ann").None())
	assert.True(t, DetectFocus("show her portfolio").Projects)
}

func TestBuildFocusedContext_SkillsOnly(t *testing.T) {
	got := BuildFocusedContext([]*types.CandidateProfile{annLee()}, "What skills does Ann Lee have?")
	assert.Equal(t, "--- CV #1 ---\nName: Ann Lee\n\nSkills:\n- Programming Languages: Go, Python\n- Other: Docker\n", got)
}

func TestBuildFocusedContext_NoFocusShowsCoreSections(t *testing.T) {
	got := BuildFocusedContext([]*types.CandidateProfile{annLee()}, "Tell me about Ann")
	assert.Equal(t, "--- CV #1 ---\nName: Ann Lee\n"+
		"\nSkills:\n- Programming Languages: Go, Python\n- Other: Docker\n"+
		"\nEducation:\n- MSc in Informatics at IST\n"+
		"\nWork Experience:\n- Backend Engineer at Acme\n", got)
}

func TestBuildFocusedContext_WorkDetails(t *testing.T) {
	got := BuildFocusedContext([]*types.CandidateProfile{annLee()}, "When did she work and what did she accomplish, in detail?")
	assert.Equal(t, "--- CV #1 ---\nName: Ann Lee\n"+
		"\nWork Experience:\n- Backend Engineer at Acme (2017-Present)\n"+
		"  Description: APIs\n"+
		"  Highlights:\n   - h1\n   - h2\n   - h3\n", got)
}

func TestBuildFocusedContext_EducationYears(t *testing.T) {
	got := BuildFocusedContext([]*types.CandidateProfile{annLee()}, "Which university, and what year?")
	assert.Equal(t, "--- CV #1 ---\nName: Ann Lee\n\nEducation:\n- MSc in Informatics at IST (2015-2017)\n", got)
}

func TestBuildFocusedContext_Projects(t *testing.T) {
	got := BuildFocusedContext([]*types.CandidateProfile{annLee()}, "Which projects has she done?")
	assert.Equal(t, "--- CV #1 ---\nName: Ann Lee\n"+
		"\nProjects:\n- CVBot (Technologies: a, b, c, d, e)\n"+
		"  Description: "+strings.Repeat("x", 200)+"...\n"+
		"- Tiny\n", got)
}

func TestBuildFocusedContext_MultipleProfiles(t *testing.T) {
	anon := &types.CandidateProfile{Skills: []types.Skill{{Name: "Rust"}}}
	got := BuildFocusedContext([]*types.CandidateProfile{annLee(), anon}, "skills")
	assert.Equal(t, "--- CV #1 ---\nName: Ann Lee\n\nSkills:\n- Programming Languages: Go, Python\n- Other: Docker\n"+
		"\n\n"+
		"--- CV #2 ---\n\nSkills:\n- Other: Rust\n", got)

	assert.Empty(t, BuildFocusedContext(nil, "skills"))
}
