package parser_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/llm"
	"github.com/mdad-elec/cv-analysis-system/pkg/ratelimit"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

const modelReply = "Sure! Here is the structured CV:\n```json\n" + `{
  "personal_information": {"name": "Ann Lee", "email": null, "phone": null, "location": "Lisbon", "linkedin": null, "github": null, "website": null},
  "education": [{"institution": "IST", "degree": "MSc", "field_of_study": "Informatics", "start_date": "2015-09", "end_date": "2017-07", "gpa": "17/20"}],
  "work_experience": [{"company": "Acme", "position": "Backend Engineer", "start_date": "2017-09", "end_date": "Present", "location": null, "description": "APIs", "highlights": ["Led migration to Go"],}],
  "skills": {"Programming Languages": ["Go", "Python"], "Tools": ["Docker"]},
  "projects": [],
  "certifications": [{"name": "CKA", "issuer": "CNCF", "date": "2021-05"}]
}` + "\n```"

func fastRetry() ratelimit.RetryPolicy {
	return ratelimit.RetryPolicy{Attempts: 3, Backoff: func(int) time.Duration { return 0 }}
}

func newExtractor(m *llm.MockChatModel) *parser.LLMProfileExtractor {
	return parser.NewLLMProfileExtractor(m,
		parser.WithExtractorRetryPolicy(fastRetry()),
		parser.WithExtractorLogger(zerolog.Nop()),
	)
}

func TestLLMProfileExtractor_Extract(t *testing.T) {
	mock := llm.NewMockChatModel(modelReply, nil)
	profile, err := newExtractor(mock).Extract(context.Background(), "Ann Lee\nBackend Engineer at Acme")
	require.NoError(t, err)

	assert.Equal(t, "Ann Lee", profile.Name())
	assert.Equal(t, "Ann Lee\nBackend Engineer at Acme", profile.RawText)
	require.Len(t, profile.Education, 1)
	assert.InDelta(t, 17.0, *profile.Education[0].GPA, 1e-9)
	require.Len(t, profile.WorkExperience, 1)
	assert.True(t, profile.WorkExperience[0].EndDate.Present)
	assert.Equal(t, []string{"Led migration to Go"}, profile.WorkExperience[0].Highlights)
	assert.Len(t, profile.Skills, 3)
	assert.Empty(t, profile.Projects)
	require.Len(t, profile.Certifications, 1)
	assert.Equal(t, "2021-05", profile.Certifications[0].Date.String())

	calls := mock.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 1)
	assert.Contains(t, calls[0].Messages[0].Content, "Raw CV text:\nAnn Lee\nBackend Engineer at Acme")
	assert.Equal(t, 4000, *calls[0].Options.MaxTokens)
}

func TestLLMProfileExtractor_RetriesThenSucceeds(t *testing.T) {
	mock := llm.NewMockChatModelSequential([]llm.MockResponse{
		{Error: errors.New("connection reset by peer")},
		{Error: errors.New("503 overloaded")},
		{Content: modelReply},
	})
	profile, err := newExtractor(mock).Extract(context.Background(), "Ann Lee")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", profile.Name())
	assert.Equal(t, 3, mock.CallCount())
}

func TestLLMProfileExtractor_RetriesExhausted(t *testing.T) {
	mock := llm.NewMockChatModel("", errors.New("timeout"))
	_, err := newExtractor(mock).Extract(context.Background(), "Ann Lee")
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrRetriesExhausted)
	assert.True(t, strings.HasPrefix(err.Error(), "LLM Generate failed"))
	assert.Equal(t, 3, mock.CallCount())
}

func TestLLMProfileExtractor_EnhanceDegradesOnGarbage(t *testing.T) {
	base := &types.CandidateProfile{
		ID:           "cv-9",
		RawText:      "Jane Doe jane@example.com",
		PersonalInfo: types.PersonalInfo{Email: utils.StringPtr("jane@example.com")},
	}
	mock := llm.NewMockChatModel("I'm sorry, I cannot help with that.", nil)

	got, err := newExtractor(mock).Enhance(context.Background(), base)
	require.NoError(t, err)
	assert.Same(t, base, got)
}

func TestLLMProfileExtractor_EnhanceMergesPrefill(t *testing.T) {
	base := &types.CandidateProfile{
		ID:           "cv-9",
		RawText:      "Ann Lee ann@example.com",
		PersonalInfo: types.PersonalInfo{Email: utils.StringPtr("ann@example.com")},
	}
	got, err := newExtractor(llm.NewMockChatModel(modelReply, nil)).Enhance(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, "cv-9", got.ID)
	assert.Equal(t, "ann@example.com", *got.PersonalInfo.Email)
	assert.Equal(t, "Lisbon", *got.PersonalInfo.Location)
}

func TestLLMProfileExtractor_EmptyText(t *testing.T) {
	mock := llm.NewMockChatModel(modelReply, nil)
	_, err := newExtractor(mock).Extract(context.Background(), "   ")
	assert.ErrorIs(t, err, parser.ErrEmptyText)
	assert.Zero(t, mock.CallCount())
}

func TestBuildParsingPrompt(t *testing.T) {
	prompt := parser.BuildParsingPrompt("RAW")
	assert.True(t, strings.HasPrefix(prompt, "You are an expert CV/resume parser."))
	assert.Contains(t, prompt, "Raw CV text:\nRAW\n\nRespond with a JSON object")
	assert.Contains(t, prompt, "use null instead of leaving it blank")
}

func TestEmbeddingText(t *testing.T) {
	lang, tools := "Programming Languages", "Tools"
	p := &types.CandidateProfile{
		PersonalInfo: types.PersonalInfo{Name: utils.StringPtr("Ann Lee")},
		Skills: []types.Skill{
			{Name: "Go", Category: &lang},
			{Name: "Docker", Category: &tools},
			{Name: "Python", Category: &lang},
			{Name: "Teamwork"},
		},
		WorkExperience: []types.WorkExperience{{Company: "Acme", Position: "Engineer", Highlights: []string{"Shipped", "Scaled"}}},
		Education: []types.Education{
			{Degree: utils.StringPtr("MSc"), FieldOfStudy: utils.StringPtr("Informatics"), Institution: utils.StringPtr("IST")},
			{Degree: utils.StringPtr("BSc")},
		},
	}

	want := strings.Join([]string{
		"Name: Ann Lee",
		"Programming Languages Skills: Go, Python",
		"Programming Languages Skills: Go, Python",
		"Tools Skills: Docker",
		"Other Skills: Teamwork",
		"Position: Engineer at Acme",
		"Position: Engineer at Acme",
		"Work Highlights: Shipped. Scaled",
		"Education: MSc in Informatics at IST",
	}, "\n")
	assert.Equal(t, want, parser.EmbeddingText(p))
}
