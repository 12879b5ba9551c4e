package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

func TestProfilesXLSX(t *testing.T) {
	profiles := []*types.CandidateProfile{
		{
			ID: "d1",
			PersonalInfo: types.PersonalInfo{
				Name:  utils.StringPtr("Ann Lee"),
				Email: utils.StringPtr("ann@example.com"),
			},
			WorkExperience: []types.WorkExperience{
				{Company: "Acme", Position: "Engineer"},
				{Company: "Initech", Position: "Intern"},
			},
			Education: []types.Education{
				{Institution: utils.StringPtr("MIT"), Degree: utils.StringPtr("BSc")},
			},
			Skills: []types.Skill{{Name: "Go"}, {Name: "SQL"}},
		},
		nil,
		{ID: "d2"},
	}

	data, err := ProfilesXLSX(profiles)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Headers, rows[0])

	first := rows[1]
	assert.Equal(t, "d1", first[0])
	assert.Equal(t, "Ann Lee", first[1])
	assert.Equal(t, "ann@example.com", first[2])
	assert.Equal(t, "Engineer", first[7])
	assert.Equal(t, "Acme", first[8])
	assert.Equal(t, "Acme; Initech", first[9])
	assert.Equal(t, "BSc, MIT", first[10])
	assert.Equal(t, "Go, SQL", first[11])

	// 空单元格在行尾会被截掉
	assert.Equal(t, "d2", rows[2][0])
}
