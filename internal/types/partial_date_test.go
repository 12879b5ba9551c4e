package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartialDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2020", "2020", true},
		{"2020-03", "2020-03", true},
		{"2020/03", "2020-03", true},
		{"03/2020", "2020-03", true},
		{"Mar 2020", "2020-03", true},
		{"March 2020", "2020-03", true},
		{"Sept. 2015", "2015-09", true},
		{"Jan, 2019", "2019-01", true},
		{"2021-05-17", "2021-05-17", true},
		{"17 May 2021", "2021-05-17", true},
		{"Present", "Present", true},
		{"current", "Present", true},
		{"  ", "", false},
		{"sometime soon", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := ParsePartialDate(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, d.String())
			}
		})
	}
}

func TestPartialDateJSON(t *testing.T) {
	type holder struct {
		Start *PartialDate `json:"start"`
		End   *PartialDate `json:"end"`
	}
	in := holder{Start: &PartialDate{Year: 2019, Month: 4}, End: &PartialDate{Present: true}}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2019-04","end":"Present"}`, string(raw))

	var out holder
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"start":"whenever"}`), &out))
}

func TestPartialDateYearLabel(t *testing.T) {
	var nilDate *PartialDate
	assert.Equal(t, "", nilDate.YearLabel())
	assert.Equal(t, "2018", (&PartialDate{Year: 2018, Month: 2}).YearLabel())
	assert.Equal(t, "Present", (&PartialDate{Present: true}).YearLabel())
}

func TestDocumentTypeFromFilename(t *testing.T) {
	dt, ok := DocumentTypeFromFilename("Resume.PDF")
	assert.True(t, ok)
	assert.True(t, dt.PageBased())

	dt, ok = DocumentTypeFromFilename("cv.docx")
	assert.True(t, ok)
	assert.False(t, dt.PageBased())

	_, ok = DocumentTypeFromFilename("cv.txt")
	assert.False(t, ok)
}
