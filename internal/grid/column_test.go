package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		field string
		width int
		hint  RenderHint
	}{
		{"error", 150, HintError},
		{"details", 300, HintText},
		{"is_dual", 100, HintBoolean},
		{"has_study_abroad", 100, HintBoolean},
		{"description", 400, HintLongText},
		{"short_description", 400, HintLongText},
		{"deadline_winter_text", 200, HintMediumText},
		{"tags", 250, HintTags},
		{"scrape_status", 150, HintStatus},
		{"title", 150, HintText},
	}
	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			col := Describe(tc.field)
			assert.Equal(t, tc.width, col.Width)
			assert.Equal(t, tc.hint, col.RenderHint)
		})
	}
}

func TestDescribeCapitalizesDisplayName(t *testing.T) {
	assert.Equal(t, "Title", Describe("title").DisplayName)
	assert.Equal(t, "ÜberFeld", Describe("überFeld").DisplayName)
	assert.Equal(t, "", Describe("").DisplayName)
}

func TestSortColumnsPutsErrorFirstAndUnknownLast(t *testing.T) {
	cols := []Column{
		Describe("zeta_custom"),
		Describe("scrape_status"),
		Describe("title"),
		Describe("alpha_custom"),
		Describe("details"),
		Describe("id"),
		Describe("error"),
	}
	SortColumns(cols)

	var fields []string
	for _, c := range cols {
		fields = append(fields, c.Field)
	}
	require.Equal(t, []string{"error", "details", "id", "title", "scrape_status", "zeta_custom", "alpha_custom"}, fields)
}

func TestWidthOverrides(t *testing.T) {
	layout := WidthOverrides(map[string]int{"title": 320, "id": 0})
	cols := layout([]Column{Describe("id"), Describe("title")})
	assert.Equal(t, DefaultWidth, cols[0].Width)
	assert.Equal(t, 320, cols[1].Width)
}
