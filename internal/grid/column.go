// Package grid reconciles heterogeneous records into one tabular model: a
// growing set of column descriptors with a stable display order, and rows
// merged field by field.
package grid

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// RenderHint tells the presentation layer how to draw a column.
type RenderHint string

// Render hints derived from field names.
const (
	HintText       RenderHint = "text"
	HintBoolean    RenderHint = "boolean"
	HintStatus     RenderHint = "status"
	HintTags       RenderHint = "tags"
	HintLongText   RenderHint = "long_text"
	HintMediumText RenderHint = "medium_text"
	HintError      RenderHint = "error"
)

// DefaultWidth is used for fields without a more specific rule.
const DefaultWidth = 150

// Column describes one discovered field.
type Column struct {
	Field       string     `json:"field"`
	DisplayName string     `json:"headerName"`
	Width       int        `json:"width"`
	RenderHint  RenderHint `json:"renderHint"`
}

// CanonicalOrder is the display order of known domain fields. Fields not
// listed sort after these.
var CanonicalOrder = []string{
	catalog.FieldID,
	catalog.FieldCourseID,
	catalog.FieldSmartID,
	catalog.FieldOriginalID,

	catalog.FieldUniversity,
	catalog.FieldTitle,
	"subtitle",
	catalog.FieldLocation,
	catalog.FieldDescription,

	catalog.FieldDegree,
	catalog.FieldDegreeDetail,
	"study_length_semester",
	"credits_ects",

	"is_fulltime",
	"is_parttime",
	"is_dual",
	"is_fern",
	"is_employment_adjunct",

	"study_language_deutsch",
	"study_language_englisch",
	"study_language_franzoesisch",
	"study_language_spanisch",

	"has_study_abroad",
	"has_mandatory_internship",

	"zulassungsmodus",
	"required_english_skills",

	"study_tuition_semester_eur",
	"fees_application_eur",
	"fees_enrollment_eur",

	"start_date_winter",
	"deadline_winter_date",
	"deadline_winter_text",
	"deadline_winter_sort",

	"start_date_summer",
	"deadline_summer_date",
	"deadline_summer_text",
	"deadline_summer_sort",

	catalog.FieldStatus,
	catalog.FieldStudyURL,
	catalog.FieldOriginalURL,
	catalog.FieldUpdatedURL,
	catalog.FieldScrapedAt,

	"is_active",
	"Comments",

	// Legacy raw import fields.
	"study_semester",
	"start_winter",
	"deadline_winter",
	"start_summer",
	"deadline_summer",
}

var canonicalRank = func() map[string]int {
	m := make(map[string]int, len(CanonicalOrder))
	for i, f := range CanonicalOrder {
		if _, dup := m[f]; !dup {
			m[f] = i
		}
	}
	return m
}()

// Describe derives the descriptor of a field from its name.
func Describe(field string) Column {
	col := Column{Field: field, DisplayName: displayName(field), Width: DefaultWidth, RenderHint: HintText}
	switch {
	case field == catalog.FieldError:
		col.RenderHint = HintError
	case field == catalog.FieldDetails:
		col.Width = 300
	case field == catalog.FieldStatus:
		col.RenderHint = HintStatus
	case strings.HasPrefix(field, "is_"), strings.HasPrefix(field, "has_"):
		col.RenderHint = HintBoolean
		col.Width = 100
	case strings.Contains(field, "description"):
		col.RenderHint = HintLongText
		col.Width = 400
	case strings.Contains(field, "deadline"):
		col.RenderHint = HintMediumText
		col.Width = 200
	case field == "tags":
		col.RenderHint = HintTags
		col.Width = 250
	}
	return col
}

func displayName(field string) string {
	r, size := utf8.DecodeRuneInString(field)
	if r == utf8.RuneError {
		return field
	}
	return string(unicode.ToUpper(r)) + field[size:]
}

// rank orders error, then details, then canonical fields; unknown fields
// share the last rank.
func rank(field string) int {
	switch field {
	case catalog.FieldError:
		return 0
	case catalog.FieldDetails:
		return 1
	}
	if i, ok := canonicalRank[field]; ok {
		return 2 + i
	}
	return 2 + len(CanonicalOrder)
}

// SortColumns orders cols in place. The sort is stable, so unknown fields
// keep their relative order.
func SortColumns(cols []Column) {
	slices.SortStableFunc(cols, func(a, b Column) int {
		return rank(a.Field) - rank(b.Field)
	})
}

// LayoutFunc applies saved presentation preferences to a sorted column list.
type LayoutFunc func([]Column) []Column

// WidthOverrides returns a LayoutFunc that replaces the width of every column
// listed in widths. Non-positive widths are ignored.
func WidthOverrides(widths map[string]int) LayoutFunc {
	return func(cols []Column) []Column {
		for i := range cols {
			if w, ok := widths[cols[i].Field]; ok && w > 0 {
				cols[i].Width = w
			}
		}
		return cols
	}
}
