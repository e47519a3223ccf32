package enrich

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/JakeFAU/course-enricher/internal/catalog"
	"github.com/JakeFAU/course-enricher/internal/extract"
)

// Placeholders written when the model leaves a required field empty.
const (
	UnknownUniversity = "Unknown University"
	UnknownTitle      = "Unknown Title"
	UnknownLocation   = "Unknown Location"
	UnknownAdmission  = "Unknown"
)

// scrapedAtLayout matches JavaScript's Date.toISOString.
const scrapedAtLayout = "2006-01-02T15:04:05.000Z"

// MapProgram flattens an extracted program onto record fields. Every field is
// always present, so mapping the same program twice gives equal records with
// the same key order. Status fields are not part of the mapping.
func MapProgram(p extract.Program, originalURL string) catalog.Record {
	tuition := p.StudyTuitionSemester
	if !tuition.Valid || tuition.Value == 0 {
		tuition = p.Fees.StudyTuitionSemester
	}
	return catalog.NewRecord(
		catalog.FieldOriginalURL, originalURL,
		catalog.FieldUpdatedURL, p.UpdatedURL.OrNil(),
		catalog.FieldUniversity, p.UniversityName.Or(UnknownUniversity),
		catalog.FieldTitle, p.Title.Or(UnknownTitle),
		"subtitle", p.Subtitle.OrNil(),
		catalog.FieldLocation, p.Location.Or(UnknownLocation),
		catalog.FieldDescription, p.Description.Or(""),
		catalog.FieldDegree, p.Degree.Or(""),
		catalog.FieldDegreeDetail, p.DegreeSpecification.Or(""),
		"study_length_semester", number(p.StudyLengthSemester.OrZero()),
		"credits_ects", nullableNumber(p.CreditsECTS),
		"is_fulltime", bool(p.StudyTypes.IsFulltime),
		"is_parttime", bool(p.StudyTypes.IsParttime),
		"is_dual", bool(p.StudyTypes.IsDual),
		"is_fern", bool(p.StudyTypes.IsFern),
		"study_language_deutsch", bool(p.Languages.IsGerman),
		"study_language_englisch", bool(p.Languages.IsEnglish),
		"study_language_franzoesisch", bool(p.Languages.IsFrench),
		"study_language_spanisch", bool(p.Languages.IsSpanish),
		"has_study_abroad", bool(p.ProgramFeatures.HasStudyAbroad),
		"has_mandatory_internship", bool(p.ProgramFeatures.HasInternship),
		"zulassungsmodus", p.Zulassungsmodus.Or(UnknownAdmission),
		"required_english_skills", p.Requirements.EnglishProof.OrNil(),
		"study_tuition_semester_eur", number(tuition.OrZero()),
		"fees_application_eur", number(p.Fees.ApplicationFee.OrZero()),
		"fees_enrollment_eur", number(p.Fees.EnrollmentFee.OrZero()),
		"start_date_winter", p.StartDates.Winter.OrNil(),
		"deadline_winter_date", p.Deadlines.Winter.ExactDate.OrNil(),
		"deadline_winter_text", p.Deadlines.Winter.DisplayText.OrNil(),
		"deadline_winter_sort", p.Deadlines.Winter.SortDate.OrNil(),
		"start_date_summer", p.StartDates.Summer.OrNil(),
		"deadline_summer_date", p.Deadlines.Summer.ExactDate.OrNil(),
		"deadline_summer_text", p.Deadlines.Summer.DisplayText.OrNil(),
		"deadline_summer_sort", p.Deadlines.Summer.SortDate.OrNil(),
	)
}

// Completed prefixes mapped updates with the fields that close a successful
// trigger run.
func Completed(updates catalog.Record, at time.Time) catalog.Record {
	out := catalog.NewRecord(
		catalog.FieldStatus, string(catalog.StatusCompleted),
		catalog.FieldError, nil,
		catalog.FieldDetails, nil,
		catalog.FieldScrapedAt, FormatTime(at),
	)
	out.Merge(updates)
	return out
}

// Failed returns the status, error and details fields for err. Domain fields
// are never part of a failure write.
func Failed(err error) catalog.Record {
	msg, details := catalog.Describe(err)
	return catalog.NewRecord(
		catalog.FieldStatus, string(catalog.StatusError),
		catalog.FieldError, msg,
		catalog.FieldDetails, details,
	)
}

// FormatTime renders t the way record timestamps are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(scrapedAtLayout)
}

// number keeps mapped numbers in the same representation records decode to.
func number(v float64) json.Number {
	return json.Number(strconv.FormatFloat(v, 'f', -1, 64))
}

func nullableNumber(n extract.Number) any {
	if !n.Valid || n.Value == 0 {
		return nil
	}
	return number(n.Value)
}
