package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Program is the structured study-program payload returned by the extraction
// service. Every field tolerates absence, null and loosely typed values so the
// mapping stage can stay total.
type Program struct {
	UpdatedURL           Text            `json:"updated_url"`
	Title                Text            `json:"title"`
	Subtitle             Text            `json:"subtitle"`
	UniversityName       Text            `json:"university_name"`
	Location             Text            `json:"location"`
	Degree               Text            `json:"degree"`
	DegreeSpecification  Text            `json:"degree_specification"`
	StudyLengthSemester  Number          `json:"study_length_semester"`
	Zulassungsmodus      Text            `json:"zulassungsmodus"`
	CreditsECTS          Number          `json:"credits_ects"`
	StudyTuitionSemester Number          `json:"study_tuition_semester_eur"`
	Fees                 Fees            `json:"fees"`
	ProgramFeatures      ProgramFeatures `json:"program_features"`
	Requirements         Requirements    `json:"requirements"`
	Deadlines            Deadlines       `json:"deadlines"`
	StartDates           StartDates      `json:"start_dates"`
	StudyTypes           StudyTypes      `json:"study_types"`
	Languages            Languages       `json:"languages"`
	Description          Text            `json:"description"`
}

// Fees groups the cost figures in euro.
type Fees struct {
	StudyTuitionSemester Number `json:"study_tuition_semester_eur"`
	ApplicationFee       Number `json:"application_fee"`
	EnrollmentFee        Number `json:"enrollment_fee"`
}

// ProgramFeatures flags structural features of the program.
type ProgramFeatures struct {
	HasStudyAbroad Flag `json:"has_study_abroad"`
	HasInternship  Flag `json:"has_internship"`
}

// Requirements lists admission requirements.
type Requirements struct {
	EnglishProof Text `json:"english_proof"`
}

// Deadlines holds application deadlines per semester.
type Deadlines struct {
	Winter Deadline `json:"winter"`
	Summer Deadline `json:"summer"`
}

// Deadline keeps the verbatim deadline text next to a parsed and an estimated date.
type Deadline struct {
	ExactDate   Text `json:"exact_date"`
	DisplayText Text `json:"display_text"`
	SortDate    Text `json:"sort_date"`
}

// StartDates holds the semester start per intake.
type StartDates struct {
	Winter Text `json:"winter"`
	Summer Text `json:"summer"`
}

// StudyTypes flags the study formats offered.
type StudyTypes struct {
	IsFulltime Flag `json:"is_fulltime"`
	IsParttime Flag `json:"is_parttime"`
	IsDual     Flag `json:"is_dual"`
	IsFern     Flag `json:"is_fern"`
}

// Languages flags the teaching languages.
type Languages struct {
	IsGerman  Flag `json:"is_german"`
	IsEnglish Flag `json:"is_english"`
	IsFrench  Flag `json:"is_french"`
	IsSpanish Flag `json:"is_spanish"`
}

// Text is a string that may be missing. Numbers and booleans are kept in
// their literal form.
type Text struct {
	Value string
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = Text{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		*t = Text{Value: s, Valid: s != ""}
		return nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return nil
	}
	*t = Text{Value: string(trimmed), Valid: true}
	return nil
}

// Or returns the value, or fallback when it is missing or empty.
func (t Text) Or(fallback string) string {
	if !t.Valid {
		return fallback
	}
	return t.Value
}

// OrNil returns the value, or nil when it is missing or empty.
func (t Text) OrNil() any {
	if !t.Valid {
		return nil
	}
	return t.Value
}

// Number is a numeric value that may be missing. Numeric strings such as
// "180" or "1.500,50 €" are accepted.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if v, ok := parseLooseNumber(s); ok {
			*n = Number{Value: v, Valid: true}
		}
		return nil
	}
	v, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

// OrZero returns the value, or 0 when it is missing or zero.
func (n Number) OrZero() float64 {
	if !n.Valid {
		return 0
	}
	return n.Value
}

func parseLooseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "€")
	s = strings.TrimSuffix(strings.TrimSpace(s), "EUR")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Flag is a boolean that may be missing. Missing decodes as false.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = false
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("true")):
		*f = true
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "ja", "1":
			*f = true
		}
	case len(trimmed) > 0 && trimmed[0] != 'f' && trimmed[0] != 'n' && trimmed[0] != '{' && trimmed[0] != '[':
		if v, err := strconv.ParseFloat(string(trimmed), 64); err == nil && v != 0 {
			*f = true
		}
	}
	return nil
}
