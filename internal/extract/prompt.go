package extract

import (
	"fmt"
	"strings"
)

// EmptyText is sent instead of page text when the fetch failed. It tells the
// model to recover the program page through search.
const EmptyText = "EMPTY - THE PAGE COULD NOT BE LOADED."

// DefaultMaxTextChars caps the page text forwarded to the model.
const DefaultMaxTextChars = 150000

// Schema is the JSON shape the model must answer with.
const Schema = `{
  "updated_url": "New link if one had to be searched for, otherwise null (string)",
  "title": "Name of the study program at this institution (string)",
  "subtitle": "Subject specialization, e.g. Logistics, Management, Bioengineering (string)",
  "university_name": "Name of the institution (string)",
  "location": "City, e.g. München (string)",
  "degree": "Degree type, e.g. Bachelor, Master (string)",
  "degree_specification": "Exact degree title, e.g. Bachelor of Science, B.A. (string)",
  "study_length_semester": "Standard period of study in semesters (number)",
  "zulassungsmodus": "Admission mode, e.g. 'Ohne_NC', 'NC', 'Eignungstest' (string)",
  "credits_ects": "ECTS credits (number, usually 180, 210, 90 or 120)",
  "fees": {
    "study_tuition_semester_eur": "Tuition per semester in euro (number)",
    "application_fee": "One-off application fee in euro (number)",
    "enrollment_fee": "One-off enrollment fee or deposit in euro (number)"
  },
  "program_features": {
    "has_study_abroad": "Does the program include a semester abroad? (boolean)",
    "has_internship": "Does the program include internships? (boolean)"
  },
  "requirements": {
    "english_proof": "Required language certificate, e.g. 'TOEFL 90', 'C1', or null (string)"
  },
  "deadlines": {
    "winter": {
      "exact_date": "YYYY-MM-DD or null",
      "display_text": "Wording as shown on the page",
      "sort_date": "YYYY-MM-DD (estimated when no exact date exists)"
    },
    "summer": {
      "exact_date": "YYYY-MM-DD or null",
      "display_text": "Wording as shown on the page",
      "sort_date": "YYYY-MM-DD (estimated when no exact date exists)"
    }
  },
  "start_dates": {
    "winter": "Actual start of the winter semester, e.g. '01. Oktober', or null (string)",
    "summer": "Actual start of the summer semester, e.g. '15. März', or null (string)"
  },
  "study_types": {
    "is_fulltime": "Full-time program? (boolean)",
    "is_parttime": "Part-time program? (boolean)",
    "is_dual": "Dual program? (boolean)",
    "is_fern": "Distance-learning program? (boolean)"
  },
  "languages": {
    "is_german": "Taught in German? (boolean)",
    "is_english": "Taught in English? (boolean)",
    "is_french": "Taught in French? (boolean)",
    "is_spanish": "Taught in Spanish? (boolean)"
  },
  "description": "Short summary of the program (max 300 characters)"
}`

const promptTemplate = `You are a data extraction assistant for a university program database.

TARGET URL (SUPPLIED): %s

RECOVERY FOR BROKEN LINKS:
If the "Page text" below is EMPTY (for example because of a 404), derive the institution and
program name from the target URL. USE YOUR SEARCH TOOL to find the current, valid page of this
program. Extract the data from the search results and put the newly found link into "updated_url".

ENRICHMENT:
If information is MISSING from the text or outdated, USE YOUR SEARCH TOOL to find current data.
Do not guess. If something cannot be found at all, set it to null or false.

IMPORTANT: Answer ONLY with raw JSON. No markdown formatting, no surrounding text.

DEADLINE RULE:
Deadlines on university pages are often vague ("March", "spring", "to be announced").
Fill the "deadlines" object as follows:
- "exact_date": format YYYY-MM-DD. Null unless an exact day is given.
- "display_text": the exact wording of the page (e.g. "Ende März", "Frühjahr 2026").
- "sort_date": when no exact date exists, estimate a logical end date in YYYY-MM-DD
  (e.g. "March" -> last day of March, "spring" -> 30 April).

Expected JSON format:
%s

Page text:
%s
`

// Truncate shortens text to at most max runes. A non-positive max disables
// truncation.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// BuildPrompt renders the extraction prompt. Blank text is replaced by
// EmptyText so the model falls back to search.
func BuildPrompt(text, url, schema string) string {
	if strings.TrimSpace(text) == "" {
		text = EmptyText
	}
	if schema == "" {
		schema = Schema
	}
	return fmt.Sprintf(promptTemplate, url, schema, text)
}
