// Package smartid derives readable record identifiers of the form
// LOC-L-SS-index from a record's location, degree and title.
package smartid

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// Unknown is the location code used when a record has no location.
const Unknown = "UNK"

//go:embed locations.json
var defaultLocations []byte

// LocationTable maps a German city name to its three-letter UN/LOCODE part.
type LocationTable map[string]string

type location struct {
	City string `json:"city_DE"`
	Code string `json:"UN/LOCODE"`
}

var (
	defaultOnce  sync.Once
	defaultTable LocationTable
)

// DefaultTable returns the built-in location table.
func DefaultTable() LocationTable {
	defaultOnce.Do(func() {
		table, err := parseTable(defaultLocations)
		if err != nil {
			panic(fmt.Sprintf("smartid: embedded location table: %v", err))
		}
		defaultTable = table
	})
	return defaultTable
}

// LoadTable reads a JSON array of {"city_DE", "UN/LOCODE"} entries. The first
// entry for a city wins.
func LoadTable(r io.Reader) (LocationTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read location table: %w", err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (LocationTable, error) {
	var entries []location
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode location table: %w", err)
	}
	table := make(LocationTable, len(entries))
	for _, e := range entries {
		if e.City == "" || e.Code == "" {
			continue
		}
		if _, dup := table[e.City]; !dup {
			table[e.City] = e.Code
		}
	}
	return table, nil
}

// Fields are the inputs of Generate.
type Fields struct {
	Location string
	Degree   string
	Title    string
	Index    string
}

// FromRecord reads the generator inputs from rec. index is the source row
// index used when rec carries no id.
func FromRecord(rec catalog.Record, index int) Fields {
	idx := rec.ID()
	if idx == "" {
		idx = fmt.Sprint(index)
	}
	return Fields{
		Location: rec.String(catalog.FieldLocation),
		Degree:   rec.String(catalog.FieldDegree),
		Title:    rec.String(catalog.FieldTitle),
		Index:    idx,
	}
}

// Generate returns LOC-L-SS-index. The result is deterministic but not unique:
// two records sharing location, level, subject and index get the same id.
func Generate(f Fields, table LocationTable) string {
	return fmt.Sprintf("%s-%s-%s-%s", locationCode(f.Location, table), levelCode(f.Degree), SubjectCode(f.Title), f.Index)
}

func locationCode(loc string, table LocationTable) string {
	if code, ok := table[loc]; ok {
		return code
	}
	if loc == "" {
		return Unknown
	}
	runes := []rune(loc)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return strings.ToUpper(string(runes))
}

func levelCode(degree string) string {
	if strings.HasPrefix(degree, "Bachelor") {
		return "B"
	}
	return "M"
}

var subjects = []struct {
	code     string
	keywords []string
}{
	{"CS", []string{"computer", "data"}},
	{"BM", []string{"finance", "management"}},
	{"BC", []string{"business", "communication"}},
	{"SW", []string{"soziale", "pädagogik"}},
	{"HE", []string{"health", "biomedical"}},
}

// SubjectCode maps a title to a two-letter subject code. Checks run in a
// fixed order and the first match wins.
func SubjectCode(title string) string {
	t := strings.ToLower(title)
	if t == "" {
		return "GN"
	}
	for _, s := range subjects {
		for _, kw := range s.keywords {
			if strings.Contains(t, kw) {
				return s.code
			}
		}
	}
	return "GN"
}

// Collisions returns every id that occurs more than once with its count, in
// sorted order. ids are not altered.
func Collisions(ids []string) []Collision {
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	var out []Collision
	for id, n := range counts {
		if n > 1 {
			out = append(out, Collision{ID: id, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Collision is an id shared by Count records.
type Collision struct {
	ID    string
	Count int
}

// Assign returns copies of rows keyed by their Smart ID. Each copy leads with
// id and smartId, keeps a prior id as originalId and then carries the
// remaining fields in their original order. Colliding ids are reported, not
// resolved; a later upsert of a colliding id merges into the earlier row.
func Assign(rows []catalog.Record, table LocationTable) ([]catalog.Record, []Collision) {
	out := make([]catalog.Record, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for i, row := range rows {
		sid := Generate(FromRecord(row, i), table)
		rec := catalog.NewRecord(catalog.FieldID, sid, catalog.FieldSmartID, sid)
		if orig, ok := row.Get(catalog.FieldID); ok && orig != nil {
			rec.Set(catalog.FieldOriginalID, orig)
		}
		rest := row.Clone()
		rest.Delete(catalog.FieldID)
		rest.Delete(catalog.FieldSmartID)
		rec.Merge(rest)
		out = append(out, rec)
		ids = append(ids, sid)
	}
	return out, Collisions(ids)
}
