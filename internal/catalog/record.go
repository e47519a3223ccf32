package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Structural field names shared by every record.
const (
	FieldID           = "id"
	FieldStatus       = "scrape_status"
	FieldOriginalURL  = "original_url"
	FieldUpdatedURL   = "updated_url"
	FieldError        = "error"
	FieldDetails      = "details"
	FieldScrapedAt    = "scraped_at"
	FieldScrapeStart  = "scrape_started_at"
	FieldSmartID      = "smartId"
	FieldOriginalID   = "originalId"
	FieldCourseID     = "course_id"
	FieldLocation     = "location"
	FieldDegree       = "degree"
	FieldTitle        = "title"
	FieldStudyURL     = "study_url"
	FieldUniversity   = "university_name"
	FieldDescription  = "description"
	FieldDegreeDetail = "degree_specification"
)

// Record is a flat, insertion-ordered mapping of field names to JSON values.
// The zero value is an empty record ready to use. Plain copies share
// storage, so Clone before mutating a record owned by someone else.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a record from alternating key/value pairs.
func NewRecord(pairs ...any) Record {
	var r Record
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		r.Set(key, pairs[i+1])
	}
	return r
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	if r.values == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present (even with a null value).
func (r Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// String returns the value under key when it is a string.
func (r Record) String(key string) string {
	v, _ := r.Get(key)
	s, _ := v.(string)
	return s
}

// Set stores value under key, appending the key when it is new.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Delete removes key from the record.
func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in natural iteration order.
func (r Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Clone returns a shallow copy that shares no key storage with r.
func (r Record) Clone() Record {
	out := Record{keys: append([]string(nil), r.keys...)}
	if r.values != nil {
		out.values = make(map[string]any, len(r.values))
		for k, v := range r.values {
			out.values[k] = v
		}
	}
	return out
}

// Merge overwrites fields of r with the fields of update. Existing keys keep
// their position; new keys are appended in update's order.
func (r *Record) Merge(update Record) {
	for _, key := range update.keys {
		r.Set(key, update.values[key])
	}
}

// Reorder moves the named keys to the front, in the given order. Keys that
// are absent are skipped; every other key keeps its relative position.
func (r *Record) Reorder(first ...string) {
	front := make([]string, 0, len(first))
	seen := make(map[string]struct{}, len(first))
	for _, key := range first {
		if _, dup := seen[key]; dup || !r.Has(key) {
			continue
		}
		seen[key] = struct{}{}
		front = append(front, key)
	}
	rest := make([]string, 0, len(r.keys))
	for _, key := range r.keys {
		if _, moved := seen[key]; !moved {
			rest = append(rest, key)
		}
	}
	r.keys = append(front, rest...)
}

// ID returns the record identifier, or "" when absent.
func (r Record) ID() string {
	v, ok := r.Get(FieldID)
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// Status returns the enrichment status; absent means Unscraped.
func (r Record) Status() Status {
	return Status(r.String(FieldStatus))
}

// Range calls fn for every field in order until fn returns false.
func (r Record) Range(fn func(key string, value any) bool) {
	for _, key := range r.keys {
		if !fn(key, r.values[key]) {
			return
		}
	}
}

// Map returns an unordered copy of the fields.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.keys))
	for _, key := range r.keys {
		out[key] = r.values[key]
	}
	return out
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", key, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
// Nested objects and arrays are decoded into plain Go values.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode record: expected object, got %v", tok)
	}
	*r = Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode record key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode record: unexpected key token %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode record field %q: %w", key, err)
		}
		r.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode record end: %w", err)
	}
	return nil
}

// Truthy reports whether a JSON value counts as present: non-nil, a
// non-blank string, true, or a non-zero number.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}
