package enrich

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// URLPredicate decides whether a field holds the scrape target.
type URLPredicate func(field string, value any) bool

// FieldNameContains matches fields whose name contains sub, ignoring case,
// and whose value is truthy.
func FieldNameContains(sub string) URLPredicate {
	sub = strings.ToLower(sub)
	return func(field string, value any) bool {
		return strings.Contains(strings.ToLower(field), sub) && catalog.Truthy(value)
	}
}

// URLPredicates is the default discovery list.
var URLPredicates = []URLPredicate{FieldNameContains("url")}

// DiscoverURL returns the field and URL to scrape. Predicates are tried in
// order and each scans the record's fields in natural order; the first match
// wins. A record without a match yields a ValidationError.
func DiscoverURL(rec catalog.Record, predicates []URLPredicate) (string, string, error) {
	if len(predicates) == 0 {
		predicates = URLPredicates
	}
	for _, match := range predicates {
		var field string
		var value any
		rec.Range(func(key string, v any) bool {
			if match(key, v) {
				field, value = key, v
				return false
			}
			return true
		})
		if field == "" {
			continue
		}
		url, ok := value.(string)
		if !ok {
			url = fmt.Sprint(value)
		}
		return field, strings.TrimSpace(url), nil
	}
	return "", "", catalog.ErrNoURL()
}
