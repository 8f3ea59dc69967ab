package limiter

import (
	"net/http"
	"strconv"
	"strings"
)

// headerValues holds the numeric header fields present in one response,
// keyed by internal field name (FieldLimit, FieldRemaining, ...).
type headerValues map[string]float64

func (v headerValues) empty() bool { return len(v) == 0 }

func (v headerValues) get(field string) (float64, bool) {
	val, ok := v[field]
	return val, ok
}

// extractHeaderValues reads the mapped headers out of a response. Multi-valued
// headers are flattened by joining with ", " before parsing; header names are
// matched exactly first, then through Go's canonical MIME form. Unparseable or
// non-positive values are treated as if the header were absent.
func extractHeaderValues(headers http.Header, mappings map[string]string) headerValues {
	if len(headers) == 0 || len(mappings) == 0 {
		return nil
	}
	vals := make(headerValues)
	for field, name := range mappings {
		raw, ok := headerLookup(headers, name)
		if !ok {
			continue
		}
		if n, ok := parseHeaderNumber(raw); ok {
			vals[field] = n
		}
	}
	return vals
}

// headerLookup fetches a header by its configured (case-sensitive) name,
// falling back to the canonical form http.Header stores parsed headers under.
func headerLookup(headers http.Header, name string) (string, bool) {
	if vs, ok := headers[name]; ok && len(vs) > 0 {
		return strings.Join(vs, ", "), true
	}
	canonical := http.CanonicalHeaderKey(name)
	if vs, ok := headers[canonical]; ok && len(vs) > 0 {
		return strings.Join(vs, ", "), true
	}
	return "", false
}

// parseHeaderNumber parses the first element of a flattened header value.
// Only positive finite numbers count.
func parseHeaderNumber(raw string) (float64, bool) {
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
