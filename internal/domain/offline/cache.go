package offline

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// CacheEntry is a previously seen response for a read request.
type CacheEntry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	CachedAt time.Time       `json:"cachedAt"`
}

// IsStale reports whether the entry is older than maxAge. Staleness is
// informational: stale entries are still served. A non-positive maxAge never
// marks an entry stale.
func (e *CacheEntry) IsStale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(e.CachedAt) > maxAge
}

// BuildCacheKey returns the normalized signature of a read request:
// the path followed by its parameters sorted by name, e.g.
// "/pupils?class_id=5&limit=20". Nil-valued parameters are skipped.
func BuildCacheKey(path string, params map[string]any) string {
	if len(params) == 0 {
		return path
	}

	names := make([]string, 0, len(params))
	for name, value := range params {
		if isNil(value) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return path
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(formatParam(params[name])))
	}
	return b.String()
}

// QueryValues renders params as url.Values using the same formatting and
// nil-skipping rules as BuildCacheKey.
func QueryValues(params map[string]any) url.Values {
	values := url.Values{}
	for name, value := range params {
		if isNil(value) {
			continue
		}
		values.Set(name, formatParam(value))
	}
	return values
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch p := v.(type) {
	case *string:
		return p == nil
	case *int:
		return p == nil
	case *int64:
		return p == nil
	case *bool:
		return p == nil
	}
	return false
}

func formatParam(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case *string:
		return *p
	case *int:
		return fmt.Sprint(*p)
	case *int64:
		return fmt.Sprint(*p)
	case *bool:
		return fmt.Sprint(*p)
	case float64:
		// JSON numbers decode as float64; render integral values without a fraction.
		if p == float64(int64(p)) {
			return fmt.Sprint(int64(p))
		}
		return fmt.Sprint(p)
	default:
		return fmt.Sprint(p)
	}
}

// ResolveURL turns a persisted path into an absolute request target against
// base. Absolute URLs are returned unchanged.
func ResolveURL(base, path string) string {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
