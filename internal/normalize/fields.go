package normalize

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

// reader pulls typed values out of a raw payload and accumulates flags.
type reader struct {
	raw   map[string]any
	flags []model.Flag
}

func (r *reader) lookup(keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := r.raw[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

func (r *reader) flag(field, value, reason string) {
	r.flags = append(r.flags, model.Flag{Field: field, Value: value, Reason: reason})
}

// str returns the first present key as a clean string. Numbers and bools are
// rendered in their shortest form.
func (r *reader) str(keys ...string) string {
	v, _, ok := r.lookup(keys...)
	if !ok {
		return ""
	}
	return clean(scalarString(v))
}

func (r *reader) strOr(def string, keys ...string) string {
	if s := r.str(keys...); s != "" {
		return s
	}
	return def
}

// list collapses an array or a comma-separated string into an ordered,
// case-insensitively deduplicated slice.
func (r *reader) list(keys ...string) []string {
	v, _, ok := r.lookup(keys...)
	if !ok {
		return nil
	}

	var items []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if item == nil {
				continue
			}
			items = append(items, scalarString(item))
		}
	case []string:
		items = t
	case string:
		items = strings.Split(t, ",")
	default:
		items = []string{scalarString(t)}
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s := clean(item)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// boolean parses a lenient boolean. Unparseable values are flagged and
// reported as absent.
func (r *reader) boolean(keys ...string) (bool, bool) {
	v, key, ok := r.lookup(keys...)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "y", "true", "1":
			return true, true
		case "no", "n", "false", "0":
			return false, true
		case "":
			return false, false
		}
	}
	r.flag(key, clean(scalarString(v)), "not a boolean")
	return false, false
}

func (r *reader) boolPtr(keys ...string) *bool {
	b, ok := r.boolean(keys...)
	if !ok {
		return nil
	}
	return &b
}

// enum canonicalizes a value against set. Missing values take def; values
// outside the set are kept verbatim and flagged.
func (r *reader) enum(set model.Enum, def string, keys ...string) string {
	v, key, ok := r.lookup(keys...)
	if !ok {
		return def
	}
	raw := clean(scalarString(v))
	if raw == "" {
		return def
	}
	canon := Canonical(raw)
	if set.Contains(canon) {
		return canon
	}
	r.flag(key, raw, "not in allowed set")
	return raw
}

// rating accepts a sentiment word or a star rating.
func (r *reader) rating(keys ...string) string {
	v, _, ok := r.lookup(keys...)
	if !ok {
		return "meh"
	}
	if stars, isNum := v.(float64); isNum {
		return StarsToRating(stars)
	}
	if s, isStr := v.(string); isStr {
		if stars, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return StarsToRating(stars)
		}
	}
	return r.enum(model.Ratings, "meh", keys...)
}

// StarsToRating maps a 0-5 star average onto the sentiment scale.
func StarsToRating(stars float64) string {
	switch {
	case stars < 2:
		return "ugh"
	case stars < 3.5:
		return "meh"
	case stars < 4.5:
		return "good"
	default:
		return "great"
	}
}

// Canonical lower-cases v and turns spaces and hyphens into underscores.
func Canonical(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	return v
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
