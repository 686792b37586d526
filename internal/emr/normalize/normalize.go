// Package normalize maps raw record fields onto typed graph facts. A field
// that cannot be coerced to its declared type is absent: dropped without an
// error, never propagated as a failure.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType is the declared target type of a record field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeDate   FieldType = "date"
	TypeBool   FieldType = "boolean"
	// TypeDict marks composite values (one graph node per map entry).
	TypeDict FieldType = "dict"
)

// Kind discriminates the Raw sum type.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindList
	KindMap
)

// Raw is a decoded JSON value. Source records carry union-typed fields
// (the same key may hold a bool, a number, or a string), so every access
// goes through this one shape.
type Raw struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Text  string
	List  []Raw
	Map   map[string]Raw
}

// FromJSON converts an encoding/json decoded value into a Raw.
func FromJSON(v any) Raw {
	switch t := v.(type) {
	case nil:
		return Raw{Kind: KindNull}
	case bool:
		return Raw{Kind: KindBool, Bool: t}
	case float64:
		if t == float64(int64(t)) {
			return Raw{Kind: KindInt, Int: int64(t), Float: t}
		}
		return Raw{Kind: KindFloat, Float: t}
	case int:
		return Raw{Kind: KindInt, Int: int64(t), Float: float64(t)}
	case int64:
		return Raw{Kind: KindInt, Int: t, Float: float64(t)}
	case string:
		return Raw{Kind: KindText, Text: t}
	case []any:
		list := make([]Raw, 0, len(t))
		for _, item := range t {
			list = append(list, FromJSON(item))
		}
		return Raw{Kind: KindList, List: list}
	case map[string]any:
		m := make(map[string]Raw, len(t))
		for k, item := range t {
			m[k] = FromJSON(item)
		}
		return Raw{Kind: KindMap, Map: m}
	default:
		return Raw{Kind: KindText, Text: strings.TrimSpace(fmt.Sprint(t))}
	}
}

// IsEmpty reports whether the value normalizes to absent before any type
// coercion: JSON null or empty string.
func (r Raw) IsEmpty() bool {
	if r.Kind == KindNull {
		return true
	}
	return r.Kind == KindText && strings.TrimSpace(r.Text) == ""
}

func (r Raw) text() string {
	switch r.Kind {
	case KindBool:
		if r.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(r.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(r.Float, 'f', -1, 64)
	case KindText:
		return r.Text
	default:
		return ""
	}
}

// Coerce applies the declared type to a raw value. The second return is
// false when the fact should be dropped. Returned values are ready to use
// as graph parameters: int64, bool, or string (dates canonicalized to
// YYYY-MM-DD; the upsert converts them to store-native dates).
func Coerce(raw Raw, typ FieldType) (any, bool) {
	if raw.IsEmpty() {
		return nil, false
	}
	switch typ {
	case TypeInt:
		return coerceInt(raw)
	case TypeDate:
		return coerceDate(raw)
	case TypeBool:
		return coerceBool(raw)
	default:
		return coerceString(raw)
	}
}

func coerceInt(raw Raw) (any, bool) {
	switch raw.Kind {
	case KindInt:
		return raw.Int, true
	case KindFloat:
		if raw.Float == float64(int64(raw.Float)) {
			return int64(raw.Float), true
		}
		return nil, false
	case KindText:
		i, err := strconv.ParseInt(strings.TrimSpace(raw.Text), 10, 64)
		if err != nil {
			return nil, false
		}
		return i, true
	default:
		return nil, false
	}
}

func coerceDate(raw Raw) (any, bool) {
	if raw.Kind != KindText {
		return nil, false
	}
	s := strings.TrimSpace(raw.Text)
	if len(s) > 10 {
		// Tolerate timestamps; the calendar date is the fact.
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, false
	}
	return t.Format("2006-01-02"), true
}

var boolWords = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true,
	"false": false, "no": false, "n": false, "0": false,
}

func coerceBool(raw Raw) (any, bool) {
	if raw.Kind == KindBool {
		return raw.Bool, true
	}
	word := strings.ToLower(strings.TrimSpace(raw.text()))
	if b, ok := boolWords[word]; ok {
		return b, true
	}
	return nil, false
}

func coerceString(raw Raw) (any, bool) {
	s := strings.TrimSpace(raw.text())
	if s == "" {
		return nil, false
	}
	return s, true
}

// ListElements expands a list-valued field into its non-empty elements.
// A null or empty-string field is an empty list (the source emits "" for
// missing lists).
func ListElements(raw Raw) []Raw {
	if raw.IsEmpty() {
		return nil
	}
	if raw.Kind != KindList {
		// A bare scalar where a list is expected counts as one element.
		return []Raw{raw}
	}
	out := make([]Raw, 0, len(raw.List))
	for _, el := range raw.List {
		if el.IsEmpty() {
			continue
		}
		out = append(out, el)
	}
	return out
}

// MapEntries expands a composite field into its non-empty entries. The
// source emits "" for a missing map.
func MapEntries(raw Raw) map[string]Raw {
	if raw.IsEmpty() || raw.Kind != KindMap {
		return nil
	}
	out := make(map[string]Raw, len(raw.Map))
	for k, v := range raw.Map {
		if v.IsEmpty() {
			continue
		}
		out[k] = v
	}
	return out
}
