package skills

import (
	"encoding/json"
	"math"
	"sort"

	apperrors "github.com/vinayprograms/courier/errors"
)

// Args are the parameters a model passed to a skill, decoded from JSON.
// Accessors convert JSON's loose types; the *Or variants fall back to a
// default when the key is missing or has the wrong type.
type Args map[string]interface{}

func missing(key string) error {
	return apperrors.Newf(apperrors.ErrCodeInvalidInput, "%s is required", key)
}

func wrongType(key, want string, v interface{}) error {
	return apperrors.Newf(apperrors.ErrCodeInvalidInput, "%s must be %s, got %T", key, want, v)
}

// lookup fetches key and converts it, reporting missing keys and bad types.
func lookup[T any](a Args, key, want string, conv func(interface{}) (T, bool)) (T, error) {
	var zero T
	v, ok := a[key]
	if !ok || v == nil {
		return zero, missing(key)
	}
	out, ok := conv(v)
	if !ok {
		return zero, wrongType(key, want, v)
	}
	return out, nil
}

func orDefault[T any](a Args, key string, def T, conv func(interface{}) (T, bool)) T {
	if v, ok := a[key]; ok && v != nil {
		if out, ok := conv(v); ok {
			return out
		}
	}
	return def
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt accepts whole numbers only: 2.0 is fine, 2.5 is not.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func asBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asStrings(v interface{}) ([]string, bool) {
	switch arr := v.(type) {
	case []string:
		return arr, true
	case []interface{}:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// String returns a required string.
func (a Args) String(key string) (string, error) {
	return lookup(a, key, "a string", asString)
}

// StringOr returns an optional string.
func (a Args) StringOr(key, def string) string {
	return orDefault(a, key, def, asString)
}

// Int returns a required whole number.
func (a Args) Int(key string) (int, error) {
	return lookup(a, key, "a whole number", asInt)
}

// IntOr returns an optional whole number.
func (a Args) IntOr(key string, def int) int {
	return orDefault(a, key, def, asInt)
}

// BoolOr returns an optional boolean.
func (a Args) BoolOr(key string, def bool) bool {
	return orDefault(a, key, def, asBool)
}

// Strings returns a required list of strings.
func (a Args) Strings(key string) ([]string, error) {
	return lookup(a, key, "a list of strings", asStrings)
}

// StringsOr returns an optional list of strings.
func (a Args) StringsOr(key string, def []string) []string {
	return orDefault(a, key, def, asStrings)
}

// Raw returns the undecoded value, or nil.
func (a Args) Raw(key string) interface{} {
	return a[key]
}

// Keys returns the parameter names sorted, for audit logs.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
