// Package schema implements structural matching of runtime values
// against a mission.Schema: the check backing `validate` steps and
// `match` expression arms.
package schema

import (
	"fmt"

	"github.com/reqon/reqon/internal/mission"
)

// MismatchError describes the first field that failed to satisfy a
// schema, including its dotted path for diagnostics.
type MismatchError struct {
	Path   string
	Reason string
}

func (e *MismatchError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Match reports whether value structurally satisfies schema. A
// mismatch is reported both as (false, nil) and, for callers that want
// the reason, via MatchDetailed.
func Match(value any, s *mission.Schema) (bool, error) {
	ok, _, err := MatchDetailed(value, s)
	return ok, err
}

// MatchDetailed is Match plus the first MismatchError encountered, for
// callers (validate steps, debug snapshots) that want to report why a
// value failed to match.
func MatchDetailed(value any, s *mission.Schema) (bool, *MismatchError, error) {
	if s == nil {
		return false, nil, fmt.Errorf("schema: nil schema")
	}
	mismatch := matchAt("", value, s)
	if mismatch != nil {
		return false, mismatch, nil
	}
	return true, nil, nil
}

func matchAt(path string, value any, s *mission.Schema) *MismatchError {
	if s.Element != nil {
		return matchArray(path, value, s.Element)
	}
	return matchObject(path, value, s)
}

func matchArray(path string, value any, elem *mission.Schema) *MismatchError {
	items, ok := value.([]any)
	if !ok {
		return &MismatchError{Path: path, Reason: fmt.Sprintf("expected array, got %T", value)}
	}
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if m := matchAt(itemPath, item, elem); m != nil {
			return m
		}
	}
	return nil
}

func matchObject(path string, value any, s *mission.Schema) *MismatchError {
	obj, ok := value.(map[string]any)
	if !ok {
		return &MismatchError{Path: path, Reason: fmt.Sprintf("expected object, got %T", value)}
	}
	for name, field := range s.Fields {
		fieldPath := joinPath(path, name)
		v, present := obj[name]
		if !present || v == nil {
			if field.Optional {
				continue
			}
			return &MismatchError{Path: fieldPath, Reason: "missing required field"}
		}
		if m := matchField(fieldPath, v, field); m != nil {
			return m
		}
	}
	return nil
}

func matchField(path string, v any, f mission.Field) *MismatchError {
	switch f.Type {
	case mission.TypeAny:
		return nil
	case mission.TypeString:
		if _, ok := v.(string); !ok {
			return &MismatchError{Path: path, Reason: fmt.Sprintf("expected string, got %T", v)}
		}
	case mission.TypeInt:
		if !isWholeNumber(v) {
			return &MismatchError{Path: path, Reason: fmt.Sprintf("expected int, got %T", v)}
		}
	case mission.TypeDecimal:
		if !isNumber(v) {
			return &MismatchError{Path: path, Reason: fmt.Sprintf("expected decimal, got %T", v)}
		}
	case mission.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return &MismatchError{Path: path, Reason: fmt.Sprintf("expected boolean, got %T", v)}
		}
	case mission.TypeDate:
		if _, ok := v.(string); !ok {
			return &MismatchError{Path: path, Reason: fmt.Sprintf("expected date string, got %T", v)}
		}
	case mission.TypeNull:
		if v != nil {
			return &MismatchError{Path: path, Reason: "expected null"}
		}
	case mission.TypeArray:
		if f.Element == nil {
			if _, ok := v.([]any); !ok {
				return &MismatchError{Path: path, Reason: fmt.Sprintf("expected array, got %T", v)}
			}
			return nil
		}
		return matchArray(path, v, f.Element)
	case mission.TypeObject:
		if f.Object == nil {
			if _, ok := v.(map[string]any); !ok {
				return &MismatchError{Path: path, Reason: fmt.Sprintf("expected object, got %T", v)}
			}
			return nil
		}
		return matchObject(path, v, f.Object)
	default:
		return &MismatchError{Path: path, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64:
		return true
	default:
		return false
	}
}

func isWholeNumber(v any) bool {
	switch n := v.(type) {
	case int, int64:
		return true
	case float64:
		return n == float64(int64(n))
	case float32:
		return n == float32(int64(n))
	default:
		return false
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
