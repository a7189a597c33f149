package fetch

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reqon/reqon/internal/mission"
)

// GenerateMock synthesises a value matching s, for dry-run mode
// (spec.md §6). Strings get a placeholder chosen by field name (see
// mockString), ints 1, decimals 1.5, booleans true, dates the current
// time in RFC 3339, and arrays mockSampleSize generated elements.
// mission.Field carries no enum values or numeric bounds, so generated
// values are not drawn from an enum and do not follow a numeric range.
// Grounded on the same field-type union internal/schema.Match already
// walks; this is its generative inverse.
func GenerateMock(s *mission.Schema) any {
	if s == nil {
		return map[string]any{}
	}
	if s.Element != nil {
		return []any{GenerateMock(s.Element), GenerateMock(s.Element)}
	}
	out := make(map[string]any, len(s.Fields))
	for name, f := range s.Fields {
		out[name] = generateField(name, f)
	}
	return out
}

// mockSampleSize is how many elements a generated array field carries.
const mockSampleSize = 2

func generateField(name string, f mission.Field) any {
	switch f.Type {
	case mission.TypeString:
		return mockString(name)
	case mission.TypeInt:
		return 1
	case mission.TypeDecimal:
		return 1.5
	case mission.TypeBoolean:
		return true
	case mission.TypeDate:
		return time.Now().UTC().Format(time.RFC3339)
	case mission.TypeArray:
		elem := f.Element
		if elem == nil {
			elem = &mission.Schema{Fields: map[string]mission.Field{}}
		}
		arr := make([]any, 0, mockSampleSize)
		for i := 0; i < mockSampleSize; i++ {
			arr = append(arr, GenerateMock(elem))
		}
		return arr
	case mission.TypeObject:
		if f.Object != nil {
			return GenerateMock(f.Object)
		}
		return map[string]any{}
	case mission.TypeNull:
		return nil
	case mission.TypeAny:
		return mockString(name)
	default:
		return mockString(name)
	}
}

// mockString picks a format-aware placeholder by field name, the same
// convention OAS example generators use: an "id"-suffixed field gets a
// uuid, an email/url/link field a fixed example address, a date/time
// field the current time, and everything else "mock-<name>".
func mockString(name string) string {
	lower := strings.ToLower(name)
	switch {
	case lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id"):
		return uuid.NewString()
	case strings.Contains(lower, "email"):
		return "mock@example.com"
	case strings.Contains(lower, "url") || strings.Contains(lower, "link"):
		return "https://example.com/mock"
	case strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		return time.Now().UTC().Format(time.RFC3339)
	default:
		return "mock-" + lower
	}
}
