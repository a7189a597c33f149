package evalx

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
)

// builtinOptions returns the expr-lang function options for every
// built-in the evaluator exposes to mission expressions. Grounded on
// the teacher's runtime/engine/yaml/evaluator.go exprFunctions slice:
// each built-in is registered once and reused across every Compile
// call.
func builtinOptions() []expr.Option {
	return []expr.Option{
		expr.Function("length", func(params ...any) (any, error) {
			return length(params[0])
		}),
		expr.Function("now", func(params ...any) (any, error) {
			return nowFunc(), nil
		}),
		expr.Function("env", func(params ...any) (any, error) {
			name, _ := params[0].(string)
			v, ok := os.LookupEnv(name)
			if !ok {
				return nil, nil
			}
			return v, nil
		}),
		expr.Function("exists", func(params ...any) (any, error) {
			return params[0] != nil, nil
		}),
		expr.Function("concat", func(params ...any) (any, error) {
			var sb strings.Builder
			for _, p := range params {
				sb.WriteString(toStringValue(p))
			}
			return sb.String(), nil
		}),
		expr.Function("uuid", func(params ...any) (any, error) {
			return uuid.NewString(), nil
		}),
		expr.Function("lowercase", func(params ...any) (any, error) {
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("lowercase expects a string")
			}
			return strings.ToLower(s), nil
		}),
		expr.Function("uppercase", func(params ...any) (any, error) {
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("uppercase expects a string")
			}
			return strings.ToUpper(s), nil
		}),
		expr.Function("substring", func(params ...any) (any, error) {
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("substring expects a string")
			}
			start := toInt(params[1])
			end := len(s)
			if len(params) > 2 {
				end = toInt(params[2])
			}
			if start < 0 {
				start = 0
			}
			if end > len(s) {
				end = len(s)
			}
			if start > end {
				return "", nil
			}
			return s[start:end], nil
		}),
		expr.Function("toString", func(params ...any) (any, error) {
			return toStringValue(params[0]), nil
		}),
		expr.Function("toNumber", func(params ...any) (any, error) {
			return toNumber(params[0])
		}),
		expr.Function("formatDate", func(params ...any) (any, error) {
			t, err := toTime(params[0])
			if err != nil {
				return nil, err
			}
			layout := "2006-01-02T15:04:05Z07:00"
			if len(params) > 1 {
				if l, ok := params[1].(string); ok {
					layout = l
				}
			}
			return t.Format(layout), nil
		}),
		expr.Function("addDays", func(params ...any) (any, error) {
			t, err := toTime(params[0])
			if err != nil {
				return nil, err
			}
			return t.AddDate(0, 0, toInt(params[1])).Format(time.RFC3339), nil
		}),
		expr.Function("addHours", func(params ...any) (any, error) {
			t, err := toTime(params[0])
			if err != nil {
				return nil, err
			}
			return t.Add(time.Duration(toInt(params[1])) * time.Hour).Format(time.RFC3339), nil
		}),
		expr.Function("sum", func(params ...any) (any, error) {
			items, err := toSlice(params[0])
			if err != nil {
				return nil, err
			}
			var total float64
			for _, v := range items {
				n, err := toNumber(v)
				if err != nil {
					return nil, err
				}
				total += n
			}
			return total, nil
		}),
		expr.Function("max", func(params ...any) (any, error) {
			return extremum(params, func(a, b float64) bool { return a > b })
		}),
		expr.Function("min", func(params ...any) (any, error) {
			return extremum(params, func(a, b float64) bool { return a < b })
		}),
		expr.Function("includes", func(params ...any) (any, error) {
			items, err := toSlice(params[0])
			if err != nil {
				return nil, err
			}
			for _, v := range items {
				if valuesEqual(v, params[1]) {
					return true, nil
				}
			}
			return false, nil
		}),
		expr.Function("in", func(params ...any) (any, error) {
			items, err := toSlice(params[1])
			if err != nil {
				return nil, err
			}
			for _, v := range items {
				if valuesEqual(v, params[0]) {
					return true, nil
				}
			}
			return false, nil
		}),
	}
}

// nowFunc is overridable in tests so time-dependent expressions are
// deterministic.
var nowFunc = func() string { return time.Now().UTC().Format(time.RFC3339) }

func length(v any) (int, error) {
	switch t := v.(type) {
	case string:
		return len(t), nil
	case []any:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("length: unsupported type %T", v)
	}
}

func toStringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("toNumber: cannot parse %q", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("toNumber: unsupported type %T", v)
	}
}

func toInt(v any) int {
	n, _ := toNumber(v)
	return int(n)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), nil
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot parse date %q: %w", t, err)
		}
		return parsed, nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %T", v)
	}
}

func toSlice(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected an array, got %T", v)
	}
}

func extremum(params []any, better func(a, b float64) bool) (any, error) {
	var items []any
	if len(params) == 1 {
		var err error
		items, err = toSlice(params[0])
		if err != nil {
			return nil, err
		}
	} else {
		items = params
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("max/min: empty input")
	}
	best, err := toNumber(items[0])
	if err != nil {
		return nil, err
	}
	for _, it := range items[1:] {
		n, err := toNumber(it)
		if err != nil {
			return nil, err
		}
		if better(n, best) {
			best = n
		}
	}
	return best, nil
}

func valuesEqual(a, b any) bool {
	af, aerr := toNumber(a)
	bf, berr := toNumber(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
