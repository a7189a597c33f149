package checkpoint

import (
	"fmt"
	"time"
)

// SinceFormat names how a fetch step's `since: lastSync` value is
// rendered into the outgoing request.
type SinceFormat string

const (
	SinceISO      SinceFormat = "iso"
	SinceUnix     SinceFormat = "unix"
	SinceUnixMS   SinceFormat = "unix-ms"
	SinceDateOnly SinceFormat = "date-only"
)

// FormatSince renders a checkpoint value per format. value is usually
// a time.Time or an RFC3339 string; both are accepted since checkpoints
// round-trip through JSON as strings.
func FormatSince(value any, format SinceFormat) (string, error) {
	t, err := toTime(value)
	if err != nil {
		return "", err
	}
	switch format {
	case SinceUnix:
		return fmt.Sprintf("%d", t.Unix()), nil
	case SinceUnixMS:
		return fmt.Sprintf("%d", t.UnixMilli()), nil
	case SinceDateOnly:
		return t.UTC().Format("2006-01-02"), nil
	case SinceISO, "":
		return t.UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("checkpoint: unknown sinceFormat %q", format)
	}
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("checkpoint: cannot parse %q as RFC3339: %w", v, err)
		}
		return t, nil
	case float64:
		return time.Unix(int64(v), 0), nil
	case int64:
		return time.Unix(v, 0), nil
	default:
		return time.Time{}, fmt.Errorf("checkpoint: unsupported checkpoint value type %T", value)
	}
}
