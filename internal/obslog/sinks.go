package obslog

import (
	"encoding/json"
	"io"
	"log/slog"
)

// NewConsoleHandler returns a human-readable slog.Handler, grounded on
// the teacher's slog.NewTextHandler(os.Stdout, nil) used in
// runtime/app.go's Start for local/dev runs.
func NewConsoleHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, nil)
}

// NewJSONHandler returns a JSON-lines slog.Handler, grounded on the
// teacher's slog.NewJSONHandler(os.Stdout, nil) used for production
// logging in runtime/app.go.
func NewJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, nil)
}

// jsonLinesSink writes every Event as one JSON object per line to w,
// independent of the slog handler attached to the Logger (useful when
// a caller wants raw events rather than slog's formatted record).
type jsonLinesSink struct {
	w io.Writer
}

// NewJSONLinesSink returns a Sink that appends one JSON object per
// Event to w.
func NewJSONLinesSink(w io.Writer) Sink {
	return &jsonLinesSink{w: w}
}

func (s *jsonLinesSink) Handle(e Event) {
	enc := json.NewEncoder(s.w)
	_ = enc.Encode(map[string]any{
		"name":  e.Name,
		"time":  e.Time,
		"span":  e.SpanPath,
		"attrs": e.Attrs,
	})
}
