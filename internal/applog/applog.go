// Package applog writes one JSON object per line with ts, level and msg keys.
package applog

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Fields are extra key/value pairs attached to a log entry.
type Fields map[string]any

// Logger is safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	enc *json.Encoder
	loc *time.Location
}

// New returns a Logger writing to w with timestamps rendered in loc.
// A nil loc means UTC.
func New(w io.Writer, loc *time.Location) *Logger {
	if loc == nil {
		loc = time.UTC
	}
	return &Logger{enc: json.NewEncoder(w), loc: loc}
}

// Default logs to stdout in UTC.
func Default() *Logger {
	return New(os.Stdout, time.UTC)
}

// Location is the time zone used for the ts field.
func (l *Logger) Location() *time.Location {
	return l.loc
}

func (l *Logger) Info(msg string, f Fields) {
	l.Log("info", msg, f)
}

func (l *Logger) Error(msg string, err error, f Fields) {
	if f == nil {
		f = Fields{}
	}
	if err != nil {
		f["error"] = err.Error()
	}
	l.Log("error", msg, f)
}

// Log writes a single entry. Reserved keys in f are overwritten.
func (l *Logger) Log(level, msg string, f Fields) {
	entry := make(map[string]any, len(f)+3)
	for k, v := range f {
		entry[k] = v
	}
	entry["ts"] = time.Now().In(l.loc).Format(time.RFC3339Nano)
	entry["level"] = level
	if msg != "" {
		entry["msg"] = msg
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(entry)
}

type requestIDKey struct{}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
