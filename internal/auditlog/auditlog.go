// Package auditlog implements interp.AuditSink by writing one JSON line per
// lifecycle event to a rotated log file. Adapted from
// zond-juicemud/storage.AuditLogger: same lumberjack.Logger-as-io.Writer
// plus json.Encoder shape, generalized from a fixed set of typed
// AuditData structs to the interpreter's free-form kind/fields events
// (§4 ambient logging — SPEC_FULL "disabled by default").
package auditlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one line written to the audit log.
type Entry struct {
	Time   string                 `json:"time"`
	Kind   string                 `json:"kind"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes structured interpreter lifecycle events as JSON lines,
// rotating the backing file via lumberjack.
type Logger struct {
	mu     sync.Mutex
	writer io.WriteCloser
	enc    *json.Encoder
}

// Open creates a Logger writing to path with rotation, in the manner of
// zond-juicemud's NewAuditLogger.
func Open(path string) (*Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("auditlog: empty path")
	}
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     90,
		Compress:   true,
	}
	return &Logger{
		writer: writer,
		enc:    json.NewEncoder(writer),
	}, nil
}

// Event implements interp.AuditSink.
func (l *Logger) Event(kind string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(Entry{
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		Kind:   kind,
		Fields: fields,
	})
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}
