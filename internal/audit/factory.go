package audit

import (
	"fmt"
	"strings"
)

// BuildSinkFromDSN picks a sink by DSN scheme:
//
//	"" or "log"                  process log
//	"memory"                     in-memory
//	"sqlite://<path>"            SQLite file
//	"postgres://..." or "postgresql://..."
func BuildSinkFromDSN(dsn string) (Sink, error) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "" || lower == "log":
		return LogSink{}, nil
	case lower == "memory":
		return NewMemorySink(), nil
	case strings.HasPrefix(lower, "sqlite://"):
		return OpenSQLiteSink(dsn[len("sqlite://"):])
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresSink(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit dsn %q", dsn)
	}
}
