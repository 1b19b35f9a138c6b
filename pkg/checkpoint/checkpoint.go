// Package checkpoint persists per-file resume offsets for follow mode,
// so an interrupted tail picks up where it left off instead of
// replaying the whole file.
package checkpoint

import (
	"context"
	"strings"
	"time"
)

// Offset is the resume position for one followed file.
type Offset struct {
	// Bytes is the byte position the next read starts from.
	Bytes int64 `json:"bytes"`

	// LNum is the line number of the last fully consumed line.
	LNum int `json:"lnum"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists offsets keyed by file path. Load returns a zero
// Offset and false when no checkpoint exists for the file.
type Store interface {
	Load(ctx context.Context, file string) (Offset, bool, error)
	Save(ctx context.Context, file string, off Offset) error
	Delete(ctx context.Context, file string) error
	Close() error
}

// Open builds a store from a --checkpoint spec: a redis:// URL selects
// the Redis backend, anything else is treated as a JSON file path.
func Open(ctx context.Context, spec string) (Store, error) {
	if strings.HasPrefix(spec, "redis://") || strings.HasPrefix(spec, "rediss://") {
		return NewRedisStore(ctx, spec)
	}
	return NewFileStore(spec)
}
