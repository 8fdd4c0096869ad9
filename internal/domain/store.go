package domain

import (
	"context"
	"time"
)

// ScopedStore is atomic, schema-versioned, (mode,account)-scoped key/value
// persistence. Writes are crash-atomic: a reader never observes a partially
// written document. Concurrent writers to the same (scope, key) are
// serialized by the owning component; last write wins at the storage layer.
type ScopedStore interface {
	Write(scope Context, key string, payload any) error
	Read(scope Context, key string, payload any) error
	ListKeys(scope Context, prefix string) ([]string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditListOpts filters audit queries.
type AuditListOpts struct {
	Limit  int
	Before *time.Time
}

// AuditStore persists an append-only audit log of session events (mode
// transitions, drift, arm changes). Optional: the file-backed mode history
// log remains the source of truth for "what was active when".
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts AuditListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignalBus publishes structured events to interested sinks (panels, desk
// dashboards). Publishing is fire-and-forget; delivery is best effort.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan BusMessage, func(), error)
}

// BusMessage is one message delivered by a SignalBus subscription.
type BusMessage struct {
	Channel string
	Payload []byte
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window, counting it when permitted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter stores an object in blob storage under the given key.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
