// Package store presents four typed operation families (documents, ordered
// logs, numeric series, similarity-searchable vectors) over a single backing
// Redis connection. Failure handling is asymmetric on purpose: writes return
// errors so durability failures stay visible, reads degrade to empty or
// fallback values so a storage outage does not cascade into foreground
// errors. Callers consult Health to tell "no data" apart from "unreachable".
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by write operations while the backing store is
// in the disconnected state.
var ErrUnavailable = errors.New("store: backing store unavailable")

// LogEntry is one immutable record of an append-only per-key log. The ID is
// store-assigned and time-ordered within its key.
type LogEntry struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// SeriesPoint is one (timestamp, value) sample of a numeric series.
// Timestamps are unix milliseconds.
type SeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// VectorMatch is one ranked result of a similarity search. Score is cosine
// similarity in [0, 1], higher is closer.
type VectorMatch struct {
	ID     string            `json:"id"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields"`
}

// Status reports the connection state of the store client.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Health is the result of the ping + size probe.
type Health struct {
	Status  Status `json:"status"`
	Keys    int64  `json:"keys"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Store is the persistence facade shared by every component. One concrete
// adapter owns the connection; nothing else in the service opens its own.
//
// Contracts:
//   - DocumentGet decodes into dest and reports whether the document was
//     found. When the store is unreachable it returns (false, nil) and
//     leaves dest untouched, so callers keep whatever fallback value dest
//     already holds. A document that exists but cannot be decoded is an
//     error, never silently dropped.
//   - DocumentSet and LogAppend always return an error on failure.
//   - LogRead returns entries newest first and degrades to an empty slice
//     when the store is unreachable.
//   - SeriesAppend returns the written point, or (nil, nil) as the degraded
//     sentinel when the store is unreachable; a failure on a live
//     connection is an error. SeriesRange degrades to an empty slice.
//   - VectorSearch degrades to an empty result set. VectorUpsert,
//     VectorCount and VectorEvictOldest are write-path operations and
//     return errors, so the semantic cache bound stays enforced.
type Store interface {
	DocumentGet(ctx context.Context, key string, dest any) (bool, error)
	DocumentSet(ctx context.Context, key string, value any) error

	LogAppend(ctx context.Context, key string, fields map[string]any) (string, error)
	LogRead(ctx context.Context, key, start, end string, limit int64) ([]LogEntry, error)

	SeriesAppend(ctx context.Context, key string, timestamp int64, value float64) (*SeriesPoint, error)
	SeriesRange(ctx context.Context, key string, from, to int64) ([]SeriesPoint, error)

	VectorEnsureIndex(ctx context.Context, index string, dim int) error
	VectorUpsert(ctx context.Context, index, id string, vector []float32, fields map[string]string, ttl time.Duration) error
	VectorSearch(ctx context.Context, index string, vector []float32, topK int) ([]VectorMatch, error)
	VectorCount(ctx context.Context, index string) (int64, error)
	VectorEvictOldest(ctx context.Context, index string, n int64) (int64, error)

	Health(ctx context.Context) Health
	Close() error
}
