// Package storetest provides an in-memory Store implementation with a
// degraded switch, used by components above the store so their tests run
// without Redis and can simulate outages.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

type vectorEntry struct {
	vector  []float32
	fields  map[string]string
	created int64
	seq     int64
}

// Store is an in-memory implementation of store.Store. It honors the same
// degradation contract as the Redis adapter: with SetDegraded(true) reads
// return empty/fallback results and writes return store.ErrUnavailable.
type Store struct {
	mu       sync.Mutex
	degraded bool
	seq      int64

	docs    map[string][]byte
	logs    map[string][]store.LogEntry
	series  map[string][]store.SeriesPoint
	indexes map[string]map[string]*vectorEntry
	dims    map[string]int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs:    make(map[string][]byte),
		logs:    make(map[string][]store.LogEntry),
		series:  make(map[string][]store.SeriesPoint),
		indexes: make(map[string]map[string]*vectorEntry),
		dims:    make(map[string]int),
	}
}

// SetDegraded flips the simulated outage on or off.
func (s *Store) SetDegraded(degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = degraded
}

func (s *Store) DocumentGet(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return false, nil
	}
	raw, ok := s.docs[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("storetest: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) DocumentSet(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return store.ErrUnavailable
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storetest: encode %s: %w", key, err)
	}
	s.docs[key] = raw
	return nil
}

// RawDocument returns the stored bytes of a document, for tests asserting
// that a rejected update left the profile byte-for-byte unchanged.
func (s *Store) RawDocument(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}

func (s *Store) LogAppend(_ context.Context, key string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return "", store.ErrUnavailable
	}
	s.seq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), s.seq)
	s.logs[key] = append(s.logs[key], store.LogEntry{ID: id, Fields: fields})
	return id, nil
}

func (s *Store) LogRead(_ context.Context, key, start, end string, limit int64) ([]store.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	entries := s.logs[key]
	out := make([]store.LogEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		e := entries[i]
		if start != "" && start != "-" && strings.Compare(e.ID, start) < 0 {
			continue
		}
		if end != "" && end != "+" && strings.Compare(e.ID, end) > 0 {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) SeriesAppend(_ context.Context, key string, timestamp int64, value float64) (*store.SeriesPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return nil, nil
	}
	p := store.SeriesPoint{Timestamp: timestamp, Value: value}
	s.series[key] = append(s.series[key], p)
	sort.Slice(s.series[key], func(i, j int) bool {
		return s.series[key][i].Timestamp < s.series[key][j].Timestamp
	})
	return &p, nil
}

func (s *Store) SeriesRange(_ context.Context, key string, from, to int64) ([]store.SeriesPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return nil, nil
	}
	var out []store.SeriesPoint
	for _, p := range s.series[key] {
		if from > 0 && p.Timestamp < from {
			continue
		}
		if to > 0 && p.Timestamp > to {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) VectorEnsureIndex(_ context.Context, index string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return store.ErrUnavailable
	}
	if _, ok := s.indexes[index]; !ok {
		s.indexes[index] = make(map[string]*vectorEntry)
		s.dims[index] = dim
	}
	return nil
}

func (s *Store) VectorUpsert(_ context.Context, index, id string, vector []float32, fields map[string]string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return store.ErrUnavailable
	}
	if _, ok := s.indexes[index]; !ok {
		s.indexes[index] = make(map[string]*vectorEntry)
	}
	s.seq++
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.indexes[index][id] = &vectorEntry{
		vector:  append([]float32(nil), vector...),
		fields:  copied,
		created: time.Now().UnixMilli(),
		seq:     s.seq,
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *Store) VectorSearch(_ context.Context, index string, vector []float32, topK int) ([]store.VectorMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	var matches []store.VectorMatch
	for id, e := range s.indexes[index] {
		fields := make(map[string]string, len(e.fields))
		for k, v := range e.fields {
			fields[k] = v
		}
		matches = append(matches, store.VectorMatch{
			ID:     id,
			Score:  cosineSimilarity(vector, e.vector),
			Fields: fields,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) VectorCount(_ context.Context, index string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return 0, store.ErrUnavailable
	}
	return int64(len(s.indexes[index])), nil
}

func (s *Store) VectorEvictOldest(_ context.Context, index string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return 0, store.ErrUnavailable
	}
	type aged struct {
		id      string
		created int64
		seq     int64
	}
	var all []aged
	for id, e := range s.indexes[index] {
		all = append(all, aged{id: id, created: e.created, seq: e.seq})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].created != all[j].created {
			return all[i].created < all[j].created
		}
		return all[i].seq < all[j].seq
	})
	var removed int64
	for _, a := range all {
		if removed >= n {
			break
		}
		delete(s.indexes[index], a.id)
		removed++
	}
	return removed, nil
}

func (s *Store) Health(_ context.Context) store.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return store.Health{Status: store.StatusDisconnected, Error: "degraded (simulated)"}
	}
	return store.Health{Status: store.StatusConnected, Keys: int64(len(s.docs) + len(s.logs) + len(s.series))}
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
