package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// probeInterval bounds how often a disconnected client re-attempts the
// backing store instead of short-circuiting to fallbacks.
const probeInterval = 5 * time.Second

// RedisOptions configures the Redis adapter.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int           // connection-level retries inside the client, exponential backoff
	OpTimeout  time.Duration // per-operation deadline for reads
}

// RedisStore implements Store on a single go-redis client. Connection-class
// failures are retried inside the client up to MaxRetries with exponential
// backoff; once they surface here the store flips to the disconnected state
// and short-circuits until a probe or health check succeeds again.
type RedisStore struct {
	client       *redis.Client
	log          *logrus.Logger
	opTimeout    time.Duration
	disconnected atomic.Bool
	lastProbe    atomic.Int64 // unix nanos of the last reconnect attempt
}

// NewRedisStore creates the adapter. It does not dial eagerly; the first
// operation or health check establishes the connection.
func NewRedisStore(opts RedisOptions, log *logrus.Logger) *RedisStore {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		MaxRetries:      opts.MaxRetries,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	})
	return &RedisStore{
		client:    client,
		log:       log,
		opTimeout: opts.OpTimeout,
	}
}

// isConnErr reports whether err is a connection-class failure rather than a
// server reply. Server replies (including redis.Nil) implement redis.Error.
func isConnErr(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var rerr redis.Error
	return !errors.As(err, &rerr)
}

// markDown flips the client into the disconnected state.
func (s *RedisStore) markDown(op string, err error) {
	if s.disconnected.CompareAndSwap(false, true) {
		s.log.WithError(err).WithField("op", op).Warn("store connection lost, entering disconnected state")
	}
	s.lastProbe.Store(time.Now().UnixNano())
}

// markUp clears the disconnected state.
func (s *RedisStore) markUp() {
	if s.disconnected.CompareAndSwap(true, false) {
		s.log.Info("store connection restored")
	}
}

// shouldAttempt reports whether a disconnected client may probe the backing
// store again. At most one probe per probeInterval; everything else
// short-circuits.
func (s *RedisStore) shouldAttempt() bool {
	if !s.disconnected.Load() {
		return true
	}
	last := s.lastProbe.Load()
	now := time.Now().UnixNano()
	if now-last < int64(probeInterval) {
		return false
	}
	return s.lastProbe.CompareAndSwap(last, now)
}

func (s *RedisStore) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// DocumentGet reads a JSON document into dest. Absent keys and unreachable
// stores both report (false, nil); dest keeps its fallback value.
func (s *RedisStore) DocumentGet(ctx context.Context, key string, dest any) (bool, error) {
	if !s.shouldAttempt() {
		return false, nil
	}
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		s.markUp()
		return false, nil
	}
	if err != nil {
		if isConnErr(err) {
			s.markDown("document.get", err)
			return false, nil
		}
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	s.markUp()
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// DocumentSet writes a JSON document. Write failures are never swallowed.
func (s *RedisStore) DocumentSet(ctx context.Context, key string, value any) error {
	if !s.shouldAttempt() {
		return ErrUnavailable
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		if isConnErr(err) {
			s.markDown("document.set", err)
			return fmt.Errorf("store: set %s: %w", key, ErrUnavailable)
		}
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	s.markUp()
	return nil
}

// LogAppend appends an immutable record to the per-key stream and returns
// the store-assigned, time-ordered entry id.
func (s *RedisStore) LogAppend(ctx context.Context, key string, fields map[string]any) (string, error) {
	if !s.shouldAttempt() {
		return "", ErrUnavailable
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: fields}).Result()
	if err != nil {
		if isConnErr(err) {
			s.markDown("log.append", err)
			return "", fmt.Errorf("store: xadd %s: %w", key, ErrUnavailable)
		}
		return "", fmt.Errorf("store: xadd %s: %w", key, err)
	}
	s.markUp()
	return id, nil
}

// LogRead returns up to limit entries newest first within [start, end].
// Empty bounds default to the full range. Degrades to an empty slice when
// the store is unreachable.
func (s *RedisStore) LogRead(ctx context.Context, key, start, end string, limit int64) ([]LogEntry, error) {
	if !s.shouldAttempt() {
		return nil, nil
	}
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "+"
	}
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	// XREVRANGE walks from end down to start.
	msgs, err := s.client.XRevRangeN(ctx, key, end, start, limit).Result()
	if err != nil {
		if isConnErr(err) {
			s.markDown("log.read", err)
			return nil, nil
		}
		s.log.WithError(err).WithField("key", key).Warn("log read failed, degrading to empty")
		return nil, nil
	}
	s.markUp()
	entries := make([]LogEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, LogEntry{ID: m.ID, Fields: m.Values})
	}
	return entries, nil
}

// seriesMember encodes one sample so duplicate values at distinct
// timestamps stay distinct sorted-set members.
func seriesMember(timestamp int64, value float64) string {
	return strconv.FormatInt(timestamp, 10) + ":" + strconv.FormatFloat(value, 'g', -1, 64)
}

func parseSeriesMember(member string) (SeriesPoint, bool) {
	i := strings.IndexByte(member, ':')
	if i < 0 {
		return SeriesPoint{}, false
	}
	ts, err1 := strconv.ParseInt(member[:i], 10, 64)
	v, err2 := strconv.ParseFloat(member[i+1:], 64)
	if err1 != nil || err2 != nil {
		return SeriesPoint{}, false
	}
	return SeriesPoint{Timestamp: ts, Value: v}, true
}

// SeriesAppend records one sample. The nil point with nil error is the
// degraded sentinel, distinguishable from a real write.
func (s *RedisStore) SeriesAppend(ctx context.Context, key string, timestamp int64, value float64) (*SeriesPoint, error) {
	if !s.shouldAttempt() {
		return nil, nil
	}
	z := redis.Z{Score: float64(timestamp), Member: seriesMember(timestamp, value)}
	if err := s.client.ZAdd(ctx, key, z).Err(); err != nil {
		if isConnErr(err) {
			s.markDown("series.append", err)
			return nil, nil
		}
		return nil, fmt.Errorf("store: zadd %s: %w", key, err)
	}
	s.markUp()
	return &SeriesPoint{Timestamp: timestamp, Value: value}, nil
}

// SeriesRange returns samples with from <= timestamp <= to, oldest first.
// Zero bounds default to the full range.
func (s *RedisStore) SeriesRange(ctx context.Context, key string, from, to int64) ([]SeriesPoint, error) {
	if !s.shouldAttempt() {
		return nil, nil
	}
	minArg, maxArg := "-inf", "+inf"
	if from > 0 {
		minArg = strconv.FormatInt(from, 10)
	}
	if to > 0 {
		maxArg = strconv.FormatInt(to, 10)
	}
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: minArg, Max: maxArg}).Result()
	if err != nil {
		if isConnErr(err) {
			s.markDown("series.range", err)
			return nil, nil
		}
		s.log.WithError(err).WithField("key", key).Warn("series read failed, degrading to empty")
		return nil, nil
	}
	s.markUp()
	points := make([]SeriesPoint, 0, len(members))
	for _, m := range members {
		if p, ok := parseSeriesMember(m); ok {
			points = append(points, p)
		}
	}
	return points, nil
}

const vectorField = "embedding"

func vectorIndexCreatedKey(index string) string { return index + ":created" }

func vectorDocKey(index, id string) string { return index + ":" + id }

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// VectorEnsureIndex creates the RediSearch index for similarity lookups.
// Creating an index that already exists is not an error.
func (s *RedisStore) VectorEnsureIndex(ctx context.Context, index string, dim int) error {
	if !s.shouldAttempt() {
		return ErrUnavailable
	}
	err := s.client.FTCreate(ctx, index,
		&redis.FTCreateOptions{OnHash: true, Prefix: []any{index + ":"}},
		&redis.FieldSchema{
			FieldName: vectorField,
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				FlatOptions: &redis.FTFlatOptions{
					Type:           "FLOAT32",
					Dim:            dim,
					DistanceMetric: "COSINE",
				},
			},
		},
		&redis.FieldSchema{FieldName: "created_at", FieldType: redis.SearchFieldTypeNumeric},
	).Err()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "index already exists") {
			s.markUp()
			return nil
		}
		if isConnErr(err) {
			s.markDown("vector.ensure", err)
			return fmt.Errorf("store: ft.create %s: %w", index, ErrUnavailable)
		}
		return fmt.Errorf("store: ft.create %s: %w", index, err)
	}
	s.markUp()
	return nil
}

// VectorUpsert writes one embedding document. The created-at sorted set
// backs oldest-first eviction.
func (s *RedisStore) VectorUpsert(ctx context.Context, index, id string, vector []float32, fields map[string]string, ttl time.Duration) error {
	if !s.shouldAttempt() {
		return ErrUnavailable
	}
	values := map[string]any{vectorField: encodeVector(vector)}
	for k, v := range fields {
		values[k] = v
	}
	now := time.Now().UnixMilli()
	values["created_at"] = now

	key := vectorDocKey(index, id)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, values)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	pipe.ZAdd(ctx, vectorIndexCreatedKey(index), redis.Z{Score: float64(now), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		if isConnErr(err) {
			s.markDown("vector.upsert", err)
			return fmt.Errorf("store: upsert %s: %w", key, ErrUnavailable)
		}
		return fmt.Errorf("store: upsert %s: %w", key, err)
	}
	s.markUp()
	return nil
}

// VectorSearch runs a KNN query and converts cosine distance to similarity.
// Degrades to an empty result set when the store is unreachable.
func (s *RedisStore) VectorSearch(ctx context.Context, index string, vector []float32, topK int) ([]VectorMatch, error) {
	if !s.shouldAttempt() {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	query := fmt.Sprintf("*=>[KNN %d @%s $vec AS dist]", topK, vectorField)
	res, err := s.client.FTSearchWithArgs(ctx, index, query, &redis.FTSearchOptions{
		SortBy:         []redis.FTSearchSortBy{{FieldName: "dist", Asc: true}},
		Limit:          topK,
		DialectVersion: 2,
		Params:         map[string]any{"vec": encodeVector(vector)},
	}).Result()
	if err != nil {
		if isConnErr(err) {
			s.markDown("vector.search", err)
			return nil, nil
		}
		s.log.WithError(err).WithField("index", index).Warn("vector search failed, degrading to empty")
		return nil, nil
	}
	s.markUp()
	matches := make([]VectorMatch, 0, len(res.Docs))
	for _, doc := range res.Docs {
		fields := make(map[string]string, len(doc.Fields))
		for k, v := range doc.Fields {
			fields[k] = v
		}
		score := 0.0
		if distStr, ok := fields["dist"]; ok {
			if dist, perr := strconv.ParseFloat(distStr, 64); perr == nil {
				score = 1 - dist
			}
			delete(fields, "dist")
		}
		delete(fields, vectorField)
		id := strings.TrimPrefix(doc.ID, index+":")
		matches = append(matches, VectorMatch{ID: id, Score: score, Fields: fields})
	}
	return matches, nil
}

// VectorCount reports how many entries the index holds.
func (s *RedisStore) VectorCount(ctx context.Context, index string) (int64, error) {
	if !s.shouldAttempt() {
		return 0, ErrUnavailable
	}
	n, err := s.client.ZCard(ctx, vectorIndexCreatedKey(index)).Result()
	if err != nil {
		if isConnErr(err) {
			s.markDown("vector.count", err)
			return 0, ErrUnavailable
		}
		return 0, fmt.Errorf("store: zcard %s: %w", index, err)
	}
	s.markUp()
	return n, nil
}

// VectorEvictOldest removes the n oldest entries from the index and returns
// how many were removed.
func (s *RedisStore) VectorEvictOldest(ctx context.Context, index string, n int64) (int64, error) {
	if !s.shouldAttempt() {
		return 0, ErrUnavailable
	}
	popped, err := s.client.ZPopMin(ctx, vectorIndexCreatedKey(index), n).Result()
	if err != nil {
		if isConnErr(err) {
			s.markDown("vector.evict", err)
			return 0, ErrUnavailable
		}
		return 0, fmt.Errorf("store: zpopmin %s: %w", index, err)
	}
	for _, z := range popped {
		id, _ := z.Member.(string)
		if id == "" {
			continue
		}
		if err := s.client.Del(ctx, vectorDocKey(index, id)).Err(); err != nil {
			s.log.WithError(err).WithField("id", id).Warn("evicted index entry but delete failed")
		}
	}
	s.markUp()
	return int64(len(popped)), nil
}

// Health runs the ping + size probe and reconciles the disconnected flag.
func (s *RedisStore) Health(ctx context.Context) Health {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	begin := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.markDown("health.ping", err)
		return Health{Status: StatusDisconnected, Error: err.Error()}
	}
	s.markUp()
	h := Health{Status: StatusConnected, Latency: time.Since(begin).String()}
	if keys, err := s.client.DBSize(ctx).Result(); err == nil {
		h.Keys = keys
	}
	return h
}

// Close performs the graceful disconnect on shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
