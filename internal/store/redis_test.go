package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s := NewRedisStore(RedisOptions{
		Addr:       mr.Addr(),
		MaxRetries: 1,
		OpTimeout:  500 * time.Millisecond,
	}, log)

	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})
	return s, mr
}

func TestDocumentRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	type profile struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	require.NoError(t, s.DocumentSet(ctx, "agent:logic:profile", profile{Name: "Logic", Score: 0.7}))

	var got profile
	found, err := s.DocumentGet(ctx, "agent:logic:profile", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Logic", got.Name)
	assert.Equal(t, 0.7, got.Score)
}

func TestDocumentGetMissingKeepsFallback(t *testing.T) {
	s, _ := setupStore(t)

	fallback := map[string]string{"tone": "neutral"}
	found, err := s.DocumentGet(context.Background(), "agent:nobody:profile", &fallback)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "neutral", fallback["tone"])
}

func TestDocumentGetCorruptDataIsAnError(t *testing.T) {
	s, mr := setupStore(t)
	require.NoError(t, mr.Set("agent:bad:profile", "{not json"))

	var dest map[string]any
	_, err := s.DocumentGet(context.Background(), "agent:bad:profile", &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestLogAppendAndReadNewestFirst(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	key := DebateMessagesKey("d1")

	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		id, err := s.LogAppend(ctx, key, map[string]any{"agent": "logic", "text": text})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		ids = append(ids, id)
	}

	entries, err := s.LogRead(ctx, key, "", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Fields["text"])
	assert.Equal(t, "first", entries[2].Fields["text"])
	assert.Equal(t, ids[2], entries[0].ID)

	limited, err := s.LogRead(ctx, key, "", "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "third", limited[0].Fields["text"])
}

func TestSeriesAppendAndRange(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	key := StanceKey("d1", "logic", "ai-ethics")

	for i, v := range []float64{0.5, 0.55, 0.61} {
		p, err := s.SeriesAppend(ctx, key, int64(1000+i), v)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, v, p.Value)
	}

	points, err := s.SeriesRange(ctx, key, 0, 0)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, int64(1000), points[0].Timestamp)
	assert.Equal(t, 0.61, points[2].Value)

	bounded, err := s.SeriesRange(ctx, key, 1001, 1001)
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, 0.55, bounded[0].Value)
}

func TestSeriesDuplicateValuesDistinctTimestamps(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	key := StanceKey("d1", "skeptic", "ai-ethics")

	_, err := s.SeriesAppend(ctx, key, 1, 0.5)
	require.NoError(t, err)
	_, err = s.SeriesAppend(ctx, key, 2, 0.5)
	require.NoError(t, err)

	points, err := s.SeriesRange(ctx, key, 0, 0)
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestReadsDegradeWritesRaiseWhenUnreachable(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	mr.Close()

	// Reads degrade to empty/fallback, no error surfaces.
	var doc map[string]any
	found, err := s.DocumentGet(ctx, "k", &doc)
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := s.LogRead(ctx, "log", "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	points, err := s.SeriesRange(ctx, "series", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, points)

	matches, err := s.VectorSearch(ctx, "idx", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// The degraded series append returns the nil sentinel.
	p, err := s.SeriesAppend(ctx, "series", 1, 0.5)
	require.NoError(t, err)
	assert.Nil(t, p)

	// Writes raise.
	require.Error(t, s.DocumentSet(ctx, "k", map[string]string{"a": "b"}))
	_, err = s.LogAppend(ctx, "log", map[string]any{"a": "b"})
	require.Error(t, err)
}

func TestDisconnectedShortCircuit(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	mr.Close()

	// First failure flips the disconnected state.
	_, _ = s.LogRead(ctx, "log", "", "", 1)
	assert.Equal(t, StatusDisconnected, s.Health(ctx).Status)

	// Subsequent writes short-circuit with ErrUnavailable instead of
	// dialing again.
	err := s.DocumentSet(ctx, "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.LogAppend(ctx, "log", map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHealthRecovers(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	h := s.Health(ctx)
	assert.Equal(t, StatusConnected, h.Status)

	mr.Close()
	h = s.Health(ctx)
	assert.Equal(t, StatusDisconnected, h.Status)
	assert.NotEmpty(t, h.Error)

	require.NoError(t, mr.Restart())
	h = s.Health(ctx)
	assert.Equal(t, StatusConnected, h.Status)

	// Normal operation resumes after the probe succeeds.
	require.NoError(t, s.DocumentSet(ctx, "k", "v"))
}

func TestHealthReportsKeyCount(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.DocumentSet(ctx, "a", 1))
	require.NoError(t, s.DocumentSet(ctx, "b", 2))

	h := s.Health(ctx)
	assert.Equal(t, StatusConnected, h.Status)
	assert.Equal(t, int64(2), h.Keys)
}

func TestCloseDisconnects(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.DocumentSet(ctx, "k", "v"))
	require.NoError(t, s.Close())

	// The connection is gone: writes fail and health reports disconnected.
	require.Error(t, s.DocumentSet(ctx, "k", "v2"))
	assert.Equal(t, StatusDisconnected, s.Health(ctx).Status)
}

func TestSeriesMemberEncoding(t *testing.T) {
	p, ok := parseSeriesMember(seriesMember(1712345678901, 0.85))
	require.True(t, ok)
	assert.Equal(t, int64(1712345678901), p.Timestamp)
	assert.Equal(t, 0.85, p.Value)

	_, ok = parseSeriesMember("garbage")
	assert.False(t, ok)
}

func TestIsConnErrClassification(t *testing.T) {
	assert.False(t, isConnErr(nil))
	assert.True(t, isConnErr(errors.New("dial tcp: connection refused")))
	assert.True(t, isConnErr(context.DeadlineExceeded))
}
