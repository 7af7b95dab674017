// Package cache memoizes expensive generation calls by embedding prompts
// and serving near-duplicate requests from the similarity index.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/metrics"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

// tokenCostUSD is the assumed generation price per token, used for the
// estimated-cost-saved accounting.
const tokenCostUSD = 0.000002

// Config bounds the semantic cache.
type Config struct {
	IndexName           string
	SimilarityThreshold float64 // a hit requires similarity >= threshold
	TTL                 time.Duration
	MaxEntries          int64
	TopK                int
}

// Hit is a served cache entry.
type Hit struct {
	Response    string  `json:"response"`
	Similarity  float64 `json:"similarity"`
	TokensSaved int     `json:"tokensSaved"`
}

// Stats is the on-demand accounting snapshot. HitRatio is recomputed from
// the counters on every call, never stored.
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Total        int64   `json:"total"`
	HitRatio     float64 `json:"hitRatio"`
	TokensSaved  int64   `json:"tokensSaved"`
	CostSavedUSD float64 `json:"costSavedUsd"`
	Entries      int64   `json:"entries"`
}

// SemanticCache sits in front of the generator. Lookups degrade with the
// store: an unreachable similarity index yields misses, never errors.
type SemanticCache struct {
	store    store.Store
	embedder llm.Embedder
	cfg      Config
	log      *logrus.Logger
	metrics  *metrics.Metrics

	hits        atomic.Int64
	misses      atomic.Int64
	tokensSaved atomic.Int64
	ensured     atomic.Bool
}

// New creates the cache.
func New(st store.Store, embedder llm.Embedder, cfg Config, m *metrics.Metrics, log *logrus.Logger) *SemanticCache {
	if cfg.IndexName == "" {
		cfg.IndexName = "semcache"
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &SemanticCache{store: st, embedder: embedder, cfg: cfg, metrics: m, log: log}
}

// Lookup returns the best cached response whose similarity meets the
// threshold, or a miss. Every lookup is counted either way.
func (c *SemanticCache) Lookup(ctx context.Context, prompt string) (*Hit, bool) {
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.log.WithError(err).Debug("cache lookup embedding failed, treating as miss")
		return c.miss()
	}

	matches, err := c.store.VectorSearch(ctx, c.cfg.IndexName, vec, c.cfg.TopK)
	if err != nil || len(matches) == 0 {
		return c.miss()
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	if best.Score < c.cfg.SimilarityThreshold {
		return c.miss()
	}

	tokens, _ := strconv.Atoi(best.Fields["tokens"])
	c.hits.Add(1)
	c.tokensSaved.Add(int64(tokens))
	c.metrics.CacheHits.Inc()
	c.metrics.CacheCostSavedUS.Add(float64(tokens) * tokenCostUSD * 1e6)

	return &Hit{
		Response:    best.Fields["response"],
		Similarity:  best.Score,
		TokensSaved: tokens,
	}, true
}

func (c *SemanticCache) miss() (*Hit, bool) {
	c.misses.Add(1)
	c.metrics.CacheMisses.Inc()
	return nil, false
}

// Store persists a generation result under the prompt's embedding. The
// entry count stays within MaxEntries: oldest entries are evicted first.
func (c *SemanticCache) Store(ctx context.Context, prompt, response string, tokensUsed int) error {
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return fmt.Errorf("cache: embed prompt: %w", err)
	}

	if !c.ensured.Load() {
		if err := c.store.VectorEnsureIndex(ctx, c.cfg.IndexName, len(vec)); err != nil {
			return err
		}
		c.ensured.Store(true)
	}

	if c.cfg.MaxEntries > 0 {
		count, err := c.store.VectorCount(ctx, c.cfg.IndexName)
		if err != nil {
			return err
		}
		if count >= c.cfg.MaxEntries {
			evict := count - c.cfg.MaxEntries + 1
			if _, err := c.store.VectorEvictOldest(ctx, c.cfg.IndexName, evict); err != nil {
				return err
			}
		}
	}

	return c.store.VectorUpsert(ctx, c.cfg.IndexName, uuid.NewString(), vec, map[string]string{
		"prompt":   prompt,
		"response": response,
		"tokens":   strconv.Itoa(tokensUsed),
	}, c.cfg.TTL)
}

// Stats snapshots the accounting counters.
func (c *SemanticCache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	s := Stats{
		Hits:        hits,
		Misses:      misses,
		Total:       total,
		TokensSaved: c.tokensSaved.Load(),
	}
	if total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	s.CostSavedUSD = float64(s.TokensSaved) * tokenCostUSD
	if n, err := c.store.VectorCount(ctx, c.cfg.IndexName); err == nil {
		s.Entries = n
	}
	return s
}
