package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration, loaded from the environment.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Debate   DebateConfig
	Cache    CacheConfig
	Rate     RateConfig
	Realtime RealtimeConfig
	LLM      LLMConfig
}

type ServerConfig struct {
	Port         string
	Production   bool
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int
	OpTimeout  time.Duration
}

// DebateConfig bounds the lifecycle manager and the per-debate turn loop.
type DebateConfig struct {
	MaxConcurrent  int
	StartCooldown  time.Duration
	MaxAgents      int
	MaxBatchTopics int
	TurnInterval   time.Duration
	FactCheckEvery int
}

type CacheConfig struct {
	SimilarityThreshold float64
	TTL                 time.Duration
	MaxEntries          int64
	TopK                int
	IndexName           string
	EvictionPolicy      string
}

// RatePolicy is one fixed-window admission policy.
type RatePolicy struct {
	Requests int
	Window   time.Duration
}

// RateConfig holds the three independent admission policies: general traffic,
// state-mutating API calls, and calls that consume the generation budget.
type RateConfig struct {
	General    RatePolicy
	API        RatePolicy
	Generation RatePolicy
}

type RealtimeConfig struct {
	MaxSessionsPerIP  int
	MaxMessagesPerMin int
}

type LLMConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	RPS        float64
	Burst      int
	Timeout    time.Duration
}

// Load reads configuration from the environment, falling back to defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Production:   getBoolEnv("PRODUCTION", false),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getIntEnv("REDIS_DB", 0),
			MaxRetries: getIntEnv("REDIS_MAX_RETRIES", 3),
			OpTimeout:  getDurationEnv("REDIS_OP_TIMEOUT", 2*time.Second),
		},
		Debate: DebateConfig{
			MaxConcurrent:  getIntEnv("MAX_CONCURRENT_DEBATES", 10),
			StartCooldown:  getDurationEnv("START_COOLDOWN", 30*time.Second),
			MaxAgents:      getIntEnv("MAX_AGENTS_PER_DEBATE", 5),
			MaxBatchTopics: getIntEnv("MAX_BATCH_TOPICS", 5),
			TurnInterval:   getDurationEnv("TURN_INTERVAL", 8*time.Second),
			FactCheckEvery: getIntEnv("FACT_CHECK_EVERY", 3),
		},
		Cache: CacheConfig{
			SimilarityThreshold: getFloatEnv("CACHE_SIMILARITY_THRESHOLD", 0.85),
			TTL:                 getDurationEnv("CACHE_TTL", time.Hour),
			MaxEntries:          int64(getIntEnv("CACHE_MAX_ENTRIES", 1000)),
			TopK:                getIntEnv("CACHE_TOP_K", 5),
			IndexName:           getEnv("CACHE_INDEX_NAME", "semcache"),
			EvictionPolicy:      getEnv("CACHE_EVICTION_POLICY", "oldest"),
		},
		Rate: RateConfig{
			General: RatePolicy{
				Requests: getIntEnv("RATE_GENERAL_REQUESTS", 100),
				Window:   getDurationEnv("RATE_GENERAL_WINDOW", time.Minute),
			},
			API: RatePolicy{
				Requests: getIntEnv("RATE_API_REQUESTS", 30),
				Window:   getDurationEnv("RATE_API_WINDOW", time.Minute),
			},
			Generation: RatePolicy{
				Requests: getIntEnv("RATE_GEN_REQUESTS", 10),
				Window:   getDurationEnv("RATE_GEN_WINDOW", time.Minute),
			},
		},
		Realtime: RealtimeConfig{
			MaxSessionsPerIP:  getIntEnv("WS_MAX_SESSIONS_PER_IP", 5),
			MaxMessagesPerMin: getIntEnv("WS_MAX_MESSAGES_PER_MIN", 60),
		},
		LLM: LLMConfig{
			BaseURL:    getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:     getEnv("LLM_API_KEY", ""),
			Model:      getEnv("LLM_MODEL", "gpt-4o-mini"),
			EmbedModel: getEnv("LLM_EMBED_MODEL", "text-embedding-3-small"),
			RPS:        getFloatEnv("LLM_RPS", 1),
			Burst:      getIntEnv("LLM_BURST", 3),
			Timeout:    getDurationEnv("LLM_TIMEOUT", 60*time.Second),
		},
	}
}

// Validate rejects configurations that would leave the service in an
// unusable or unbounded state. All problems are reported at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Redis.Addr == "" {
		problems = append(problems, "REDIS_ADDR must not be empty")
	}
	if c.Redis.MaxRetries < 0 {
		problems = append(problems, "REDIS_MAX_RETRIES must not be negative")
	}
	if c.Debate.MaxConcurrent <= 0 {
		problems = append(problems, "MAX_CONCURRENT_DEBATES must be positive")
	}
	if c.Debate.MaxAgents <= 0 || c.Debate.MaxAgents > 5 {
		problems = append(problems, "MAX_AGENTS_PER_DEBATE must be in 1..5")
	}
	if c.Debate.MaxBatchTopics <= 0 {
		problems = append(problems, "MAX_BATCH_TOPICS must be positive")
	}
	if c.Debate.StartCooldown < 0 {
		problems = append(problems, "START_COOLDOWN must not be negative")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		problems = append(problems, "CACHE_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if c.Cache.MaxEntries <= 0 {
		problems = append(problems, "CACHE_MAX_ENTRIES must be positive")
	}
	if c.Cache.EvictionPolicy != "oldest" {
		problems = append(problems, "CACHE_EVICTION_POLICY: only \"oldest\" is supported")
	}
	for name, p := range map[string]RatePolicy{
		"RATE_GENERAL": c.Rate.General,
		"RATE_API":     c.Rate.API,
		"RATE_GEN":     c.Rate.Generation,
	} {
		if p.Requests <= 0 || p.Window <= 0 {
			problems = append(problems, name+" requests and window must be positive")
		}
	}
	if c.Realtime.MaxSessionsPerIP <= 0 || c.Realtime.MaxMessagesPerMin <= 0 {
		problems = append(problems, "WS session and message limits must be positive")
	}
	if c.LLM.RPS <= 0 {
		problems = append(problems, "LLM_RPS must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
