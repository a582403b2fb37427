package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	DBMaxConns  int
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration
	CORSOrigins []string

	Queue     QueueConfig
	Reconcile ReconcileConfig
	AI        AIConfig

	ReconcileCron  string
	AIBackfillCron string
}

type QueueConfig struct {
	Stream       string
	Group        string
	Consumer     string
	Workers      int // consumers per worker process
	MaxRetry     int
	Block        time.Duration
	ClaimMinIdle time.Duration // pending entries idle this long move to another consumer
}

type ReconcileConfig struct {
	BatchSize      int
	MinPrice       float64
	BatchTimeout   time.Duration
	MatchTitle     bool
	Chain          bool
	ListingBaseURL string
}

type AIConfig struct {
	Provider       string // openai | anthropic
	OpenAIKey      string
	OpenAIBase     string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	RPS            int
	BackfillLimit  int
	GroupSize      int
	Cooldown       time.Duration
	Timeout        time.Duration
}

func Load() Config {
	// .env is optional; real environment variables always win.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/lamudi?parseTime=true&multiStatements=true&charset=utf8mb4&loc=UTC"),
		DBMaxConns:  atoi("DB_MAX_OPEN_CONNS", 20),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,
		CORSOrigins: splitList(env("CORS_ORIGINS", "*")),
		Queue: QueueConfig{
			Stream:       env("QUEUE_STREAM", "lamudi:queue"),
			Group:        env("QUEUE_GROUP", "lamudi-workers"),
			Consumer:     env("QUEUE_CONSUMER", hostname()),
			Workers:      atoi("QUEUE_WORKERS", 2),
			MaxRetry:     atoi("QUEUE_MAX_RETRY", 5),
			Block:        duration("QUEUE_BLOCK", 2*time.Second),
			ClaimMinIdle: duration("QUEUE_CLAIM_MIN_IDLE", 15*time.Minute),
		},
		Reconcile: ReconcileConfig{
			BatchSize:      atoi("RECONCILE_BATCH_SIZE", 50),
			MinPrice:       float64(atoi("RECONCILE_MIN_PRICE", 5000)),
			BatchTimeout:   duration("RECONCILE_BATCH_TIMEOUT", 2*time.Minute),
			MatchTitle:     boolean("RECONCILE_MATCH_TITLE", false),
			Chain:          boolean("RECONCILE_CHAIN", true),
			ListingBaseURL: env("LISTING_BASE_URL", "https://lamudi.com.ph/"),
		},
		AI: AIConfig{
			Provider:       strings.ToLower(env("AI_PROVIDER", "openai")),
			OpenAIKey:      env("OPENAI_API_KEY", ""),
			OpenAIBase:     env("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIModel:    env("OPENAI_MODEL", "gpt-4o"),
			AnthropicKey:   env("ANTHROPIC_API_KEY", ""),
			AnthropicModel: env("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			RPS:            atoi("AI_RPS", 1),
			BackfillLimit:  atoi("AI_BACKFILL_LIMIT", 10),
			GroupSize:      atoi("AI_GROUP_SIZE", 2),
			Cooldown:       duration("AI_COOLDOWN", 2*time.Second),
			Timeout:        duration("AI_TIMEOUT", 90*time.Second),
		},
		ReconcileCron:  env("RECONCILE_CRON", ""),
		AIBackfillCron: env("AI_BACKFILL_CRON", ""),
	}
	if c.AI.Provider == "openai" && c.AI.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is empty")
	}
	if c.AI.Provider == "anthropic" && c.AI.AnthropicKey == "" {
		log.Warn().Msg("ANTHROPIC_API_KEY is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// duration accepts Go durations ("90s") or plain seconds ("90").
func duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warn().Str("key", k).Str("value", v).Msg("invalid duration, using default")
	return def
}

func boolean(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "worker-1"
}
