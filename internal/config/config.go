package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Common contains backend parameters shared by every service.
type Common struct {
	ElasticsearchAddr     string
	ElasticsearchIndex    string
	ElasticsearchUsername string
	ElasticsearchPassword string
	DatabasePath          string
}

// Embedding configures the embedding provider and the chunk budget derived from it.
type Embedding struct {
	BaseURL      string
	APIKey       string
	Model        string
	Dims         int
	MaxInput     int
	Timeout      time.Duration
	OverlapRatio float64
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	CacheTTL     time.Duration
}

// Retry bounds the backoff applied to transient collaborator failures.
type Retry struct {
	Attempts  int
	BaseDelay time.Duration
}

// Worker holds configuration for the Kafka -> record store worker.
type Worker struct {
	Common
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaConsumer  string
	DefaultTopic   string
	ResetIndexed   bool
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
	WriteTimeout   time.Duration
}

// Indexer configures the scheduled chunk/embed/index pass.
type Indexer struct {
	Common
	Embedding
	Retry
	Interval    time.Duration
	Concurrency int
	RunTimeout  time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Embedding
	Retry
	BindAddr          string
	RequestTimeout    time.Duration
	TopK              int
	ScoreThreshold    float64
	HistoryLimit      int
	GenerationBaseURL string
	GenerationAPIKey  string
	GenerationModel   string
	GenerationTimeout time.Duration
}

// LoadDotEnv reads a .env file into the process environment when one exists.
// Variables already set win over the file.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common:         loadCommon(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "news_raw"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "news-worker"),
		DefaultTopic:   getEnv("NEWS_TOPIC", "stock"),
		ResetIndexed:   getBool("WORKER_RESET_INDEXED", false),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
		WriteTimeout:   getDuration("WORKER_WRITE_TIMEOUT", "10s"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.WriteTimeout <= 0 {
		return nil, fmt.Errorf("WORKER_WRITE_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadIndexer builds an Indexer config from environment variables.
func LoadIndexer() (*Indexer, error) {
	emb, err := loadEmbedding()
	if err != nil {
		return nil, err
	}
	c := &Indexer{
		Common:      loadCommon(),
		Embedding:   *emb,
		Retry:       loadRetry(),
		Interval:    getDuration("INDEXER_INTERVAL", "1h"),
		Concurrency: getInt("INDEXER_CONCURRENCY", 1),
		RunTimeout:  getDuration("INDEXER_RUN_TIMEOUT", "50m"),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("INDEXER_INTERVAL must be positive")
	}
	if c.Concurrency <= 0 {
		return nil, fmt.Errorf("INDEXER_CONCURRENCY must be positive")
	}
	if c.RunTimeout <= 0 {
		return nil, fmt.Errorf("INDEXER_RUN_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	emb, err := loadEmbedding()
	if err != nil {
		return nil, err
	}
	c := &API{
		Common:            loadCommon(),
		Embedding:         *emb,
		Retry:             loadRetry(),
		BindAddr:          getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		RequestTimeout:    getDuration("API_REQUEST_TIMEOUT", "90s"),
		TopK:              getInt("RETRIEVAL_TOP_K", 3),
		ScoreThreshold:    getFloat("RETRIEVAL_SCORE_THRESHOLD", 1.4),
		HistoryLimit:      getInt("HISTORY_LIMIT", 6),
		GenerationBaseURL: getEnv("GENERATION_BASE_URL", ""),
		GenerationAPIKey:  getEnv("GENERATION_API_KEY", ""),
		GenerationModel:   getEnv("GENERATION_MODEL", "gpt-4o-mini"),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", "60s"),
	}

	if c.TopK <= 0 {
		return nil, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 2 {
		return nil, fmt.Errorf("RETRIEVAL_SCORE_THRESHOLD must be within [0, 2]")
	}
	if c.HistoryLimit < 0 {
		return nil, fmt.Errorf("HISTORY_LIMIT cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return nil, fmt.Errorf("API_REQUEST_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadCommon exposes the shared backend settings for tools that need nothing else.
func LoadCommon() Common {
	return loadCommon()
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:     getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex:    getEnv("ELASTICSEARCH_INDEX", "news"),
		ElasticsearchUsername: getEnv("ELASTICSEARCH_USERNAME", ""),
		ElasticsearchPassword: getEnv("ELASTICSEARCH_PASSWORD", ""),
		DatabasePath:          getEnv("DATABASE_PATH", "news.db"),
	}
}

func loadEmbedding() (*Embedding, error) {
	e := &Embedding{
		BaseURL:      getEnv("EMBEDDING_BASE_URL", ""),
		APIKey:       getEnv("EMBEDDING_API_KEY", ""),
		Model:        getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		Dims:         getInt("EMBEDDING_DIMS", 768),
		MaxInput:     getInt("EMBEDDING_MAX_INPUT", 512),
		Timeout:      getDuration("EMBEDDING_TIMEOUT", "30s"),
		OverlapRatio: getFloat("CHUNK_OVERLAP_RATIO", 0.2),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:      getInt("REDIS_DB", 0),
		CacheTTL:     getDuration("EMBEDDING_CACHE_TTL", "168h"),
	}

	if e.Dims <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIMS must be positive")
	}
	if e.MaxInput <= 0 {
		return nil, fmt.Errorf("EMBEDDING_MAX_INPUT must be positive")
	}
	if e.OverlapRatio < 0 || e.OverlapRatio >= 1 {
		return nil, fmt.Errorf("CHUNK_OVERLAP_RATIO must be within [0, 1)")
	}

	return e, nil
}

func loadRetry() Retry {
	return Retry{
		Attempts:  getInt("RETRY_ATTEMPTS", 3),
		BaseDelay: getDuration("RETRY_BASE_DELAY", "500ms"),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
