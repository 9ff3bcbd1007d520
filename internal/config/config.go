package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Claude extraction
	AnthropicAPIKey string
	AnthropicModel  string

	// Embeddings
	EmbedProvider    string
	GeminiAPIKey     string
	GeminiEmbedModel string
	OllamaURL        string
	OllamaEmbedModel string
	EmbedDimension   int

	// Rule store
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Vector index
	IndexDriver      string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Document storage
	StorageType      string
	LocalStoragePath string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string

	// Extraction scheduling
	BatchWidth     int
	MaxRetries     int
	RetryBaseDelay time.Duration
	BatchPause     time.Duration
	ExtractTimeout time.Duration

	// Quality gate
	QualityThreshold float64

	// Chunk budgets (units) and overlap windows (words) per content type
	BodyBudget     int
	TableBudget    int
	FormulaBudget  int
	ListBudget     int
	HeaderBudget   int
	BodyOverlap    int
	TableOverlap   int
	FormulaOverlap int
	ListOverlap    int
	HeaderOverlap  int

	// Run state
	RunTTL time.Duration

	// Retrieval
	SearchLimit        int
	SearchMaxExpansion int
}

func Load() Config {
	// A .env file is optional; variables already set in the environment win.
	_ = godotenv.Load()

	cfg := Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		EmbedProvider:    envOr("EMBED_PROVIDER", "ollama"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiEmbedModel: os.Getenv("GEMINI_EMBED_MODEL"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel: os.Getenv("OLLAMA_EMBED_MODEL"),
		EmbedDimension:   envInt("EMBED_DIMENSION", 768),

		StoreDriver: envOr("STORE_DRIVER", "sqlite"),
		SQLitePath:  envOr("SQLITE_PATH", "regula.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		IndexDriver:      envOr("INDEX_DRIVER", "qdrant"),
		QdrantURL:        envOr("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "regula_rules"),

		StorageType:      envOr("STORAGE_TYPE", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "./data/documents"),
		S3Bucket:         os.Getenv("AWS_S3_BUCKET"),
		S3Region:         envOr("AWS_REGION", "us-east-1"),
		S3Endpoint:       os.Getenv("AWS_S3_ENDPOINT"),
		S3AccessKey:      os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey:      os.Getenv("AWS_SECRET_ACCESS_KEY"),

		BatchWidth:     envInt("BATCH_WIDTH", 3),
		MaxRetries:     envInt("MAX_RETRIES", 3),
		RetryBaseDelay: envDuration("RETRY_BASE_DELAY", 1*time.Second),
		BatchPause:     envDuration("BATCH_PAUSE", 500*time.Millisecond),
		ExtractTimeout: envDuration("EXTRACT_TIMEOUT", 60*time.Second),

		QualityThreshold: envFloat("QUALITY_THRESHOLD", 0.7),

		BodyBudget:     envInt("CHUNK_BODY_BUDGET", 1200),
		TableBudget:    envInt("CHUNK_TABLE_BUDGET", 800),
		FormulaBudget:  envInt("CHUNK_FORMULA_BUDGET", 1000),
		ListBudget:     envInt("CHUNK_LIST_BUDGET", 1000),
		HeaderBudget:   envInt("CHUNK_HEADER_BUDGET", 600),
		BodyOverlap:    envInt("CHUNK_BODY_OVERLAP", 150),
		TableOverlap:   envInt("CHUNK_TABLE_OVERLAP", 150),
		FormulaOverlap: envInt("CHUNK_FORMULA_OVERLAP", 200),
		ListOverlap:    envInt("CHUNK_LIST_OVERLAP", 150),
		HeaderOverlap:  envInt("CHUNK_HEADER_OVERLAP", 50),

		RunTTL: envDuration("RUN_TTL", 1*time.Hour),

		SearchLimit:        envInt("SEARCH_LIMIT", 5),
		SearchMaxExpansion: envInt("SEARCH_MAX_EXPANSION", 10),
	}

	if cfg.BatchWidth <= 0 {
		cfg.BatchWidth = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1 * time.Second
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 60 * time.Second
	}
	if cfg.QualityThreshold <= 0 || cfg.QualityThreshold > 1 {
		cfg.QualityThreshold = 0.7
	}
	if cfg.EmbedDimension <= 0 {
		cfg.EmbedDimension = 768
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = 1 * time.Hour
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.SearchMaxExpansion <= 0 {
		cfg.SearchMaxExpansion = 10
	}

	return cfg
}

func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.EmbedProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when EMBED_PROVIDER=gemini")
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	if c.IndexDriver == "pgvector" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when INDEX_DRIVER=pgvector")
	}
	if c.StorageType == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("AWS_S3_BUCKET is required when STORAGE_TYPE=s3")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
