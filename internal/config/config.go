package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Supported LLM and embedding providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerAddr string

	// SurrealDB connection (knowledge base index)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Object storage (normalized document artifacts)
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	// GitHub API (issues / pull requests extraction)
	GitHubToken   string
	GitHubAPIBase string

	// LLM provider
	LLMProvider     string // "ollama", "openai" or "anthropic"
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Embeddings
	EmbeddingProvider  string // "ollama" or "openai"
	EmbeddingModel     string
	EmbeddingDimension int

	// Ingestion
	WorkDir       string
	MaxFileSize   int64
	MaxIssues     int
	MaxPRs        int
	IngestWorkers int

	// Chunking
	ChunkThreshold int
	ChunkOverlap   int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ServerAddr: getEnv("REPOKB_ADDR", ":8080"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "repokb"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "knowledge"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		StorageEndpoint:  getEnv("REPOKB_STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("REPOKB_STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("REPOKB_STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:    getEnv("REPOKB_STORAGE_BUCKET", "repokb-documents"),
		StorageUseSSL:    getEnv("REPOKB_STORAGE_USE_SSL", "false") == "true",

		GitHubToken:   getEnv("GITHUB_TOKEN", ""),
		GitHubAPIBase: getEnv("GITHUB_API_BASE", "https://api.github.com"),

		LLMProvider:     getEnv("REPOKB_LLM_PROVIDER", "ollama"),
		LLMModel:        getEnv("REPOKB_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		EmbeddingProvider:  getEnv("REPOKB_EMBEDDING_PROVIDER", "ollama"),
		EmbeddingModel:     getEnv("REPOKB_EMBEDDING_MODEL", "all-minilm:l6-v2"),
		EmbeddingDimension: getEnvInt("REPOKB_EMBEDDING_DIMENSION", 384),

		WorkDir:       getEnv("REPOKB_WORK_DIR", os.TempDir()),
		MaxFileSize:   int64(getEnvInt("REPOKB_MAX_FILE_SIZE", 1024*1024)),
		MaxIssues:     getEnvInt("REPOKB_MAX_ISSUES", 100),
		MaxPRs:        getEnvInt("REPOKB_MAX_PRS", 100),
		IngestWorkers: getEnvInt("REPOKB_INGEST_WORKERS", 4),

		ChunkThreshold: getEnvInt("REPOKB_CHUNK_THRESHOLD", 1500),
		ChunkOverlap:   getEnvInt("REPOKB_CHUNK_OVERLAP", 200),

		LogFile:  getEnv("REPOKB_LOG_FILE", "/tmp/repokb.log"),
		LogLevel: parseLogLevel(getEnv("REPOKB_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
