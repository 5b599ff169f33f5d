package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Keys      APIKeys
	Ai        AIConfig
	Retrieval RetrievalConfig
	Planner   PlannerConfig
	Fallback  FallbackConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	StreamLogFilePath  string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	// InstanceID names this replica's durable NATS consumer.
	InstanceID     string
	TurnTopic      string
	EventRetention time.Duration
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	JwtSecret   string
	HuggingFace string
	Qdrant      string
}

type AIConfig struct {
	LLMProvider string // "ollama" or "huggingface"
	LLMModel    string
	LLMBaseURL  string
	// Embeddings are only needed by the qdrant and pgvector backends.
	OllamaBaseURL        string
	OllamaEmbeddingModel string
}

type RetrievalConfig struct {
	Backend           string // "http", "qdrant", "pgvector" or "none"
	RagURL            string
	RagTimeout        time.Duration
	QdrantURL         string
	QdrantCollection  string
	MinScore          float64
	PgvectorThreshold float64
	TopK              int
	Cache             string // "redis", "memory" or "none"
	CacheTTL          time.Duration
}

type PlannerConfig struct {
	IntentTimeout       time.Duration
	RetrievalTimeout    time.Duration
	FanOutMemberTimeout time.Duration
	GenerationTimeout   time.Duration
	VerificationTimeout time.Duration
	MaxRetries          int
	Slack               time.Duration
	// TurnTimeout is raised to the budget's required minimum at startup.
	TurnTimeout       time.Duration
	SessionCapacity   int
	SessionBusyPolicy string
	FanOutMaxInFlight int
	HistoryLimit      int
}

type FallbackConfig struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	SystemPrompt string
}

// TracingConfig drives the OTLP exporter. Tracing is off unless Enabled.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			StreamLogFilePath:  getEnv("STREAM_LOG_FILE_PATH", "logs/stream.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			InstanceID:         getEnv("INSTANCE_ID", hostname()),
			TurnTopic:          getEnv("PLANNER_TURN_TOPIC_NAME", "PLANNER_TURN_COMPLETED"),
			EventRetention:     getEnvAsDuration("EVENT_RETENTION", 24*time.Hour),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			JwtSecret:   getEnv("JWT_SECRET", ""),
			HuggingFace: getEnv("HUGGINGFACE_API_KEY", ""),
			Qdrant:      getEnv("QDRANT_API_KEY", ""),
		},
		Ai: AIConfig{
			LLMProvider:          getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:             getEnv("LLM_MODEL", "qwen2.5:7b"),
			LLMBaseURL:           getEnv("LLM_BASE_URL", ""),
			OllamaBaseURL:        getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaEmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Retrieval: RetrievalConfig{
			Backend:           getEnv("RETRIEVAL_BACKEND", "http"),
			RagURL:            getEnv("RAG_URL", "http://localhost:8001"),
			RagTimeout:        getEnvAsDuration("RAG_TIMEOUT", 15*time.Second),
			QdrantURL:         getEnv("QDRANT_URL", "http://localhost:6334"),
			QdrantCollection:  getEnv("QDRANT_COLLECTION", "travel_knowledge"),
			MinScore:          getEnvAsFloat("RETRIEVAL_MIN_SCORE", 0),
			PgvectorThreshold: getEnvAsFloat("PGVECTOR_THRESHOLD", 0.3),
			TopK:              getEnvAsInt("RETRIEVAL_TOP_K", 5),
			Cache:             getEnv("RETRIEVAL_CACHE", "memory"),
			CacheTTL:          getEnvAsDuration("RETRIEVAL_CACHE_TTL", 10*time.Minute),
		},
		Planner: PlannerConfig{
			IntentTimeout:       getEnvAsDuration("PLANNER_INTENT_TIMEOUT", 8*time.Second),
			RetrievalTimeout:    getEnvAsDuration("PLANNER_RETRIEVAL_TIMEOUT", 10*time.Second),
			FanOutMemberTimeout: getEnvAsDuration("PLANNER_FANOUT_TIMEOUT", 10*time.Second),
			GenerationTimeout:   getEnvAsDuration("PLANNER_GENERATION_TIMEOUT", 15*time.Second),
			VerificationTimeout: getEnvAsDuration("PLANNER_VERIFICATION_TIMEOUT", 5*time.Second),
			MaxRetries:          getEnvAsInt("PLANNER_MAX_RETRIES", 2),
			Slack:               getEnvAsDuration("PLANNER_SLACK", 5*time.Second),
			TurnTimeout:         getEnvAsDuration("PLANNER_TURN_TIMEOUT", 58*time.Second),
			SessionCapacity:     getEnvAsInt("SESSION_CAPACITY", 100),
			SessionBusyPolicy:   getEnv("SESSION_BUSY_POLICY", "queue"),
			FanOutMaxInFlight:   getEnvAsInt("PLANNER_FANOUT_MAX_IN_FLIGHT", 32),
			HistoryLimit:        getEnvAsInt("PLANNER_HISTORY_LIMIT", 20),
		},
		Fallback: FallbackConfig{
			Model:        getEnv("FALLBACK_MODEL", ""),
			Temperature:  getEnvAsFloat("FALLBACK_TEMPERATURE", 0.7),
			MaxTokens:    getEnvAsInt("FALLBACK_MAX_TOKENS", 1024),
			Timeout:      getEnvAsDuration("FALLBACK_TIMEOUT", 30*time.Second),
			SystemPrompt: getEnv("FALLBACK_SYSTEM_PROMPT", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "trip-planner-be"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1),
		},
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "local"
	}
	return name
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
