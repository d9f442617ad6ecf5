package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. It is loaded once at startup
// and passed by value; nothing mutates it afterwards.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Vision   VisionConfig
	Vertex   VertexConfig
	Pipeline PipelineConfig
	Queue    QueueConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	APIPrefix   string
	CORSOrigins []string
}

// StorageConfig selects where uploaded files are downloaded from.
type StorageConfig struct {
	Backend string // "fs" | "gcs"
	Root    string // fs root directory
	Bucket  string // gcs bucket
}

// OCRConfig holds local OCR tooling configuration
type OCRConfig struct {
	EnableTesseract bool
	Pdftotext       string
	Pdftoppm        string
	DPI             int
	MaxPages        int
	Tesseract       string
	TesseractLang   string
	TessdataDir     string
	Timeout         time.Duration
}

// LLMConfig holds configuration for the parsing completion model.
type LLMConfig struct {
	Provider    string // "openai" | "vertex"
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// VisionConfig holds configuration for the vision-model OCR provider.
type VisionConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	APIKey  string
}

// VertexConfig holds Vertex AI settings used when LLM.Provider is "vertex".
type VertexConfig struct {
	ProjectID    string
	Region       string
	Model        string
	EnableVision bool
}

// PipelineConfig holds the decision-logic knobs.
type PipelineConfig struct {
	TotalsTolerance     float64
	ConfidenceThreshold float64
	MaxDateAgeDays      int
	ExtractTimeout      time.Duration
	ParseTimeout        time.Duration
	MinParseTextChars   int
}

// QueueConfig holds worker queue sizing.
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:    getEnv("GRPC_ADDR", ":8080"),
			APIPrefix:   getEnv("API_V1_PREFIX", "/api/v1"),
			CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "fs"),
			Root:    getEnv("STORAGE_ROOT", "./uploads"),
			Bucket:  getEnv("STORAGE_BUCKET", "document-uploads"),
		},
		OCR: OCRConfig{
			EnableTesseract: getEnvAsBool("ENABLE_TESSERACT_OCR", true),
			Pdftotext:       getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:        getEnv("PDFTOPPM_BIN", "pdftoppm"),
			DPI:             getEnvAsInt("OCR_DPI", 300),
			MaxPages:        getEnvAsInt("OCR_MAX_PAGES", 5),
			Tesseract:       getEnv("TESSERACT_BIN", "tesseract"),
			TesseractLang:   getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:     getEnv("TESSDATA_PREFIX", ""),
			Timeout:         getEnvAsMillis("OCR_TIMEOUT_MS", 8000*time.Millisecond),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.1),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 2000),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Vision: VisionConfig{
			Enabled: getEnvAsBool("ENABLE_MISTRAL_FALLBACK", true),
			BaseURL: getEnv("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
			Model:   getEnv("MISTRAL_MODEL", "pixtral-12b-2409"),
			APIKey:  getEnv("MISTRAL_API_KEY", ""),
		},
		Vertex: VertexConfig{
			ProjectID:    getEnv("GCP_PROJECT_ID", ""),
			Region:       getEnv("VERTEX_REGION", "us-central1"),
			Model:        getEnv("VERTEX_MODEL", "gemini-1.5-flash"),
			EnableVision: getEnvAsBool("ENABLE_VISION_FALLBACK", false),
		},
		Pipeline: PipelineConfig{
			TotalsTolerance:     getEnvAsFloat64("TOTALS_TOLERANCE", 0.01),
			ConfidenceThreshold: getEnvAsFloat64("CONFIDENCE_THRESHOLD", 0.70),
			MaxDateAgeDays:      getEnvAsInt("MAX_DATE_AGE_DAYS", 1825),
			ExtractTimeout:      getEnvAsMillis("OCR_TIMEOUT_MS", 8000*time.Millisecond),
			ParseTimeout:        getEnvAsMillis("PARSE_TIMEOUT_MS", 12000*time.Millisecond),
			MinParseTextChars:   getEnvAsInt("MIN_PARSE_TEXT_CHARS", 20),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", 4),
			Size:           getEnvAsInt("QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 3*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsMillis reads an integer number of milliseconds.
func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
		}
	case "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	case "vertex":
		if c.Vertex.ProjectID == "" {
			return NewAppError("CONFIG_ERROR", "GCP_PROJECT_ID is required for the vertex provider", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be openai or vertex", ErrInvalidInput)
	}
	if c.Storage.Backend != "fs" && c.Storage.Backend != "gcs" {
		return NewAppError("CONFIG_ERROR", "STORAGE_BACKEND must be fs or gcs", ErrInvalidInput)
	}
	if c.Pipeline.TotalsTolerance < 0 {
		return NewAppError("CONFIG_ERROR", "TOTALS_TOLERANCE must not be negative", ErrInvalidInput)
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "CONFIDENCE_THRESHOLD must be within [0,1]", ErrInvalidInput)
	}
	if c.Pipeline.MaxDateAgeDays <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_DATE_AGE_DAYS must be positive", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR or GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}

// OCRProvidersEnabled reports whether at least one OCR provider is switched on.
func (c Config) OCRProvidersEnabled() bool {
	return c.OCR.EnableTesseract || (c.Vision.Enabled && c.Vision.APIKey != "") || c.Vertex.EnableVision
}
