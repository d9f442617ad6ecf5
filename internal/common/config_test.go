package common

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "HTTP_ADDR", "OCR_TIMEOUT_MS", "PARSE_TIMEOUT_MS", "MIN_PARSE_TEXT_CHARS", "CORS_ORIGINS", "LLM_PROVIDER"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, ":8000", cfg.Server.HTTPAddr)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 8*time.Second, cfg.Pipeline.ExtractTimeout)
	assert.Equal(t, 12*time.Second, cfg.Pipeline.ParseTimeout)
	assert.Equal(t, 20, cfg.Pipeline.MinParseTextChars)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("OCR_TIMEOUT_MS", "2500")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("ENABLE_TESSERACT_OCR", "false")
	t.Setenv("QUEUE_WORKERS", "not-a-number")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.8")

	cfg := LoadConfig()
	assert.Equal(t, 2500*time.Millisecond, cfg.Pipeline.ExtractTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.OCR.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.OCR.EnableTesseract)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.InDelta(t, 0.8, cfg.Pipeline.ConfidenceThreshold, 1e-9)
}

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite"},
		Server:   ServerConfig{HTTPAddr: ":8000"},
		Storage:  StorageConfig{Backend: "fs"},
		LLM:      LLMConfig{Provider: "openai", APIKey: "k"},
		Pipeline: PipelineConfig{TotalsTolerance: 0.01, ConfidenceThreshold: 0.7, MaxDateAgeDays: 1825},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) { c.Database.Driver, c.Database.DSN = "postgres", "postgres://x" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "openai without key", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: true},
		{name: "vertex without project", mutate: func(c *Config) { c.LLM.Provider = "vertex" }, wantErr: true},
		{name: "vertex with project", mutate: func(c *Config) { c.LLM.Provider, c.Vertex.ProjectID = "vertex", "p" }},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "other" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: true},
		{name: "negative tolerance", mutate: func(c *Config) { c.Pipeline.TotalsTolerance = -1 }, wantErr: true},
		{name: "threshold above one", mutate: func(c *Config) { c.Pipeline.ConfidenceThreshold = 1.5 }, wantErr: true},
		{name: "zero date age", mutate: func(c *Config) { c.Pipeline.MaxDateAgeDays = 0 }, wantErr: true},
		{name: "no listeners", mutate: func(c *Config) { c.Server.HTTPAddr, c.Server.GRPCAddr = "", "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var appErr *AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "CONFIG_ERROR", appErr.Code)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestOCRProvidersEnabled(t *testing.T) {
	var cfg Config
	assert.False(t, cfg.OCRProvidersEnabled())

	cfg.Vision.Enabled = true
	assert.False(t, cfg.OCRProvidersEnabled())
	cfg.Vision.APIKey = "k"
	assert.True(t, cfg.OCRProvidersEnabled())

	assert.True(t, Config{OCR: OCRConfig{EnableTesseract: true}}.OCRProvidersEnabled())
	assert.True(t, Config{Vertex: VertexConfig{EnableVision: true}}.OCRProvidersEnabled())
}
