// Package vertex adapts Gemini models on Vertex AI to the completion and OCR
// provider contracts.
package vertex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
)

const ocrSystemPrompt = "You are an OCR engine for receipts and invoices. " +
	"Return all text visible in the document, preserving line structure. Return only the text."

// generator is the subset of *genai.GenerativeModel we call.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Config for the Vertex client.
type Config struct {
	ProjectID   string
	Region      string
	Model       string  // default gemini-1.5-flash
	Temperature float32 // default 0.1
	MaxTokens   int32   // default 2000
}

// Client holds the genai client and builds per-call models, since the system
// instruction differs between parse and OCR calls.
type Client struct {
	cfg      Config
	base     *genai.Client
	newModel func(system string, jsonOut bool) generator
	logger   *slog.Logger
}

// NewClient connects to Vertex AI with application default credentials.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex: projectID and region cannot be empty")
	}
	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	c := newClient(cfg, nil, logger)
	c.base = base
	c.newModel = func(system string, jsonOut bool) generator {
		m := base.GenerativeModel(c.cfg.Model)
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		m.GenerationConfig = genai.GenerationConfig{
			Temperature:     genai.Ptr[float32](c.cfg.Temperature),
			MaxOutputTokens: genai.Ptr[int32](c.cfg.MaxTokens),
		}
		if jsonOut {
			m.GenerationConfig.ResponseMIMEType = "application/json"
		}
		return m
	}
	return c, nil
}

func newClient(cfg Config, newModel func(string, bool) generator, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, newModel: newModel, logger: logger}
}

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete implements llm.Completion.
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt, _ map[string]any) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	resp, err := c.newModel(prompt.System, true).GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		c.logger.Error("llm.vertex.complete.failed", "req_id", rid, "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("vertex generate: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", llm.ErrNoContent
	}
	c.logger.Info("llm.vertex.complete.ok", "req_id", rid, "bytes", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

// OCR is an extraction provider backed by Gemini's multimodal input. Unlike
// the chat vision provider it accepts PDFs.
type OCR struct {
	c *Client
}

func NewOCR(c *Client) *OCR { return &OCR{c: c} }

func (o *OCR) Name() string { return constants.ProviderVision }

func (o *OCR) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mime := constants.NormalizeMime(mimeType)
	if mime != constants.MimePDF && !constants.IsImageMime(mime) {
		return "", extract.Permanent(o.Name(), fmt.Errorf("%w: %s", extract.ErrUnsupportedMime, mime))
	}
	resp, err := o.c.newModel(ocrSystemPrompt, false).GenerateContent(ctx,
		genai.Blob{MIMEType: mime, Data: data},
		genai.Text("Extract the text of this document."),
	)
	if err != nil {
		return "", extract.Transient(o.Name(), fmt.Errorf("vertex generate: %w", err))
	}
	text := responseText(resp)
	if text == "" {
		return "", extract.Permanent(o.Name(), extract.ErrEmptyText)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}
