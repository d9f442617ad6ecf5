package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
)

const visionInstruction = "Extract all text from this receipt or invoice image. " +
	"Preserve the layout as much as possible and return only the text."

// VisionOCR is an OCR provider that sends the image to a vision chat model
// (pixtral on Mistral by default) as a data URL.
type VisionOCR struct {
	client *Client
	name   string
}

// NewVisionOCR wraps client as an extraction provider reported under name.
func NewVisionOCR(client *Client, name string) *VisionOCR {
	if name == "" {
		name = constants.ProviderMistral
	}
	return &VisionOCR{client: client, name: name}
}

func (v *VisionOCR) Name() string { return v.name }

func (v *VisionOCR) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mime := constants.NormalizeMime(mimeType)
	if !constants.IsImageMime(mime) {
		return "", extract.Permanent(v.name, fmt.Errorf("%w: %s", extract.ErrUnsupportedMime, mime))
	}
	start := time.Now()
	body := map[string]any{
		"model":      v.client.cfg.Model,
		"max_tokens": v.client.cfg.MaxTokens,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": visionInstruction},
				{"type": "image_url", "image_url": map[string]any{"url": llm.DataURL(mime, data)}},
			},
		}},
	}
	text, err := v.client.chat(ctx, body)
	if err != nil {
		v.client.logger.Warn("ocr.vision.failed", "provider", v.name, "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", classify(v.name, err)
	}
	v.client.logger.Info("ocr.vision.ok", "provider", v.name, "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

func classify(provider string, err error) error {
	var se *llm.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return extract.Permanent(provider, err)
	}
	if errors.Is(err, llm.ErrNoContent) {
		return extract.Permanent(provider, err)
	}
	return extract.Transient(provider, err)
}
