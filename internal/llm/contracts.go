package llm

import (
	"context"
	"errors"
)

// Prompt is a system/user message pair sent to a completion model.
type Prompt struct {
	System string
	User   string
}

// Completion is a JSON-mode chat completion backend.
type Completion interface {
	// Complete returns the raw JSON content produced for prompt. schema is
	// passed along as the expected output shape; callers still validate it.
	Complete(ctx context.Context, prompt Prompt, schema map[string]any) (string, error)
	// Model reports the model name recorded on parsed documents.
	Model() string
}

// ErrNoContent is returned when the backend answered without any content.
var ErrNoContent = errors.New("completion returned no content")
