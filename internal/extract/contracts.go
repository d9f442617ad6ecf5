package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// NativeExtractor reads the embedded text layer of a digital PDF.
type NativeExtractor interface {
	NativeText(ctx context.Context, data []byte) (string, error)
}

// Provider is one OCR backend in the fallback chain.
type Provider interface {
	Name() string
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text       string
	Provider   string
	Confidence float64
	Latency    time.Duration
	Attempts   []Attempt
}

// Phase is the state of the provider fallback machine.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseTrying    Phase = "trying"
	PhaseSucceeded Phase = "succeeded"
	PhaseExhausted Phase = "exhausted"
)

// Attempt records one provider call.
type Attempt struct {
	Provider string
	Phase    Phase // PhaseSucceeded or PhaseExhausted for this provider
	Err      error
	Elapsed  time.Duration
}

// Request is the input to Extract.
type Request struct {
	Data     []byte
	MimeType string
	Kind     constants.IngestKind
}
