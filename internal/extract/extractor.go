// Package extract turns document bytes into raw text, choosing native text
// extraction for digital PDFs and an ordered OCR fallback chain otherwise.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// Extractor selects and runs extraction providers.
type Extractor struct {
	native    NativeExtractor
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds an Extractor. providers are tried in order; timeout bounds each call.
func New(native NativeExtractor, providers []Provider, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Extractor{native: native, providers: providers, timeout: timeout, logger: logger}
}

// Providers returns the names of the configured OCR providers in priority order.
func (e *Extractor) Providers() []string {
	out := make([]string, 0, len(e.providers))
	for _, p := range e.providers {
		out = append(out, p.Name())
	}
	return out
}

// Extract returns the raw text of a document.
func (e *Extractor) Extract(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	mime := constants.NormalizeMime(req.MimeType)

	var (
		res Result
		err error
	)
	switch {
	case req.Kind == constants.IngestDigital && mime == constants.MimePDF:
		res, err = e.extractNative(ctx, req.Data)
	case req.Kind == constants.IngestScanned:
		res, err = e.extractWithFallback(ctx, req.Data, mime)
	default:
		err = fmt.Errorf("%w: kind=%q mime=%q", ErrUnsupportedCombination, req.Kind, mime)
	}
	res.Latency = time.Since(start)

	if err != nil {
		e.logger.Warn("extract.failed", "kind", req.Kind, "mime", mime, "elapsed_ms", res.Latency.Milliseconds(), "err", err)
		return res, err
	}
	e.logger.Info("extract.done",
		"kind", req.Kind,
		"provider", res.Provider,
		"chars", len(res.Text),
		"attempts", len(res.Attempts),
		"elapsed_ms", res.Latency.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) extractNative(ctx context.Context, data []byte) (Result, error) {
	if e.native == nil {
		return Result{}, fmt.Errorf("%w: native text extraction not configured", ErrNoProviderAvailable)
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	text, err := e.native.NativeText(cctx, data)
	attempt := Attempt{Provider: constants.ProviderNativeText, Phase: PhaseSucceeded, Elapsed: time.Since(started)}
	if err != nil {
		attempt.Phase, attempt.Err = PhaseExhausted, err
		return Result{Attempts: []Attempt{attempt}}, asProviderError(constants.ProviderNativeText, err)
	}
	text = strings.TrimSpace(text)
	if len(text) < constants.MinTextLayerChars {
		attempt.Phase, attempt.Err = PhaseExhausted, ErrInsufficientText
		return Result{Attempts: []Attempt{attempt}}, ErrInsufficientText
	}
	return Result{
		Text:       text,
		Provider:   constants.ProviderNativeText,
		Confidence: constants.NativeTextConfidence,
		Attempts:   []Attempt{attempt},
	}, nil
}

// fallback tracks the provider chain: pending, then trying each provider
// until one succeeds or the chain is exhausted.
type fallback struct {
	phase    Phase
	current  string
	attempts []Attempt
	started  time.Time
}

func (f *fallback) try(provider string) {
	f.phase = PhaseTrying
	f.current = provider
	f.started = time.Now()
}

func (f *fallback) succeed() {
	f.attempts = append(f.attempts, Attempt{Provider: f.current, Phase: PhaseSucceeded, Elapsed: time.Since(f.started)})
	f.phase = PhaseSucceeded
}

func (f *fallback) fail(err error) {
	f.attempts = append(f.attempts, Attempt{Provider: f.current, Phase: PhaseExhausted, Err: err, Elapsed: time.Since(f.started)})
	f.phase = PhasePending
}

func (f *fallback) exhaust() error {
	f.phase = PhaseExhausted
	errs := []error{ErrNoProviderAvailable}
	for _, a := range f.attempts {
		errs = append(errs, a.Err)
	}
	return errors.Join(errs...)
}

func (e *Extractor) extractWithFallback(ctx context.Context, data []byte, mime string) (Result, error) {
	fb := &fallback{phase: PhasePending}
	for _, p := range e.providers {
		if err := ctx.Err(); err != nil {
			fb.attempts = append(fb.attempts, Attempt{Provider: p.Name(), Phase: PhaseExhausted, Err: err})
			break
		}
		fb.try(p.Name())
		text, err := e.callProvider(ctx, p, data, mime)
		if err != nil {
			fb.fail(err)
			e.logger.Warn("extract.provider.failed", "provider", p.Name(), "kind", err.Kind, "err", err.Err)
			continue
		}
		fb.succeed()
		return Result{
			Text:       text,
			Provider:   p.Name(),
			Confidence: constants.OCRConfidence,
			Attempts:   fb.attempts,
		}, nil
	}
	return Result{Attempts: fb.attempts}, fb.exhaust()
}

func (e *Extractor) callProvider(ctx context.Context, p Provider, data []byte, mime string) (string, *ProviderError) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := p.Extract(cctx, data, mime)
	if err != nil {
		return "", asProviderError(p.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &ProviderError{Provider: p.Name(), Kind: KindPermanent, Err: ErrEmptyText}
	}
	return text, nil
}
