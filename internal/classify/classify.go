// Package classify decides whether a document carries a usable text layer.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/signature"
)

// TextProbe returns the raw embedded text of a PDF.
type TextProbe interface {
	ProbeText(ctx context.Context, data []byte) (string, error)
}

// Result is the classification of one file.
type Result struct {
	Kind        constants.IngestKind
	ContentHash string
	ProbedChars int
}

type Classifier struct {
	probe  TextProbe
	logger *slog.Logger
}

func New(probe TextProbe, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{probe: probe, logger: logger}
}

// Classify labels data as digital when it is a PDF whose stripped text layer
// exceeds constants.MinTextLayerChars; everything else is scanned. Probe
// failures are logged and treated as scanned.
func (c *Classifier) Classify(ctx context.Context, data []byte, mimeType string) Result {
	res := Result{Kind: constants.IngestScanned, ContentHash: signature.ContentHash(data)}

	mime := constants.NormalizeMime(mimeType)
	if mime != constants.MimePDF || c.probe == nil {
		c.logger.Debug("classify.done", "mime", mime, "kind", res.Kind, "probed", false)
		return res
	}

	text, err := c.probe.ProbeText(ctx, data)
	if err != nil {
		c.logger.Warn("classify.probe.failed", "mime", mime, "err", err)
		return res
	}
	res.ProbedChars = strippedLen(text)
	if res.ProbedChars > constants.MinTextLayerChars {
		res.Kind = constants.IngestDigital
	}
	c.logger.Debug("classify.done", "mime", mime, "kind", res.Kind, "chars", res.ProbedChars)
	return res
}

// strippedLen is the length once leading and trailing whitespace is removed.
func strippedLen(s string) int {
	return len(strings.TrimSpace(s))
}
