package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
)

// PDFText reads the embedded text layer of a PDF with pdftotext.
// It serves both as the classifier's text-layer probe and as native text extraction.
type PDFText struct {
	runner    Runner
	pdftotext string
	logger    *slog.Logger
}

func NewPDFText(runner Runner, pdftotext string, logger *slog.Logger) *PDFText {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if pdftotext == "" {
		pdftotext = "pdftotext"
	}
	return &PDFText{runner: runner, pdftotext: pdftotext, logger: logger}
}

// ProbeText returns the raw text layer of data.
func (p *PDFText) ProbeText(ctx context.Context, data []byte) (string, error) {
	path, cleanup, err := writeTemp(data, ".pdf")
	if err != nil {
		return "", err
	}
	defer cleanup()

	pages, err := api.PageCountFile(path)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if pages == 0 {
		return "", fmt.Errorf("read pdf: no pages")
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := p.runner.Run(ctx, p.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	p.logger.Debug("ocr.pdf.text", "pages", pages, "bytes", len(out))
	return string(out), nil
}

// NativeText extracts and normalizes the text layer of a digital PDF.
func (p *PDFText) NativeText(ctx context.Context, data []byte) (string, error) {
	raw, err := p.ProbeText(ctx, data)
	if err != nil {
		return "", extract.Permanent(constants.ProviderNativeText, err)
	}
	return Normalize(raw), nil
}
