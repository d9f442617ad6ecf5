package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
)

// TesseractConfig configures the local tesseract provider.
type TesseractConfig struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm    string // binary name or absolute path; if empty -> "pdftoppm"
	Lang        string // default "eng"
	TessdataDir string
	DPI         int // rasterization DPI for scanned PDFs, default 300
	MaxPages    int // 0 = no limit
}

// Tesseract is an OCR provider backed by the tesseract CLI. Scanned PDFs are
// rasterized with pdftoppm first.
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg TesseractConfig, runner Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

func (t *Tesseract) Name() string { return constants.ProviderTesseract }

func (t *Tesseract) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mime := constants.NormalizeMime(mimeType)
	var (
		text string
		err  error
	)
	switch {
	case mime == constants.MimePDF:
		text, err = t.extractPDF(ctx, data)
	case constants.IsImageMime(mime):
		text, err = t.extractImage(ctx, data, extForMime(mime))
	default:
		return "", extract.Permanent(t.Name(), fmt.Errorf("%w: %s", extract.ErrUnsupportedMime, mime))
	}
	if err != nil {
		return "", t.classify(ctx, err)
	}
	return Normalize(text), nil
}

func (t *Tesseract) extractImage(ctx context.Context, data []byte, ext string) (string, error) {
	path, cleanup, err := writeTemp(data, ext)
	if err != nil {
		return "", err
	}
	defer cleanup()
	return t.ocrFile(ctx, path)
}

func (t *Tesseract) extractPDF(ctx context.Context, data []byte) (string, error) {
	path, cleanup, err := writeTemp(data, ".pdf")
	if err != nil {
		return "", err
	}
	defer cleanup()

	tmpDir, err := os.MkdirTemp("", "rp-pp-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := t.runner.Run(ctx, t.cfg.Pdftoppm, "-r", strconv.Itoa(t.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// prefix-1.png, prefix-2.png, ...
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if t.cfg.MaxPages > 0 && len(matches) > t.cfg.MaxPages {
		matches = matches[:t.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", errors.New("pdftoppm produced no images")
	}

	var b strings.Builder
	for _, img := range matches {
		txt, err := t.ocrFile(ctx, img)
		if err != nil {
			t.logger.Warn("ocr.tesseract.page_failed", "page", filepath.Base(img), "err", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(txt)
	}
	return b.String(), nil
}

func (t *Tesseract) ocrFile(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

// classify maps local tool failures onto provider error kinds. A process
// killed by the deadline is transient; everything else is permanent.
func (t *Tesseract) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return extract.Transient(t.Name(), err)
	}
	return extract.Permanent(t.Name(), err)
}

func extForMime(mime string) string {
	switch mime {
	case constants.MimeJPEG:
		return ".jpg"
	case constants.MimePNG:
		return ".png"
	case constants.MimeWebP:
		return ".webp"
	case "image/tiff":
		return ".tiff"
	default:
		return ".img"
	}
}
