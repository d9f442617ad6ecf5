// Command runocr classifies one local file and runs the extraction chain on it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/app"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
)

type attemptOut struct {
	Provider  string `json:"provider"`
	Phase     string `json:"phase"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type output struct {
	Path        string       `json:"path"`
	Mime        string       `json:"mime"`
	Kind        string       `json:"ingest_kind"`
	ContentHash string       `json:"sha256"`
	Provider    string       `json:"provider"`
	Confidence  float64      `json:"confidence"`
	Chars       int          `json:"chars"`
	Text        string       `json:"text"`
	Attempts    []attemptOut `json:"attempts"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	mimeFlag := flag.String("mime", "", "mime type (derived from the extension when empty)")
	kindFlag := flag.String("kind", "", "force ingest kind: digital or scanned")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-mime m] [-kind k] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("runocr.read_failed", "path", path, "err", err)
		os.Exit(1)
	}
	mime := constants.NormalizeMime(*mimeFlag)
	if mime == "" {
		mime = constants.MimeFromExt(filepath.Ext(path))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	extractor, classifier, closeFn, err := app.NewExtractor(ctx, common.LoadConfig(), logger)
	if err != nil {
		logger.Error("runocr.init_failed", "err", err)
		os.Exit(1)
	}
	defer closeFn()

	cls := classifier.Classify(ctx, data, mime)
	kind := cls.Kind
	if *kindFlag != "" {
		kind = constants.IngestKind(*kindFlag)
	}

	start := time.Now()
	res, err := extractor.Extract(ctx, extract.Request{Data: data, MimeType: mime, Kind: kind})
	if err != nil {
		logger.Error("runocr.extract_failed", "path", path, "kind", kind, "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}

	out := output{
		Path:        path,
		Mime:        mime,
		Kind:        string(kind),
		ContentHash: cls.ContentHash,
		Provider:    res.Provider,
		Confidence:  res.Confidence,
		Chars:       len(res.Text),
		Text:        res.Text,
	}
	for _, a := range res.Attempts {
		ao := attemptOut{Provider: a.Provider, Phase: string(a.Phase), ElapsedMS: a.Elapsed.Milliseconds()}
		if a.Err != nil {
			ao.Error = a.Err.Error()
		}
		out.Attempts = append(out.Attempts, ao)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("runocr.encode_failed", "err", err)
		os.Exit(1)
	}
	logger.Info("runocr.done", "provider", res.Provider, "chars", len(res.Text),
		"elapsed_ms", time.Since(start).Milliseconds())
}
