// Command llm parses a raw receipt text file with the configured model and
// validates the result. Repeated runs show how stable the output is.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/internal/app"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/parse"
	"github.com/joseph-ayodele/receipts-pipeline/internal/validation"
)

type run struct {
	Attempt    int                      `json:"attempt"`
	ElapsedMS  int64                    `json:"elapsed_ms"`
	Error      string                   `json:"error,omitempty"`
	Parsed     *entity.ParsedDocument   `json:"parsed,omitempty"`
	Validation *entity.ValidationResult `json:"validation,omitempty"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	times := flag.Int("times", 1, "number of parse runs")
	flag.Parse()
	if flag.NArg() != 1 || *times <= 0 {
		logger.Error("usage", "cmd", "llm [-times n] <text-file>")
		os.Exit(2)
	}
	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		logger.Error("llm.read_failed", "path", flag.Arg(0), "err", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*times)*2*time.Minute)
	defer cancel()

	completion, closeFn, err := app.NewCompletion(ctx, cfg, logger)
	if err != nil {
		logger.Error("llm.init_failed", "provider", cfg.LLM.Provider, "err", err)
		os.Exit(1)
	}
	defer closeFn()

	parser := parse.New(completion, parse.Options{
		Timeout:   cfg.Pipeline.ParseTimeout,
		Tolerance: decimal.NewFromFloat(cfg.Pipeline.TotalsTolerance),
	}, logger)
	engine := validation.NewEngine(nil, app.EngineOptions(cfg.Pipeline), logger)
	catalog := app.DefaultCatalog()

	runs := make([]run, 0, *times)
	signatures := map[string]int{}
	for i := 1; i <= *times; i++ {
		start := time.Now()
		r := run{Attempt: i}
		doc, err := parser.Parse(ctx, "cli", string(raw), catalog)
		if err == nil {
			r.Parsed = doc
			signatures[doc.Signature]++
			var res entity.ValidationResult
			if res, err = engine.Validate(ctx, doc); err == nil {
				r.Validation = &res
			}
		}
		if err != nil {
			r.Error = err.Error()
			logger.Warn("llm.run.failed", "attempt", i, "err", err)
		}
		r.ElapsedMS = time.Since(start).Milliseconds()
		runs = append(runs, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runs); err != nil {
		logger.Error("llm.encode_failed", "err", err)
		os.Exit(1)
	}
	logger.Info("llm.done", "model", completion.Model(), "runs", *times, "distinct_signatures", len(signatures))
}
