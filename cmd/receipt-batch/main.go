// Command receipt-batch runs every receipt in a directory through the pipeline
// and writes the resulting transactions to an XLSX workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/app"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func parseDate(name, value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		printError("Error: invalid --%s date format, use YYYY-MM-DD: %v\n", name, err)
		os.Exit(1)
	}
	return &t
}

func main() {
	var (
		inmem       = flag.Bool("inmem", false, "use an in-memory SQLite database")
		dir         = flag.String("dir", "", "directory to process receipts from (required)")
		out         = flag.String("out", "", "output XLSX file path (defaults to <parent of dir>/receipts.xlsx)")
		fromStr     = flag.String("from", "", "from date YYYY-MM-DD")
		toStr       = flag.String("to", "", "to date YYYY-MM-DD")
		user        = flag.String("user", "local-batch", "user id recorded on documents and transactions")
		concurrency = flag.Int("concurrency", 4, "files processed in parallel")
		force       = flag.Bool("force", false, "write transactions even when flagged as duplicates")
		exts        = flag.String("ext", "", "comma-separated extensions to include (default pdf,jpg,jpeg,png,webp)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "receipts.xlsx")
	}
	from, to := parseDate("from", *fromStr), parseDate("to", *toStr)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = "file:receipt-batch?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	}
	cfg.Database.AutoMigrate = true
	// Files are addressed by the paths the walk produced.
	cfg.Storage.Backend, cfg.Storage.Root = "fs", ""
	if err := cfg.Validate(); err != nil {
		logger.Error("batch.config.invalid", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("batch.init.failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	var extList []string
	if *exts != "" {
		extList = strings.Split(*exts, ",")
	}
	runner := ingest.NewDirectory(a.Pipeline, ingest.Options{
		UserID:      *user,
		Extensions:  extList,
		SkipHidden:  true,
		Concurrency: *concurrency,
		Force:       *force,
	}, logger)

	results, stats, err := runner.Run(ctx, *dir)
	if err != nil {
		logger.Error("batch.run.failed", "dir", *dir, "err", err)
		os.Exit(1)
	}
	for _, r := range results {
		if r.Err != "" {
			logger.Warn("batch.file.failed", "path", r.Path, "document_id", r.DocumentID, "err", r.Err)
		}
	}

	xlsx, err := a.Exporter.ExportXLSX(ctx, export.Filter{UserID: *user, From: from, To: to})
	if err != nil {
		logger.Error("batch.export.failed", "err", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("batch.export.write_failed", "out", *out, "err", err)
		os.Exit(1)
	}

	logger.Info("batch.done",
		"matched", stats.Matched,
		"created", stats.Created,
		"duplicates", stats.Duplicates,
		"review", stats.Review,
		"failed", stats.Failed,
		"out", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files matched: %d\n", stats.Matched)
	fmt.Printf("- Transactions created: %d\n", stats.Created)
	fmt.Printf("- Duplicates skipped: %d\n", stats.Duplicates)
	fmt.Printf("- Needs review: %d\n", stats.Review)
	fmt.Printf("- Failures: %d\n", stats.Failed)
	fmt.Printf("- Output: %s\n", *out)
}
