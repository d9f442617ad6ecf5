// Package ingest feeds every receipt under a directory through the pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/pipeline"
)

// Pipeline is the part of the stage service a directory run needs.
type Pipeline interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResponse, error)
	Process(ctx context.Context, documentID string, force bool) (*pipeline.ProcessResponse, error)
}

type FileResult struct {
	Path        string                   `json:"path"`
	DocumentID  string                   `json:"document_id,omitempty"`
	DuplicateOf string                   `json:"duplicate_of,omitempty"`
	Status      constants.DocumentStatus `json:"status,omitempty"`
	Validation  string                   `json:"validation,omitempty"`
	Err         string                   `json:"error,omitempty"`
}

type DirStats struct {
	Scanned    uint32
	Matched    uint32
	Created    uint32
	Duplicates uint32
	Review     uint32 // parsed but not written
	Failed     uint32
}

type Options struct {
	UserID      string
	Extensions  []string // lowercased, no dot; default constants.AllowedExtensions
	SkipHidden  bool
	Concurrency int // default 4
	Force       bool
}

// Directory drives each matching file through ingest and process.
type Directory struct {
	pipeline Pipeline
	opts     Options
	logger   *slog.Logger
}

func NewDirectory(p Pipeline, opts Options, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Directory{pipeline: p, opts: opts, logger: logger}
}

// Run walks root and processes matching files concurrently. A failing file is
// recorded in its result and never stops the run; only cancellation does.
// Results come back in path order.
func (d *Directory) Run(ctx context.Context, root string) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	start := time.Now()
	paths, stats, err := d.walk(root)
	if err != nil {
		return nil, stats, err
	}

	results := make([]FileResult, len(paths))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := d.processFile(gctx, path)
			mu.Lock()
			results[i] = res
			stats.record(res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, stats, fmt.Errorf("directory run: %w", err)
	}

	d.logger.Info("ingest.directory.done",
		"root", root,
		"matched", stats.Matched,
		"created", stats.Created,
		"duplicates", stats.Duplicates,
		"review", stats.Review,
		"failed", stats.Failed,
		"elapsed_ms", time.Since(start).Milliseconds())
	return results, stats, nil
}

func (d *Directory) processFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path}
	log := d.logger.With("path", path)

	ing, err := d.pipeline.Ingest(ctx, pipeline.IngestRequest{UserID: d.opts.UserID, FileURL: path})
	if err != nil {
		log.Warn("ingest.file.failed", "stage", "ingest", "err", err)
		res.Err = err.Error()
		return res
	}
	res.DocumentID, res.DuplicateOf, res.Status = ing.DocumentID, ing.DuplicateOf, ing.Status

	out, err := d.pipeline.Process(ctx, ing.DocumentID, d.opts.Force)
	if out != nil {
		res.Status = out.Status
		if out.Validate != nil {
			res.Validation = string(out.Validate.Status)
		}
	}
	if err != nil {
		log.Warn("ingest.file.failed", "stage", "process", "document_id", ing.DocumentID, "err", err)
		res.Err = err.Error()
	}
	return res
}

func (s *DirStats) record(res FileResult) {
	switch {
	case res.Err != "" || res.Status == constants.StatusFailed:
		s.Failed++
	case res.Status == constants.StatusTransactionCreated:
		s.Created++
	case res.Status == constants.StatusSkippedDuplicate:
		s.Duplicates++
	default:
		s.Review++
	}
}

func (d *Directory) walk(root string) ([]string, DirStats, error) {
	exts := constants.AllowedExtensions
	if len(d.opts.Extensions) > 0 {
		exts = make(map[string]struct{}, len(d.opts.Extensions))
		for _, e := range d.opts.Extensions {
			if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
				exts[e] = struct{}{}
			}
		}
	}

	var (
		paths []string
		stats DirStats
	)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			d.logger.Warn("ingest.walk.failed", "path", path, "err", walkErr)
			stats.Failed++
			return nil
		}
		if d.opts.SkipHidden && path != root && isHidden(path) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		stats.Scanned++
		if _, ok := exts[constants.NormalizeExt(filepath.Ext(path))]; !ok {
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk: %w", err)
	}
	sort.Strings(paths)
	return paths, stats, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
