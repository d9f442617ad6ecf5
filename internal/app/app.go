// Package app wires configuration into a ready-to-run pipeline for the cmd binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/classify"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm/vertex"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ocr"
	"github.com/joseph-ayodele/receipts-pipeline/internal/parse"
	"github.com/joseph-ayodele/receipts-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/server"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
	"github.com/joseph-ayodele/receipts-pipeline/internal/storage"
	"github.com/joseph-ayodele/receipts-pipeline/internal/validation"
	"github.com/joseph-ayodele/receipts-pipeline/internal/writer"
)

// App holds every long-lived component built from one Config.
type App struct {
	Config     common.Config
	DB         *repository.DB
	Storage    storage.Client
	Classifier *classify.Classifier
	Extractor  *extract.Extractor
	Parser     *parse.Parser
	Pipeline   *pipeline.Service
	Exporter   *export.Service
	// Providers reports which extraction providers are enabled, for /health.
	Providers map[string]bool

	closers []func()
	logger  *slog.Logger
}

// New connects the database and storage and builds the stage service.
func New(ctx context.Context, cfg common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() { server.CloseDB(db, logger) })

	if a.Storage, err = a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	runner := ocr.ExecRunner{Logger: logger}
	pdf := ocr.NewPDFText(runner, cfg.OCR.Pdftotext, logger)
	a.Classifier = classify.New(pdf, logger)

	vc, err := a.vertexClient(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Extractor, a.Providers = newExtractor(cfg, pdf, runner, vc, logger)

	completion, err := newCompletion(cfg, vc, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Parser = parse.New(completion, parse.Options{
		Timeout:   cfg.Pipeline.ParseTimeout,
		Tolerance: decimal.NewFromFloat(cfg.Pipeline.TotalsTolerance),
	}, logger)

	docs := repository.NewDocumentRepository(db, logger)
	txs := repository.NewTransactionRepository(db, logger)
	sigs := repository.NewSignatureIndex(db, logger)
	catalog := repository.NewCatalogRepository(db, logger)
	tracker := state.NewTracker(docs, logger)

	a.Pipeline = pipeline.NewService(pipeline.Deps{
		Documents:  docs,
		Storage:    a.Storage,
		Classifier: a.Classifier,
		Extractor:  a.Extractor,
		Parser:     a.Parser,
		Catalog:    catalog,
		Validator:  validation.NewEngine(sigs, EngineOptions(cfg.Pipeline), logger),
		Writer:     writer.New(sigs, txs, tracker, logger),
		Tracker:    tracker,
	}, pipeline.Options{MinParseTextChars: cfg.Pipeline.MinParseTextChars}, logger)
	a.Exporter = export.NewService(txs, docs, catalog, logger)

	logger.Info("app.ready",
		"db", db.Dialect(),
		"storage", cfg.Storage.Backend,
		"llm", cfg.LLM.Provider,
		"model", completion.Model(),
		"providers", a.Extractor.Providers())
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStorage(ctx context.Context) (storage.Client, error) {
	switch a.Config.Storage.Backend {
	case "gcs":
		g, err := storage.NewGCS(ctx, a.Config.Storage.Bucket, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = g.Close() })
		return g, nil
	default:
		return storage.NewFS(a.Config.Storage.Root, a.logger), nil
	}
}

// vertexClient is shared by the Gemini completion and OCR provider; nil when
// neither is configured.
func (a *App) vertexClient(ctx context.Context) (*vertex.Client, error) {
	if a.Config.LLM.Provider != "vertex" && !a.Config.Vertex.EnableVision {
		return nil, nil
	}
	vc, err := NewVertexClient(ctx, a.Config, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = vc.Close() })
	return vc, nil
}

func NewVertexClient(ctx context.Context, cfg common.Config, logger *slog.Logger) (*vertex.Client, error) {
	return vertex.NewClient(ctx, vertex.Config{
		ProjectID:   cfg.Vertex.ProjectID,
		Region:      cfg.Vertex.Region,
		Model:       cfg.Vertex.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   int32(cfg.LLM.MaxTokens),
	}, logger)
}

// NewExtractor builds the provider chain without a database, for one-off tools.
func NewExtractor(ctx context.Context, cfg common.Config, logger *slog.Logger) (*extract.Extractor, *classify.Classifier, func(), error) {
	runner := ocr.ExecRunner{Logger: logger}
	pdf := ocr.NewPDFText(runner, cfg.OCR.Pdftotext, logger)
	var vc *vertex.Client
	closeFn := func() {}
	if cfg.Vertex.EnableVision {
		var err error
		if vc, err = NewVertexClient(ctx, cfg, logger); err != nil {
			return nil, nil, nil, err
		}
		closeFn = func() { _ = vc.Close() }
	}
	ex, _ := newExtractor(cfg, pdf, runner, vc, logger)
	return ex, classify.New(pdf, logger), closeFn, nil
}

func newExtractor(cfg common.Config, pdf *ocr.PDFText, runner ocr.Runner, vc *vertex.Client, logger *slog.Logger) (*extract.Extractor, map[string]bool) {
	enabled := map[string]bool{
		constants.ProviderNativeText: true,
		constants.ProviderTesseract:  cfg.OCR.EnableTesseract,
		constants.ProviderMistral:    cfg.Vision.Enabled && cfg.Vision.APIKey != "",
		constants.ProviderVision:     vc != nil && cfg.Vertex.EnableVision,
	}

	var providers []extract.Provider
	if enabled[constants.ProviderTesseract] {
		providers = append(providers, ocr.NewTesseract(ocr.TesseractConfig{
			Tesseract:   cfg.OCR.Tesseract,
			Pdftoppm:    cfg.OCR.Pdftoppm,
			Lang:        cfg.OCR.TesseractLang,
			TessdataDir: cfg.OCR.TessdataDir,
			DPI:         cfg.OCR.DPI,
			MaxPages:    cfg.OCR.MaxPages,
		}, runner, logger))
	}
	if enabled[constants.ProviderMistral] {
		client := openai.NewClient(openai.Config{
			APIKey:  cfg.Vision.APIKey,
			BaseURL: cfg.Vision.BaseURL,
			Model:   cfg.Vision.Model,
			Timeout: cfg.Pipeline.ExtractTimeout,
		}, logger)
		providers = append(providers, openai.NewVisionOCR(client, constants.ProviderMistral))
	}
	if enabled[constants.ProviderVision] {
		providers = append(providers, vertex.NewOCR(vc))
	}
	return extract.New(pdf, providers, cfg.Pipeline.ExtractTimeout, logger), enabled
}

// NewCompletion builds the parse model for cfg.LLM.Provider.
func NewCompletion(ctx context.Context, cfg common.Config, logger *slog.Logger) (llm.Completion, func(), error) {
	if cfg.LLM.Provider == "vertex" {
		vc, err := NewVertexClient(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return vc, func() { _ = vc.Close() }, nil
	}
	c, err := newCompletion(cfg, nil, logger)
	return c, func() {}, err
}

func newCompletion(cfg common.Config, vc *vertex.Client, logger *slog.Logger) (llm.Completion, error) {
	switch cfg.LLM.Provider {
	case "vertex":
		if vc == nil {
			return nil, errors.New("vertex client not configured")
		}
		return vc, nil
	case "openai", "":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}
}

// EngineOptions maps the decision knobs onto validation options.
func EngineOptions(p common.PipelineConfig) validation.Options {
	return validation.Options{
		TotalsTolerance:     decimal.NewFromFloat(p.TotalsTolerance),
		ConfidenceThreshold: decimal.NewFromFloat(p.ConfidenceThreshold),
		MaxDateAgeDays:      p.MaxDateAgeDays,
	}
}

// DefaultCatalog is the seeded catalog, for tools that run without a database.
func DefaultCatalog() entity.Catalog {
	conv := func(seeds []constants.CatalogSeed) []entity.CatalogEntry {
		out := make([]entity.CatalogEntry, 0, len(seeds))
		for _, s := range seeds {
			out = append(out, entity.CatalogEntry{ID: s.ID, Name: s.Name, Description: s.Description})
		}
		return out
	}
	return entity.Catalog{
		ExpenseCategories: conv(constants.DefaultExpenseCategories),
		IncomeCategories:  conv(constants.DefaultIncomeCategories),
		PaymentMethods:    conv(constants.DefaultPaymentMethods),
	}
}
