// Package pipeline runs documents through classify, extract, parse, validate
// and write, one stage per call, keeping the document status in step.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/classify"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/extract"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/storage"
	"github.com/joseph-ayodele/receipts-pipeline/internal/writer"
)

var (
	ErrTextTooShort = common.NewAppError("TEXT_TOO_SHORT", "raw text is too short or empty", common.ErrInvalidInput)
	ErrNotParsed    = common.NewAppError("NOT_PARSED", "document has no parsed fields", common.ErrInvalidInput)
)

type DocumentStore interface {
	Create(ctx context.Context, doc *entity.Document) error
	Get(ctx context.Context, id string) (*entity.Document, error)
	FindByContentHash(ctx context.Context, hash, excludeID string) (*entity.Document, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*entity.Document, error)
}

type Classifier interface {
	Classify(ctx context.Context, data []byte, mimeType string) classify.Result
}

type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (extract.Result, error)
}

type Parser interface {
	Parse(ctx context.Context, documentID, rawText string, catalog entity.Catalog) (*entity.ParsedDocument, error)
}

type CatalogLoader interface {
	Load(ctx context.Context) (entity.Catalog, error)
}

type Validator interface {
	Validate(ctx context.Context, doc *entity.ParsedDocument) (entity.ValidationResult, error)
}

type Writer interface {
	Write(ctx context.Context, req writer.Request) (writer.Result, error)
}

type Tracker interface {
	Advance(ctx context.Context, id string, to constants.DocumentStatus, upd entity.DocumentUpdate) (constants.DocumentStatus, error)
	Fail(ctx context.Context, id string, cause error) error
}

// Deps wires the service's collaborators.
type Deps struct {
	Documents  DocumentStore
	Storage    storage.Client
	Classifier Classifier
	Extractor  Extractor
	Parser     Parser
	Catalog    CatalogLoader
	Validator  Validator
	Writer     Writer
	Tracker    Tracker
}

type Options struct {
	MinParseTextChars int // default 20
}

type Service struct {
	Deps
	opts   Options
	logger *slog.Logger
}

func NewService(deps Deps, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinParseTextChars <= 0 {
		opts.MinParseTextChars = 20
	}
	return &Service{Deps: deps, opts: opts, logger: logger}
}

func (s *Service) GetDocument(ctx context.Context, id string) (*entity.Document, error) {
	return s.Documents.Get(ctx, id)
}

func (s *Service) ListDocuments(ctx context.Context, filter repository.ListFilter) ([]*entity.Document, error) {
	return s.Documents.List(ctx, filter)
}

func (s *Service) log(ctx context.Context, documentID string) *slog.Logger {
	log := common.LoggerFrom(ctx, s.logger)
	if common.DocumentIDFromContext(ctx) == "" && documentID != "" {
		log = log.With("document_id", documentID)
	}
	return log
}

// fail moves the document to failed and returns cause.
func (s *Service) fail(ctx context.Context, documentID string, cause error) error {
	if err := s.Tracker.Fail(ctx, documentID, cause); err != nil {
		s.log(ctx, documentID).Error("pipeline.fail.record_failed", "err", err, "cause", cause)
	}
	return cause
}
