// Package server exposes the pipeline over HTTP (chi) and gRPC.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/async"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
)

// Pipeline is the stage service both transports call into.
type Pipeline interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResponse, error)
	Extract(ctx context.Context, req pipeline.ExtractRequest) (*pipeline.ExtractResponse, error)
	Parse(ctx context.Context, req pipeline.ParseRequest) (*pipeline.ParseResponse, error)
	Validate(ctx context.Context, req pipeline.ValidateRequest) (*pipeline.ValidateResponse, error)
	Write(ctx context.Context, req pipeline.WriteRequest) (*pipeline.WriteResponse, error)
	Process(ctx context.Context, documentID string, force bool) (*pipeline.ProcessResponse, error)
	GetDocument(ctx context.Context, id string) (*entity.Document, error)
	ListDocuments(ctx context.Context, filter repository.ListFilter) ([]*entity.Document, error)
}

type Exporter interface {
	ExportXLSX(ctx context.Context, filter export.Filter) ([]byte, error)
}

type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Deps are shared by the HTTP and gRPC servers. Queue and DB may be nil.
type Deps struct {
	Pipeline Pipeline
	Exporter Exporter
	Queue    async.Queue
	DB       Pinger
}

// queuedResponse is returned when a document is handed to the worker queue.
type queuedResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

func enqueue(ctx context.Context, d Deps, documentID string, force bool) (*queuedResponse, error) {
	if d.Queue == nil {
		return nil, common.NewAppError("ASYNC_DISABLED", "worker queue is not configured", common.ErrInvalidInput)
	}
	if _, err := d.Pipeline.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	job := async.Job{
		DocumentID:  documentID,
		Force:       force,
		SubmittedAt: time.Now().UTC(),
		RequestID:   common.RequestIDFromContext(ctx),
	}
	if err := d.Queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return &queuedResponse{DocumentID: documentID, Status: "queued"}, nil
}

func listFilter(statusParam, userID string, limit, offset int) (repository.ListFilter, error) {
	f := repository.ListFilter{UserID: strings.TrimSpace(userID), Limit: limit, Offset: offset}
	if s := strings.TrimSpace(statusParam); s != "" {
		st, ok := constants.ParseStatus(s)
		if !ok {
			return f, common.NewAppError("INVALID_REQUEST", "unknown status "+s, common.ErrInvalidInput)
		}
		f.Status = st
	}
	if limit < 0 || offset < 0 {
		return f, common.NewAppError("INVALID_REQUEST", "limit and offset must not be negative", common.ErrInvalidInput)
	}
	return f, nil
}

// exportFilter parses optional YYYY-MM-DD bounds. Only from means from..today;
// only to means everything up to to.
func exportFilter(userID, from, to string, now time.Time) (export.Filter, error) {
	f := export.Filter{UserID: strings.TrimSpace(userID)}
	if fd := strings.TrimSpace(from); fd != "" {
		t, err := time.Parse(constants.DateLayout, fd)
		if err != nil {
			return f, common.NewAppError("INVALID_REQUEST", "from_date must be YYYY-MM-DD", common.ErrInvalidInput)
		}
		f.From = &t
	}
	if td := strings.TrimSpace(to); td != "" {
		t, err := time.Parse(constants.DateLayout, td)
		if err != nil {
			return f, common.NewAppError("INVALID_REQUEST", "to_date must be YYYY-MM-DD", common.ErrInvalidInput)
		}
		f.To = &t
	}
	if f.From != nil && f.To == nil {
		today := now.UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return f, common.NewAppError("INVALID_REQUEST", "from_date is after to_date", common.ErrInvalidInput)
	}
	return f, nil
}

func isConflict(err error) bool {
	return errors.Is(err, state.ErrTerminalState) ||
		errors.Is(err, state.ErrIllegalTransition) ||
		errors.Is(err, state.ErrConcurrentUpdate)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case common.IsClientError(err):
		return http.StatusBadRequest
	case isConflict(err):
		return http.StatusConflict
	case errors.Is(err, async.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch httpStatus(err) {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

func toGRPCError(err error) error {
	switch {
	case isConflict(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, async.ErrQueueClosed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return common.ToGRPCError(err)
}
