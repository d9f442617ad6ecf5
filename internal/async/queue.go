package async

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is shutting down")
)

// Job asks for one document to be driven through every remaining stage.
type Job struct {
	DocumentID  string
	Force       bool // commit even when the signature was seen before
	SubmittedAt time.Time
	RequestID   string
}

// Processor runs a whole document through the pipeline.
type Processor interface {
	ProcessDocument(ctx context.Context, documentID string, force bool) error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
