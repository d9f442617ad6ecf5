package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

// Process runs every remaining stage for one document, resuming from its
// current status. Terminal documents are returned as they are.
//
// A record is written when validation approves it, or when the only finding is
// DUPLICATE; the writer then skips it unless force is set.
func (s *Service) Process(ctx context.Context, documentID string, force bool) (*ProcessResponse, error) {
	start := time.Now()
	doc, err := s.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	log := s.log(ctx, doc.ID)
	out := &ProcessResponse{DocumentID: doc.ID, Status: doc.Status}
	if doc.IsTerminal() {
		return out, nil
	}

	status := doc.Status
	switch status {
	case constants.StatusIngested, constants.StatusProcessing:
		ex, err := s.Extract(ctx, ExtractRequest{DocumentID: doc.ID})
		if err != nil {
			return s.finish(ctx, out), err
		}
		out.Extract = ex
		status = constants.StatusOCRCompleted
	}

	if status == constants.StatusOCRCompleted {
		p, err := s.Parse(ctx, ParseRequest{DocumentID: doc.ID})
		if errors.Is(err, ErrTextTooShort) {
			err = s.fail(ctx, doc.ID, err)
		}
		if err != nil {
			return s.finish(ctx, out), err
		}
		out.Parse = p
	}

	v, err := s.Validate(ctx, ValidateRequest{DocumentID: doc.ID})
	if err != nil {
		return s.finish(ctx, out), err
	}
	out.Validate = v

	if shouldWrite(v) {
		w, err := s.Write(ctx, WriteRequest{DocumentID: doc.ID, NormalizedJSON: &v.NormalizedJSON, Force: force})
		if err != nil {
			return s.finish(ctx, out), err
		}
		out.Write = w
	}

	s.finish(ctx, out)
	log.Info("process.done",
		"status", out.Status,
		"validation", v.Status,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// ProcessDocument runs Process and keeps only the error, for the worker queue.
func (s *Service) ProcessDocument(ctx context.Context, documentID string, force bool) error {
	_, err := s.Process(ctx, documentID, force)
	return err
}

func (s *Service) finish(ctx context.Context, out *ProcessResponse) *ProcessResponse {
	if doc, err := s.Documents.Get(ctx, out.DocumentID); err == nil {
		out.Status = doc.Status
	}
	return out
}

func shouldWrite(v *ValidateResponse) bool {
	if v.Status == constants.ValidationApproved {
		return true
	}
	return len(v.Reasons) == 1 && v.Reasons[0].Code == constants.ReasonDuplicate
}
