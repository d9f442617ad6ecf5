package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

type listResponse struct {
	Documents []*entity.Document `json:"documents"`
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, "documents.list", err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		a.writeError(w, r, "documents.list", err)
		return
	}
	filter, err := listFilter(q.Get("status"), q.Get("user_id"), limit, offset)
	if err != nil {
		a.writeError(w, r, "documents.list", err)
		return
	}
	docs, err := a.deps.Pipeline.ListDocuments(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, "documents.list", err)
		return
	}
	if docs == nil {
		docs = []*entity.Document{}
	}
	writeJSON(w, http.StatusOK, listResponse{Documents: docs})
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.deps.Pipeline.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, "documents.get", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// processDocument runs every remaining stage. With ?async=true the document is
// queued and 202 is returned straight away.
func (a *API) processDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	force, _ := strconv.ParseBool(q.Get("force"))

	if async, _ := strconv.ParseBool(q.Get("async")); async {
		resp, err := enqueue(ctx, a.deps, id, force)
		if err != nil {
			a.writeError(w, r, "documents.process", err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	resp, err := a.deps.Pipeline.Process(common.WithDocumentID(ctx, id), id, force)
	if err != nil {
		a.writeError(w, r, "documents.process", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, common.NewAppError("INVALID_REQUEST", "expected an integer, got "+strconv.Quote(s), common.ErrInvalidInput)
	}
	return n, nil
}
