package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

const maxBodyBytes = 4 << 20

type HTTPOptions struct {
	APIPrefix   string // default /api/v1
	CORSOrigins []string
	Providers   map[string]bool // reported by /health
}

// API serves the pipeline stages as JSON endpoints.
type API struct {
	deps   Deps
	opts   HTTPOptions
	logger *slog.Logger
	now    func() time.Time
}

func NewAPI(deps Deps, opts HTTPOptions, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}
	return &API{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Router builds the chi routing tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors(a.opts.CORSOrigins))

	r.Get("/health", a.health)
	r.Route(a.opts.APIPrefix, func(r chi.Router) {
		r.Post("/ingest", stage(a, "ingest", a.deps.Pipeline.Ingest))
		r.Post("/extract", stage(a, "extract", a.deps.Pipeline.Extract))
		r.Post("/parse", stage(a, "parse", a.deps.Pipeline.Parse))
		r.Post("/validate", stage(a, "validate", a.deps.Pipeline.Validate))
		r.Post("/write", stage(a, "write", a.deps.Pipeline.Write))

		r.Get("/documents", a.listDocuments)
		r.Get("/documents/{id}", a.getDocument)
		r.Post("/documents/{id}/process", a.processDocument)
		r.Get("/export.xlsx", a.exportXLSX)
	})
	return r
}

type healthResponse struct {
	Status    string          `json:"status"`
	Database  string          `json:"database,omitempty"`
	Providers map[string]bool `json:"providers"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Providers: a.opts.Providers}
	if resp.Providers == nil {
		resp.Providers = map[string]bool{}
	}
	code := http.StatusOK
	if a.deps.DB != nil {
		resp.Database = "ok"
		if err := a.deps.DB.HealthCheck(r.Context(), 2*time.Second); err != nil {
			a.log(r.Context()).Warn("http.health.db_failed", "err", err)
			resp.Status, resp.Database = "degraded", "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

// stage adapts a pipeline call into a JSON POST handler.
func stage[Req, Resp any](a *API, name string, fn func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, name, err)
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			a.writeError(w, r, name, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return common.NewAppError("INVALID_JSON", "request body is required", common.ErrInvalidInput)
		}
		return common.NewAppError("INVALID_JSON", err.Error(), common.ErrInvalidInput)
	}
	return nil
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"req_id,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := httpStatus(err)
	log := a.log(r.Context()).With("op", op, "status", code, "err", err)
	if code >= http.StatusInternalServerError {
		log.Error("http.request.failed")
	} else {
		log.Warn("http.request.rejected")
	}
	writeJSON(w, code, errorResponse{
		Code:      errorCode(err),
		Message:   err.Error(),
		RequestID: common.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) log(ctx context.Context) *slog.Logger {
	return common.LoggerFrom(ctx, a.logger)
}

// requestID takes X-Request-Id from the caller or mints a uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), rid)))
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log(r.Context()).Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[origin]
				if allowAll || ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.RequestIDHeader)
					h.Set("Access-Control-Expose-Headers", middleware.RequestIDHeader)
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
