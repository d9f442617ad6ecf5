package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/async"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/state"
)

type fakePipeline struct {
	mu         sync.Mutex
	docs       map[string]*entity.Document
	lastFilter repository.ListFilter
	processErr error
	lastCtx    context.Context
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{docs: map[string]*entity.Document{
		"doc-1": {ID: "doc-1", UserID: "u1", Status: constants.StatusParsed},
	}}
}

func (f *fakePipeline) Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResponse, error) {
	f.mu.Lock()
	f.lastCtx = ctx
	f.mu.Unlock()
	if req.UserID == "" {
		return nil, common.NewAppError("INVALID_REQUEST", "user_id: is required", common.ErrInvalidInput)
	}
	return &pipeline.IngestResponse{
		DocumentID: "doc-new",
		IngestKind: constants.IngestDigital,
		SHA256:     "abc",
		StorageURL: req.FileURL,
		Status:     constants.StatusIngested,
	}, nil
}

func (f *fakePipeline) Extract(_ context.Context, req pipeline.ExtractRequest) (*pipeline.ExtractResponse, error) {
	if _, ok := f.docs[req.DocumentID]; !ok {
		return nil, fmt.Errorf("get document: %w", common.ErrNotFound)
	}
	return &pipeline.ExtractResponse{DocumentID: req.DocumentID, Provider: constants.ProviderNativeText, RawText: "text", ConfidenceHint: 0.95}, nil
}

func (f *fakePipeline) Parse(_ context.Context, req pipeline.ParseRequest) (*pipeline.ParseResponse, error) {
	if len(req.RawText) < 20 {
		return nil, pipeline.ErrTextTooShort
	}
	return &pipeline.ParseResponse{DocumentID: req.DocumentID, ParserModel: "m"}, nil
}

func (f *fakePipeline) Validate(_ context.Context, req pipeline.ValidateRequest) (*pipeline.ValidateResponse, error) {
	return &pipeline.ValidateResponse{
		DocumentID: req.DocumentID,
		Status:     constants.ValidationApproved,
		Reasons:    []entity.ValidationReason{},
		Badges:     map[string]string{"status": "Auto-Approved", "confidence": "High"},
	}, nil
}

func (f *fakePipeline) Write(_ context.Context, req pipeline.WriteRequest) (*pipeline.WriteResponse, error) {
	if req.DocumentID == "done" {
		return nil, fmt.Errorf("advance status: %w", state.ErrTerminalState)
	}
	if req.DocumentID == "boom" {
		return nil, errors.New("disk on fire")
	}
	return &pipeline.WriteResponse{DocumentID: req.DocumentID, TransactionID: "tx-1", Status: constants.WriteCreated}, nil
}

func (f *fakePipeline) Process(_ context.Context, documentID string, force bool) (*pipeline.ProcessResponse, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &pipeline.ProcessResponse{DocumentID: documentID, Status: constants.StatusTransactionCreated}, nil
}

func (f *fakePipeline) GetDocument(_ context.Context, id string) (*entity.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("get document %s: %w", id, common.ErrNotFound)
	}
	return doc, nil
}

func (f *fakePipeline) ListDocuments(_ context.Context, filter repository.ListFilter) ([]*entity.Document, error) {
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()
	return []*entity.Document{f.docs["doc-1"]}, nil
}

func (f *fakePipeline) seen() (context.Context, repository.ListFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCtx, f.lastFilter
}

type fakeExporter struct {
	mu     sync.Mutex
	filter export.Filter
}

func (f *fakeExporter) ExportXLSX(_ context.Context, filter export.Filter) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return []byte("PK-xlsx"), nil
}

func (f *fakeExporter) last() export.Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) snapshot() []async.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]async.Job(nil), q.jobs...)
}

func (q *fakeQueue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *fakeQueue) Shutdown(context.Context) {}

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context, time.Duration) error { return f.err }

type httpFixture struct {
	srv      *httptest.Server
	pipe     *fakePipeline
	exporter *fakeExporter
	queue    *fakeQueue
}

func newHTTPFixture(t *testing.T, db Pinger) *httpFixture {
	t.Helper()
	f := &httpFixture{pipe: newFakePipeline(), exporter: &fakeExporter{}, queue: &fakeQueue{}}
	api := NewAPI(Deps{Pipeline: f.pipe, Exporter: f.exporter, Queue: f.queue, DB: db}, HTTPOptions{
		CORSOrigins: []string{"http://localhost:3000"},
		Providers:   map[string]bool{"native_text": true, "tesseract": true, "vision": false},
	}, nil)
	api.now = func() time.Time { return time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC) }
	f.srv = httptest.NewServer(api.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *httpFixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *httpFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHTTP_Health(t *testing.T) {
	f := newHTTPFixture(t, fakeDB{})
	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"native_text": true, "tesseract": true, "vision": false}, body["providers"])

	down := newHTTPFixture(t, fakeDB{err: errors.New("conn refused")})
	resp, body = down.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestHTTP_StageStatusMapping(t *testing.T) {
	f := newHTTPFixture(t, nil)
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"ingest ok", "/api/v1/ingest", `{"user_id":"u1","file_url":"r.pdf"}`, http.StatusOK, ""},
		{"ingest invalid", "/api/v1/ingest", `{"file_url":"r.pdf"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty body", "/api/v1/ingest", ``, http.StatusBadRequest, "INVALID_JSON"},
		{"malformed json", "/api/v1/ingest", `{"user_id":`, http.StatusBadRequest, "INVALID_JSON"},
		{"extract ok", "/api/v1/extract", `{"document_id":"doc-1"}`, http.StatusOK, ""},
		{"extract not found", "/api/v1/extract", `{"document_id":"nope"}`, http.StatusNotFound, "NOT_FOUND"},
		{"parse too short", "/api/v1/parse", `{"document_id":"doc-1","raw_text":"short"}`, http.StatusBadRequest, "TEXT_TOO_SHORT"},
		{"validate ok", "/api/v1/validate", `{"document_id":"doc-1"}`, http.StatusOK, ""},
		{"write ok", "/api/v1/write", `{"document_id":"doc-1"}`, http.StatusOK, ""},
		{"write terminal", "/api/v1/write", `{"document_id":"done"}`, http.StatusConflict, "CONFLICT"},
		{"write internal", "/api/v1/write", `{"document_id":"boom"}`, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["code"])
				assert.Equal(t, resp.Header.Get("X-Request-Id"), body["req_id"])
			}
		})
	}
}

func TestHTTP_RequestIDPropagates(t *testing.T) {
	f := newHTTPFixture(t, nil)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/v1/ingest", strings.NewReader(`{"user_id":"u1","file_url":"a.pdf"}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "rid-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "rid-123", resp.Header.Get("X-Request-Id"))
	ctx, _ := f.pipe.seen()
	assert.Equal(t, "rid-123", common.RequestIDFromContext(ctx))
}

func TestHTTP_Documents(t *testing.T) {
	f := newHTTPFixture(t, nil)

	resp, body := f.get(t, "/api/v1/documents?status=parsed&user_id=u1&limit=10&offset=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["documents"], 1)
	_, filter := f.pipe.seen()
	assert.Equal(t, repository.ListFilter{Status: constants.StatusParsed, UserID: "u1", Limit: 10, Offset: 5}, filter)

	resp, _ = f.get(t, "/api/v1/documents?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.get(t, "/api/v1/documents?limit=ten")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.get(t, "/api/v1/documents/doc-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "doc-1", body["id"])

	resp, _ = f.get(t, "/api/v1/documents/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_Process(t *testing.T) {
	f := newHTTPFixture(t, nil)

	resp, body := f.post(t, "/api/v1/documents/doc-1/process", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "transaction_created", body["status"])

	resp, body = f.post(t, "/api/v1/documents/doc-1/process?async=true&force=true", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	jobs := f.queue.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "doc-1", jobs[0].DocumentID)
	assert.True(t, jobs[0].Force)
	assert.NotEmpty(t, jobs[0].RequestID)

	resp, _ = f.post(t, "/api/v1/documents/missing/process?async=true", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.queue.fail(async.ErrQueueClosed)
	resp, _ = f.post(t, "/api/v1/documents/doc-1/process?async=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTP_ExportXLSX(t *testing.T) {
	f := newHTTPFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/api/v1/export.xlsx?user_id=u1&from_date=2024-01-01")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "receipts_20240101_20240310.xlsx")
	assert.Equal(t, "PK-xlsx", buf.String())
	filter := f.exporter.last()
	assert.Equal(t, "u1", filter.UserID)
	require.NotNil(t, filter.To)
	assert.Equal(t, "2024-03-10", filter.To.Format(constants.DateLayout))

	bad, _ := f.get(t, "/api/v1/export.xlsx?from_date=01/02/2024")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	inverted, _ := f.get(t, "/api/v1/export.xlsx?from_date=2024-05-01&to_date=2024-01-01")
	assert.Equal(t, http.StatusBadRequest, inverted.StatusCode)
}

func TestHTTP_CORS(t *testing.T) {
	f := newHTTPFixture(t, nil)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/ingest", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func startGRPC(t *testing.T, deps Deps) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor(nil)))
	RegisterPipelineServiceServer(srv, NewGRPCServer(deps, nil))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func call(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := &structpb.Struct{}
	err = conn.Invoke(context.Background(), "/"+PipelineServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_Stages(t *testing.T) {
	pipe := newFakePipeline()
	queue := &fakeQueue{}
	conn := startGRPC(t, Deps{Pipeline: pipe, Exporter: &fakeExporter{}, Queue: queue})

	out, err := call(t, conn, "Ingest", map[string]any{"user_id": "u1", "file_url": "gs://b/r.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "doc-new", out.Fields["document_id"].GetStringValue())
	assert.Equal(t, "digital", out.Fields["ingest_kind"].GetStringValue())

	out, err = call(t, conn, "Validate", map[string]any{"document_id": "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, "approved", out.Fields["status"].GetStringValue())
	assert.Equal(t, "Auto-Approved", out.Fields["badges"].GetStructValue().Fields["status"].GetStringValue())

	out, err = call(t, conn, "ListDocuments", map[string]any{"user_id": "u1", "limit": 5})
	require.NoError(t, err)
	assert.Len(t, out.Fields["documents"].GetListValue().Values, 1)
	_, filter := pipe.seen()
	assert.Equal(t, 5, filter.Limit)

	out, err = call(t, conn, "Process", map[string]any{"document_id": "doc-1", "async": true})
	require.NoError(t, err)
	assert.Equal(t, "queued", out.Fields["status"].GetStringValue())
	assert.Len(t, queue.snapshot(), 1)

	out, err = call(t, conn, "ExportXLSX", map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "UEsteGxzeA==", out.Fields["xlsx"].GetStringValue())
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := startGRPC(t, Deps{Pipeline: newFakePipeline(), Exporter: &fakeExporter{}})
	tests := []struct {
		name   string
		method string
		in     map[string]any
		want   codes.Code
	}{
		{"invalid input", "Ingest", map[string]any{"file_url": "x"}, codes.InvalidArgument},
		{"not found", "GetDocument", map[string]any{"document_id": "missing"}, codes.NotFound},
		{"missing id", "GetDocument", map[string]any{}, codes.InvalidArgument},
		{"terminal", "Write", map[string]any{"document_id": "done"}, codes.FailedPrecondition},
		{"internal", "Write", map[string]any{"document_id": "boom"}, codes.Internal},
		{"async without queue", "Process", map[string]any{"document_id": "doc-1", "async": true}, codes.InvalidArgument},
		{"bad date", "ExportXLSX", map[string]any{"from_date": "yesterday"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, conn, tt.method, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestGRPC_Health(t *testing.T) {
	conn := startGRPC(t, Deps{Pipeline: newFakePipeline()})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
