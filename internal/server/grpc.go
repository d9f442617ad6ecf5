package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/pipeline"
)

// PipelineServiceName is the fully qualified gRPC service name. Every method
// takes and returns a google.protobuf.Struct carrying the same JSON shapes as
// the HTTP endpoints.
const PipelineServiceName = "receipts.pipeline.v1.PipelineService"

type PipelineServiceServer interface {
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Extract(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Parse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Write(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Process(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDocuments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportXLSX(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func structMethod(name string, call func(PipelineServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PipelineServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PipelineServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PipelineServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var PipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: PipelineServiceName,
	HandlerType: (*PipelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		structMethod("Ingest", PipelineServiceServer.Ingest),
		structMethod("Extract", PipelineServiceServer.Extract),
		structMethod("Parse", PipelineServiceServer.Parse),
		structMethod("Validate", PipelineServiceServer.Validate),
		structMethod("Write", PipelineServiceServer.Write),
		structMethod("Process", PipelineServiceServer.Process),
		structMethod("GetDocument", PipelineServiceServer.GetDocument),
		structMethod("ListDocuments", PipelineServiceServer.ListDocuments),
		structMethod("ExportXLSX", PipelineServiceServer.ExportXLSX),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "receipts/pipeline/v1/pipeline.proto",
}

func RegisterPipelineServiceServer(s grpc.ServiceRegistrar, srv PipelineServiceServer) {
	s.RegisterService(&PipelineServiceDesc, srv)
}

// GRPCServer implements PipelineServiceServer on top of the stage service.
type GRPCServer struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewGRPCServer(deps Deps, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{deps: deps, logger: logger, now: time.Now}
}

func (s *GRPCServer) Ingest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "Ingest", in, s.deps.Pipeline.Ingest)
}

func (s *GRPCServer) Extract(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "Extract", in, s.deps.Pipeline.Extract)
}

func (s *GRPCServer) Parse(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "Parse", in, s.deps.Pipeline.Parse)
}

func (s *GRPCServer) Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "Validate", in, s.deps.Pipeline.Validate)
}

func (s *GRPCServer) Write(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "Write", in, s.deps.Pipeline.Write)
}

type processRequest struct {
	DocumentID string `json:"document_id"`
	Force      bool   `json:"force"`
	Async      bool   `json:"async"`
}

func (s *GRPCServer) Process(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "Process", in, func(ctx context.Context, req processRequest) (any, error) {
		if err := common.NewValidator().Field("document_id", req.DocumentID, common.Required).Err(); err != nil {
			return nil, err
		}
		if req.Async {
			return enqueue(ctx, s.deps, req.DocumentID, req.Force)
		}
		return s.deps.Pipeline.Process(common.WithDocumentID(ctx, req.DocumentID), req.DocumentID, req.Force)
	})
}

type documentRequest struct {
	DocumentID string `json:"document_id"`
}

func (s *GRPCServer) GetDocument(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "GetDocument", in, func(ctx context.Context, req documentRequest) (*entity.Document, error) {
		if err := common.NewValidator().Field("document_id", req.DocumentID, common.Required).Err(); err != nil {
			return nil, err
		}
		return s.deps.Pipeline.GetDocument(ctx, req.DocumentID)
	})
}

type listRequest struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (s *GRPCServer) ListDocuments(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "ListDocuments", in, func(ctx context.Context, req listRequest) (*listResponse, error) {
		filter, err := listFilter(req.Status, req.UserID, req.Limit, req.Offset)
		if err != nil {
			return nil, err
		}
		docs, err := s.deps.Pipeline.ListDocuments(ctx, filter)
		if err != nil {
			return nil, err
		}
		if docs == nil {
			docs = []*entity.Document{}
		}
		return &listResponse{Documents: docs}, nil
	})
}

type exportRequest struct {
	UserID   string `json:"user_id"`
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

type exportResponse struct {
	XLSX []byte `json:"xlsx"` // base64 in the Struct
}

func (s *GRPCServer) ExportXLSX(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, s, "ExportXLSX", in, func(ctx context.Context, req exportRequest) (*exportResponse, error) {
		filter, err := exportFilter(req.UserID, req.FromDate, req.ToDate, s.now())
		if err != nil {
			return nil, err
		}
		data, err := s.deps.Exporter.ExportXLSX(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &exportResponse{XLSX: data}, nil
	})
}

func invoke[Req, Resp any](ctx context.Context, s *GRPCServer, method string, in *structpb.Struct, fn func(context.Context, Req) (Resp, error)) (*structpb.Struct, error) {
	var req Req
	if err := fromStruct(in, &req); err != nil {
		return nil, common.InvalidArgumentErrorf("%s: decode request: %v", method, err)
	}
	resp, err := fn(ctx, req)
	if err != nil {
		gerr := toGRPCError(err)
		log := common.LoggerFrom(ctx, s.logger).With("method", method, "code", status.Code(gerr).String(), "err", err)
		if common.IsClientError(err) || isConflict(err) {
			log.Warn("grpc.request.rejected")
		} else {
			log.Error("grpc.request.failed")
		}
		return nil, gerr
	}
	out, err := toStruct(resp)
	if err != nil {
		return nil, common.InternalErrorf("%s: encode response: %v", method, err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnaryInterceptor tags each call with a request id (from x-request-id
// metadata or a fresh uuid) and logs its outcome.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		rid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("x-request-id"); len(vals) > 0 {
				rid = vals[0]
			}
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, rid)
		resp, err := handler(ctx, req)
		common.LoggerFrom(ctx, logger).Info("grpc.request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds())
		return resp, err
	}
}

var _ PipelineServiceServer = (*GRPCServer)(nil)
var _ Pipeline = (*pipeline.Service)(nil)
