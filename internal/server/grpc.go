package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ContraLedger/internal/core"
	"ContraLedger/internal/ingestion"
	"ContraLedger/internal/observability"
	"ContraLedger/internal/persistence"
	"ContraLedger/internal/query"
	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// SettlementReader serves the live state of a settlement (the processor).
type SettlementReader interface {
	Settlement(ctx context.Context, id uuid.UUID) (session.Snapshot, error)
}

// QueryReader serves the persisted view (query.QueryService).
type QueryReader interface {
	GetSettlement(ctx context.Context, id uuid.UUID) (*query.SettlementResponse, error)
	ListSettlements(ctx context.Context, f query.ListFilter) ([]query.SettlementSummary, error)
	GetCommandHistory(ctx context.Context, id uuid.UUID, limit int, beforeSequence *int64) ([]query.CommandHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	health        *health.Server

	svc     *allocationService
	queries QueryReader
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	Submit        *ingestion.SubmitService
	Settlements   SettlementReader
	Queries       QueryReader
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	svc := &allocationService{submit: deps.Submit, settlements: deps.Settlements}
	RegisterAllocationServiceServer(grpcServer, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(AllocationServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		health:        healthServer,
		svc:           svc,
		queries:       deps.Queries,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.Serve(lis)
}

// Serve accepts gRPC connections on lis until the server stops.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// AllocationService implementation
// ============================================================================

type allocationService struct {
	submit      *ingestion.SubmitService
	settlements SettlementReader
}

func (s *allocationService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.CommandType == "" {
		return nil, status.Error(codes.InvalidArgument, "command_type is required")
	}

	var id uuid.UUID
	if req.SettlementID != "" {
		parsed, err := uuid.Parse(req.SettlementID)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid settlement_id: %v", err)
		}
		id = parsed
	}

	res, err := s.submit.Submit(ctx, req.CommandType, id, req.Body)
	if err != nil {
		return nil, toStatus(err)
	}
	return newSubmitResponse(res), nil
}

func (s *allocationService) GetSettlement(ctx context.Context, req *GetSettlementRequest) (*SettlementView, error) {
	if req.SettlementID == "" {
		return nil, status.Error(codes.InvalidArgument, "settlement_id is required")
	}
	id, err := uuid.Parse(req.SettlementID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid settlement_id: %v", err)
	}

	snap, err := s.settlements.Settlement(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return newSettlementView(snap), nil
}

// ============================================================================
// Helpers
// ============================================================================

// toStatus maps domain errors onto gRPC codes. Errors that already carry a
// status pass through.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, core.ErrSettlementNotFound),
		errors.Is(err, persistence.ErrSettlementNotFound),
		errors.Is(err, session.ErrLineNotFound):
		code = codes.NotFound
	case errors.Is(err, core.ErrVersionConflict):
		code = codes.Aborted
	case errors.Is(err, core.ErrSettlementExists):
		code = codes.AlreadyExists
	case errors.Is(err, session.ErrZeroSettlementBalance),
		errors.Is(err, session.ErrNothingToUndo):
		code = codes.FailedPrecondition
	case errors.Is(err, ingestion.ErrMalformedCommand), core.IsRejection(err):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrStopped):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
