package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ContraLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// HTTPHandler builds the HTTP/JSON surface: the gateway routes over the
// AllocationService and the query service, plus liveness and readiness.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/settlements/{id}/commands/{type}", s.handleSubmit},
		{"GET", "/v1/settlements/{id}", s.handleGetSettlement},
		{"GET", "/v1/settlements/{id}/stored", s.handleStoredSettlement},
		{"GET", "/v1/settlements", s.handleListSettlements},
		{"GET", "/v1/settlements/{id}/commands", s.handleCommandHistory},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// ============================================================================
// AllocationService routes
// ============================================================================

func (s *GRPCServer) handleSubmit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, "submit", start, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}

	resp, err := s.svc.Submit(r.Context(), &SubmitRequest{
		CommandType:  params["type"],
		SettlementID: params["id"],
		Body:         body,
	})
	if err != nil {
		s.writeError(w, "submit", start, err)
		return
	}
	s.writeJSON(w, "submit", start, resp)
}

func (s *GRPCServer) handleGetSettlement(w http.ResponseWriter, r *http.Request, params map[string]string) {
	start := time.Now()
	resp, err := s.svc.GetSettlement(r.Context(), &GetSettlementRequest{SettlementID: params["id"]})
	if err != nil {
		s.writeError(w, "get_settlement", start, err)
		return
	}
	s.writeJSON(w, "get_settlement", start, resp)
}

// ============================================================================
// Query routes
// ============================================================================

// handleStoredSettlement serves the last persisted state, which can trail the
// live settlement by the persistence batch.
func (s *GRPCServer) handleStoredSettlement(w http.ResponseWriter, r *http.Request, params map[string]string) {
	start := time.Now()
	id, err := uuid.Parse(params["id"])
	if err != nil {
		s.writeError(w, "stored_settlement", start, status.Errorf(codes.InvalidArgument, "invalid settlement id: %v", err))
		return
	}

	resp, err := s.queries.GetSettlement(r.Context(), id)
	if err != nil {
		s.writeError(w, "stored_settlement", start, toStatus(err))
		return
	}
	s.writeJSON(w, "stored_settlement", start, resp)
}

func (s *GRPCServer) handleListSettlements(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	q := r.URL.Query()

	filter := query.ListFilter{
		Module:   q.Get("module"),
		Currency: q.Get("currency"),
	}
	if v := q.Get("before"); v != "" {
		before, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.writeError(w, "list_settlements", start, status.Errorf(codes.InvalidArgument, "invalid before: %v", err))
			return
		}
		filter.Before = &before
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.writeError(w, "list_settlements", start, err)
		return
	}
	filter.Limit = limit

	out, err := s.queries.ListSettlements(r.Context(), filter)
	if err != nil {
		s.writeError(w, "list_settlements", start, toStatus(err))
		return
	}
	if out == nil {
		out = []query.SettlementSummary{}
	}
	s.writeJSON(w, "list_settlements", start, map[string]interface{}{"settlements": out})
}

func (s *GRPCServer) handleCommandHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	start := time.Now()
	id, err := uuid.Parse(params["id"])
	if err != nil {
		s.writeError(w, "command_history", start, status.Errorf(codes.InvalidArgument, "invalid settlement id: %v", err))
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.writeError(w, "command_history", start, err)
		return
	}
	var before *int64
	if v := q.Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, "command_history", start, status.Errorf(codes.InvalidArgument, "invalid before_sequence: %v", err))
			return
		}
		before = &seq
	}

	entries, err := s.queries.GetCommandHistory(r.Context(), id, limit, before)
	if err != nil {
		s.writeError(w, "command_history", start, toStatus(err))
		return
	}
	if entries == nil {
		entries = []query.CommandHistoryEntry{}
	}
	s.writeJSON(w, "command_history", start, map[string]interface{}{"commands": entries})
}

func (s *GRPCServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "verify_integrity", start, toStatus(err))
		return
	}
	s.writeJSON(w, "verify_integrity", start, report)
}

// ============================================================================
// Helpers
// ============================================================================

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err)
	}
	return n, nil
}

func (s *GRPCServer) writeJSON(w http.ResponseWriter, endpoint string, start time.Time, v interface{}) {
	s.observe(endpoint, start, codes.OK)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"code","message"} with the HTTP status of its
// gRPC code.
func (s *GRPCServer) writeError(w http.ResponseWriter, endpoint string, start time.Time, err error) {
	st, _ := status.FromError(toStatus(err))
	s.observe(endpoint, start, st.Code())

	if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	json.NewEncoder(w).Encode(map[string]string{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

func (s *GRPCServer) observe(endpoint string, start time.Time, code codes.Code) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if code != codes.OK {
		result = "error"
		s.metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, result).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
