package server

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"ContraLedger/internal/core"
	"ContraLedger/internal/event"
	"ContraLedger/internal/session"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const AllocationServiceName = "contraledger.allocation.v1.AllocationService"

// Clients select the codec with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the service messages as plain JSON, so the same structs
// serve gRPC and the HTTP gateway.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

// --- Messages ---

type SubmitRequest struct {
	CommandType  string          `json:"command_type"`
	SettlementID string          `json:"settlement_id,omitempty"`
	Body         json.RawMessage `json:"body"`
}

// SubmitResponse leaves Sequence and StateHash zero for a duplicate.
type SubmitResponse struct {
	Sequence   int64           `json:"sequence"`
	Duplicate  bool            `json:"duplicate"`
	Version    int64           `json:"version"`
	Outcome    event.Outcome   `json:"outcome"`
	StateHash  string          `json:"state_hash,omitempty"`
	Settlement *SettlementView `json:"settlement,omitempty"`
}

type GetSettlementRequest struct {
	SettlementID string `json:"settlement_id"`
}

// SettlementView is a live settlement with its content digest.
type SettlementView struct {
	session.Snapshot
	Digest string `json:"digest"`
}

func newSettlementView(snap session.Snapshot) *SettlementView {
	digest := snap.Digest()
	return &SettlementView{Snapshot: snap, Digest: hex.EncodeToString(digest[:])}
}

func newSubmitResponse(res core.Result) *SubmitResponse {
	resp := &SubmitResponse{Duplicate: res.Duplicate}
	if res.Envelope != nil {
		resp.Sequence = res.Envelope.Sequence
		resp.Version = res.Envelope.Version
		resp.Outcome = res.Envelope.Outcome
		resp.StateHash = hex.EncodeToString(res.Envelope.StateHash[:])
	} else {
		resp.Version = res.Snapshot.Version
	}
	if res.Snapshot.Kind != "" {
		resp.Settlement = newSettlementView(res.Snapshot)
	}
	return resp
}

// --- Service descriptor ---

// AllocationServiceServer is the server API for AllocationService.
type AllocationServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetSettlement(context.Context, *GetSettlementRequest) (*SettlementView, error)
}

func RegisterAllocationServiceServer(s grpc.ServiceRegistrar, srv AllocationServiceServer) {
	s.RegisterService(&allocationServiceDesc, srv)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AllocationServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + AllocationServiceName + "/Submit",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AllocationServiceServer).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSettlementHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetSettlementRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AllocationServiceServer).GetSettlement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + AllocationServiceName + "/GetSettlement",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AllocationServiceServer).GetSettlement(ctx, req.(*GetSettlementRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var allocationServiceDesc = grpc.ServiceDesc{
	ServiceName: AllocationServiceName,
	HandlerType: (*AllocationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "GetSettlement", Handler: getSettlementHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "contraledger/allocation/v1/allocation.proto",
}
