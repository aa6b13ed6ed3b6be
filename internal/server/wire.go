package server

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/duelforge/tactics-server-go/internal/game"
	"github.com/duelforge/tactics-server-go/internal/snapshot"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tactics.v1.MatchService"

// Every message travels as a JSON document inside a BytesValue, so the service needs no
// generated code and the payloads match what the WebSocket hub sends.

type (
	StartMatchRequest struct {
		Rosters []game.Roster `json:"rosters"`
		// Config overrides the server defaults when set.
		Config *game.Config `json:"config,omitempty"`
	}
	StartMatchResponse struct {
		MatchID string `json:"matchId"`
	}
	DispatchRequest struct {
		MatchID string       `json:"matchId"`
		Command game.Command `json:"command"`
	}
	ViewRequest struct {
		MatchID string `json:"matchId"`
		Viewer  string `json:"viewer"`
	}
	SyncRequest struct {
		MatchID string `json:"matchId"`
		Viewer  string `json:"viewer"`
		After   int64  `json:"after"`
	}
	SyncResponse struct {
		Snapshots []*snapshot.Snapshot `json:"snapshots"`
	}
	EndMatchRequest struct {
		MatchID string `json:"matchId"`
	}
	ListMatchesResponse struct {
		MatchIDs []string `json:"matchIds"`
	}
	EnqueueRequest struct {
		Roster game.Roster `json:"roster"`
	}
	EnqueueResponse struct {
		TicketID string `json:"ticketId"`
		Waiting  int    `json:"waiting"`
	}
	CancelQueueRequest struct {
		PlayerID string `json:"playerId"`
	}
	HistoryRequest struct {
		PlayerID string `json:"playerId"`
		Limit    int    `json:"limit,omitempty"`
	}
	MatchSummary struct {
		MatchID   string    `json:"matchId"`
		Players   []string  `json:"players"`
		Winner    string    `json:"winner,omitempty"`
		Reason    string    `json:"reason,omitempty"`
		Turns     int       `json:"turns"`
		Checksum  string    `json:"checksum,omitempty"`
		StartedAt time.Time `json:"startedAt"`
		EndedAt   time.Time `json:"endedAt"`
	}
	HistoryResponse struct {
		Matches []MatchSummary `json:"matches"`
	}
	Empty struct{}
)

// SnapshotSender is the server side of a Subscribe stream.
type SnapshotSender interface {
	Send(*snapshot.Snapshot) error
	Context() context.Context
}

// MatchServiceServer is the server API for the match service.
type MatchServiceServer interface {
	StartMatch(context.Context, *StartMatchRequest) (*StartMatchResponse, error)
	Dispatch(context.Context, *DispatchRequest) (*game.Result, error)
	Sync(context.Context, *SyncRequest) (*SyncResponse, error)
	Current(context.Context, *ViewRequest) (*snapshot.Snapshot, error)
	EndMatch(context.Context, *EndMatchRequest) (*Empty, error)
	ListMatches(context.Context, *Empty) (*ListMatchesResponse, error)
	Enqueue(context.Context, *EnqueueRequest) (*EnqueueResponse, error)
	CancelQueue(context.Context, *CancelQueueRequest) (*Empty, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
	Subscribe(*ViewRequest, SnapshotSender) error
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func encodePayload(v any) (*wrapperspb.BytesValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode payload: %v", err)
	}
	return wrapperspb.Bytes(raw), nil
}

func decodePayload(in *wrapperspb.BytesValue, v any) error {
	if len(in.GetValue()) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.GetValue(), v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode payload: %v", err)
	}
	return nil
}

func unaryHandler[Req, Resp any](method string, call func(MatchServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			r := new(Req)
			if err := decodePayload(req.(*wrapperspb.BytesValue), r); err != nil {
				return nil, err
			}
			resp, err := call(srv.(MatchServiceServer), ctx, r)
			if err != nil {
				return nil, err
			}
			return encodePayload(resp)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, handler)
	}
}

type snapshotSender struct {
	grpc.ServerStream
}

func (s *snapshotSender) Send(snap *snapshot.Snapshot) error {
	out, err := encodePayload(snap)
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(out)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(ViewRequest)
	if err := decodePayload(in, req); err != nil {
		return err
	}
	return srv.(MatchServiceServer).Subscribe(req, &snapshotSender{stream})
}

// MatchServiceDesc describes the match service for grpc.Server.RegisterService.
var MatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartMatch", Handler: unaryHandler("StartMatch", MatchServiceServer.StartMatch)},
		{MethodName: "Dispatch", Handler: unaryHandler("Dispatch", MatchServiceServer.Dispatch)},
		{MethodName: "Sync", Handler: unaryHandler("Sync", MatchServiceServer.Sync)},
		{MethodName: "Current", Handler: unaryHandler("Current", MatchServiceServer.Current)},
		{MethodName: "EndMatch", Handler: unaryHandler("EndMatch", MatchServiceServer.EndMatch)},
		{MethodName: "ListMatches", Handler: unaryHandler("ListMatches", MatchServiceServer.ListMatches)},
		{MethodName: "Enqueue", Handler: unaryHandler("Enqueue", MatchServiceServer.Enqueue)},
		{MethodName: "CancelQueue", Handler: unaryHandler("CancelQueue", MatchServiceServer.CancelQueue)},
		{MethodName: "History", Handler: unaryHandler("History", MatchServiceServer.History)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "tactics/v1/match.proto",
}

// RegisterMatchService registers srv on s.
func RegisterMatchService(s grpc.ServiceRegistrar, srv MatchServiceServer) {
	s.RegisterService(&MatchServiceDesc, srv)
}

// MatchServiceClient calls the match service.
type MatchServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMatchServiceClient(cc grpc.ClientConnInterface) *MatchServiceClient {
	return &MatchServiceClient{cc: cc}
}

func (c *MatchServiceClient) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := encodePayload(req)
	if err != nil {
		return err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return err
	}
	return decodePayload(out, resp)
}

func (c *MatchServiceClient) StartMatch(ctx context.Context, req *StartMatchRequest, opts ...grpc.CallOption) (*StartMatchResponse, error) {
	resp := new(StartMatchResponse)
	return resp, c.invoke(ctx, "StartMatch", req, resp, opts...)
}

func (c *MatchServiceClient) Dispatch(ctx context.Context, req *DispatchRequest, opts ...grpc.CallOption) (*game.Result, error) {
	resp := new(game.Result)
	return resp, c.invoke(ctx, "Dispatch", req, resp, opts...)
}

func (c *MatchServiceClient) Sync(ctx context.Context, req *SyncRequest, opts ...grpc.CallOption) (*SyncResponse, error) {
	resp := new(SyncResponse)
	return resp, c.invoke(ctx, "Sync", req, resp, opts...)
}

func (c *MatchServiceClient) Current(ctx context.Context, req *ViewRequest, opts ...grpc.CallOption) (*snapshot.Snapshot, error) {
	resp := new(snapshot.Snapshot)
	return resp, c.invoke(ctx, "Current", req, resp, opts...)
}

func (c *MatchServiceClient) EndMatch(ctx context.Context, req *EndMatchRequest, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "EndMatch", req, new(Empty), opts...)
}

func (c *MatchServiceClient) ListMatches(ctx context.Context, opts ...grpc.CallOption) (*ListMatchesResponse, error) {
	resp := new(ListMatchesResponse)
	return resp, c.invoke(ctx, "ListMatches", &Empty{}, resp, opts...)
}

func (c *MatchServiceClient) Enqueue(ctx context.Context, req *EnqueueRequest, opts ...grpc.CallOption) (*EnqueueResponse, error) {
	resp := new(EnqueueResponse)
	return resp, c.invoke(ctx, "Enqueue", req, resp, opts...)
}

func (c *MatchServiceClient) CancelQueue(ctx context.Context, req *CancelQueueRequest, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "CancelQueue", req, new(Empty), opts...)
}

func (c *MatchServiceClient) History(ctx context.Context, req *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	resp := new(HistoryResponse)
	return resp, c.invoke(ctx, "History", req, resp, opts...)
}

// SnapshotStream is the client side of a Subscribe stream.
type SnapshotStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next snapshot.
func (s *SnapshotStream) Recv() (*snapshot.Snapshot, error) {
	out := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	snap := new(snapshot.Snapshot)
	if err := decodePayload(out, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Subscribe opens a snapshot stream. The first snapshot is a full state; cancel ctx to
// close the stream.
func (c *MatchServiceClient) Subscribe(ctx context.Context, req *ViewRequest, opts ...grpc.CallOption) (*SnapshotStream, error) {
	stream, err := c.cc.NewStream(ctx, &MatchServiceDesc.Streams[0], fullMethod("Subscribe"), opts...)
	if err != nil {
		return nil, err
	}
	in, err := encodePayload(req)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SnapshotStream{stream: stream}, nil
}
