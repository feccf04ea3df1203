package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/room"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// RoomServiceName is the fully qualified gRPC service name
const RoomServiceName = "cardtable.v1.RoomService"

// RoomServiceServer is the gRPC face of the room manager. Requests and
// responses are google.protobuf.Struct documents shaped like the REST API.
type RoomServiceServer interface {
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListGames(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// roomService implements RoomServiceServer
type roomService struct {
	rooms  *room.Manager
	logger *zap.Logger
}

// NewRoomService creates the gRPC room service
func NewRoomService(rooms *room.Manager, logger *zap.Logger) RoomServiceServer {
	return &roomService{rooms: rooms, logger: logger}
}

// RegisterRoomService registers srv on s
func RegisterRoomService(s grpc.ServiceRegistrar, srv RoomServiceServer) {
	s.RegisterService(&roomServiceDesc, srv)
}

// ==================== Room Methods ====================

// GetState returns the caller's view of a room.
// Request: {"roomCode": "...", "token": "..."}
func (s *roomService) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	code, playerID, err := s.seat(ctx, req)
	if err != nil {
		return nil, err
	}
	view, err := s.rooms.State(code, playerID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(view)
}

// ApplyAction runs one action for the seated caller.
// Request: {"roomCode": "...", "token": "...", "action": {"type": "...", ...}}
func (s *roomService) ApplyAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	code, playerID, err := s.seat(ctx, req)
	if err != nil {
		return nil, err
	}

	var a game.Action
	if err := fromStruct(req.GetFields()["action"].GetStructValue(), &a); err != nil || a.Type == "" {
		return nil, status.Error(codes.InvalidArgument, "action with a type is required")
	}
	a.PlayerID = playerID

	res, view, err := s.rooms.ApplyAction(ctx, code, a)
	if view == nil {
		return nil, grpcError(err)
	}
	if err != nil && !game.IsActionError(err) {
		return nil, grpcError(err)
	}
	if err != nil {
		res.Error = errorMessage(err)
	}
	return toStruct(actionResponse{Result: res, State: view})
}

// ListGames returns the catalog. Request: {}
func (s *roomService) ListGames(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"games": s.rooms.Catalog().List()})
}

// seat resolves the caller from the request's token field or the
// authorization metadata.
func (s *roomService) seat(ctx context.Context, req *structpb.Struct) (string, string, error) {
	fields := req.GetFields()
	code := fields["roomCode"].GetStringValue()
	if code == "" {
		return "", "", status.Error(codes.InvalidArgument, "roomCode is required")
	}
	token := fields["token"].GetStringValue()
	if token == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				token = strings.TrimPrefix(vals[0], "Bearer ")
			}
		}
	}
	if token == "" {
		return "", "", status.Error(codes.Unauthenticated, "seat token required")
	}
	claims, err := s.rooms.VerifySeat(code, token)
	if err != nil {
		return "", "", grpcError(err)
	}
	return room.NormalizeCode(code), claims.PlayerID, nil
}

// ==================== Helper Functions ====================

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return st, nil
}

func fromStruct(st *structpb.Struct, out any) error {
	if st == nil {
		return fmt.Errorf("empty struct")
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// extractHostFromContext returns the caller's address for logging
func extractHostFromContext(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != net.Addr(nil) {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

// ==================== Service Descriptor ====================

func roomServiceHandler(method string, call func(RoomServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + RoomServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RoomServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RoomServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var roomServiceDesc = grpc.ServiceDesc{
	ServiceName: RoomServiceName,
	HandlerType: (*RoomServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetState", Handler: roomServiceHandler("GetState", RoomServiceServer.GetState)},
		{MethodName: "ApplyAction", Handler: roomServiceHandler("ApplyAction", RoomServiceServer.ApplyAction)},
		{MethodName: "ListGames", Handler: roomServiceHandler("ListGames", RoomServiceServer.ListGames)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cardtable/v1/room.proto",
}
