package httpapi

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/obs"
)

const sessionServiceName = "b2bstore.session.v1.SessionService"

// WhoAmIMethod is the full gRPC method name of SessionService.WhoAmI.
const WhoAmIMethod = "/" + sessionServiceName + "/WhoAmI"

// DefaultGRPCRules maps protected gRPC methods to the permission they require.
// Methods not listed (the health service among them) are public.
var DefaultGRPCRules = map[string]string{
	WhoAmIMethod: auth.PermProfileRead,
}

// GRPCServer hosts the gRPC health service and the session service.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	codec     *auth.Codec
	rules     map[string]string
	now       func() time.Time
}

// NewGRPCServer creates the gRPC service wrapper. A nil rules map selects DefaultGRPCRules.
func NewGRPCServer(r readinessChecker, codec *auth.Codec, rules map[string]string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if rules == nil {
		rules = DefaultGRPCRules
	}
	return &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		codec:     codec,
		rules:     rules,
		now:       time.Now,
	}
}

// Server builds a grpc.Server with the auth interceptor and both services registered.
func (s *GRPCServer) Server(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(s.codec, s.rules, s.now)))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, s.health)
	srv.RegisterService(&sessionServiceDesc, s)
	return srv
}

// RefreshHealth runs the readiness probe and publishes the result.
func (s *GRPCServer) RefreshHealth(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(sessionServiceName, st)
	obs.SetServing(err == nil)
	return err
}

// WatchReadiness refreshes the health status every interval until ctx is done.
func (s *GRPCServer) WatchReadiness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.RefreshHealth(ctx); err != nil {
			obs.Logger().Warn("grpc readiness check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// WhoAmI returns the caller's identity.
func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ident, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, msgUnauthorized)
	}
	fields := map[string]any{
		"id":                ident.ID.String(),
		"email":             ident.Email,
		"permission_groups": toAnySlice(ident.PermissionGroups),
		"permissions":       toAnySlice(ident.Permissions),
	}
	if ident.OrganizationID != nil {
		fields["organization_id"] = ident.OrganizationID.String()
	}
	return structpb.NewStruct(fields)
}

// UnaryAuthInterceptor applies the same authorization decision as the HTTP
// filter to the methods listed in rules. The token comes from the
// "authorization" metadata key, with or without the Bearer prefix.
func UnaryAuthInterceptor(codec *auth.Codec, rules map[string]string, now func() time.Time) grpc.UnaryServerInterceptor {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		perm, ok := rules[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		var claims auth.ClaimSet
		if token := tokenFromMetadata(ctx); token != "" && codec != nil {
			if c, err := codec.Claims(token); err == nil {
				claims = c
			}
		}
		out := auth.Authorize(claims, perm, now())
		obs.ObserveAuthDecision("grpc", out.Decision.String())
		switch out.Decision {
		case auth.Unauthorized:
			return nil, status.Error(codes.Unauthenticated, msgUnauthorized)
		case auth.Forbidden:
			return nil, status.Error(codes.PermissionDenied, msgForbidden)
		}
		return handler(auth.ContextWithIdentity(ctx, out.Identity), req)
	}
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			v = strings.TrimSpace(v[7:])
		}
		if v != "" {
			return v
		}
	}
	return ""
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

type sessionServer interface {
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*sessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "b2bstore/session/v1/session.proto",
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(sessionServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WhoAmIMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(sessionServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
