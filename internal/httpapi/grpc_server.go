package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/obs"
)

// GRPCServer serves grpc.health.v1 and authenticates every other unary call
// with a bearer access token from the "authorization" metadata key.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	auth      *auth.Service
	readiness ReadinessChecker
	logger    *zap.Logger
}

// NewGRPCServer builds the server. Extra services can be registered on
// Server() before serving.
func NewGRPCServer(svc *auth.Service, readiness ReadinessChecker, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = obs.Logger()
	}
	if readiness == nil {
		readiness = PingFunc(nil)
	}
	g := &GRPCServer{
		health:    health.NewServer(),
		auth:      svc,
		readiness: readiness,
		logger:    logger,
	}
	g.server = grpc.NewServer(grpc.ChainUnaryInterceptor(g.unaryAuth))
	healthpb.RegisterHealthServer(g.server, g.health)
	return g
}

func (g *GRPCServer) Server() *grpc.Server { return g.server }

// Refresh probes readiness and publishes the result as the health status of
// the overall server and of serviceName.
func (g *GRPCServer) Refresh(ctx context.Context) error {
	st := healthpb.HealthCheckResponse_SERVING
	err := g.readiness.Check(ctx)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		g.logger.Warn("grpc readiness failed", zap.Error(err))
	}
	obs.SetReady(err == nil)
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(serviceName, st)
	return err
}

// Stop marks the server as not serving and stops it gracefully.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

func (g *GRPCServer) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	for _, v := range md.Get("authorization") {
		if token = bearerToken(v); token != "" {
			break
		}
	}
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	principal, err := g.auth.Authenticate(ctx, token)
	obs.ObserveVerification(string(auth.PurposeAccess), auth.RejectionReason(err))
	if err != nil {
		return nil, grpcError(err)
	}
	ctx = auth.ContextWithPrincipal(ctx, principal)
	ctx = auth.ContextWithToken(ctx, token)
	return handler(ctx, req)
}

func grpcError(err error) error {
	code, msg := statusFor(err)
	switch code {
	case http.StatusUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case http.StatusForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, msg)
	case http.StatusGatewayTimeout:
		return status.Error(codes.DeadlineExceeded, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
