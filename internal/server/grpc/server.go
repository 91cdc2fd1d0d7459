// Package grpc exposes the sync backend over gRPC: the ledgersync.v1
// SyncService plus the standard health service.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type GRPCServer struct {
	address   string
	users     *services.UserService
	sync      *services.SyncService
	logger    logging.Logger
	jwtSecret []byte
	limiter   *userLimiter
	health    *health.Server
}

var _ rpc.SyncServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(l logging.Logger, us *services.UserService, ss *services.SyncService, cfg *config.Config) (*GRPCServer, error) {
	return &GRPCServer{
		address:   cfg.EndpointAddrGRPC,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		sync:      ss,
		jwtSecret: []byte(cfg.SecretKey),
		limiter:   newUserLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		health:    health.NewServer(),
	}, nil
}

// newServer builds the grpc.Server with interceptors and services registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.loggingInterceptor,
		s.accessTokenInterceptor,
		s.rateLimitInterceptor,
	))

	rpc.RegisterSyncServiceServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
