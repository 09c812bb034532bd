package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"k8s.io/apimachinery/pkg/util/wait"

	grpcmw "github.com/autopeer-io/pathrunner/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

// ServiceName is the health service key reported for the executor.
const ServiceName = "pathrunner.executor"

const probePeriod = time.Second

// Probe reports whether the executor can serve.
type Probe func() bool

type Server struct {
	server  *grpc.Server
	health  *health.Server
	options *options.GrpcOptions
	probe   Probe
	log     log.Logger
}

// NewServer creates the gRPC health endpoint. Until probe reports true the
// executor is NOT_SERVING.
func NewServer(opts *options.GrpcOptions, probe Probe) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmw.UnaryServerTimeoutInterceptor(opts.Timeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	srv := &Server{
		server:  s,
		health:  hs,
		options: opts,
		probe:   probe,
		log:     log.WithName("grpc"),
	}
	srv.setServing(false)
	return srv
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve runs on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info("Starting gRPC Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	go wait.UntilWithContext(ctx, func(context.Context) {
		s.setServing(s.probe == nil || s.probe())
	}, probePeriod)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}

func (s *Server) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
