package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcserver "github.com/autopeer-io/pathrunner/internal/executor/server/grpc"
	grpcmw "github.com/autopeer-io/pathrunner/internal/pkg/middleware/grpc"
)

func newHealthCommand() *cobra.Command {
	var (
		addr    string
		service string
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the executor's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(addr,
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithUnaryInterceptor(grpcmw.UnaryTimeoutInterceptor),
			)
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(cmd.Context(), &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return fmt.Errorf("health check %s: %w", addr, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("executor is %s", resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8091", "Executor gRPC address.")
	cmd.Flags().StringVar(&service, "service", grpcserver.ServiceName, "Service name to check; empty for the whole server.")
	return cmd
}
