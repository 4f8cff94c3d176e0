package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/team13Uni/wedro/internal/frontend"
	"github.com/team13Uni/wedro/pkg/metrics"
)

var frontendCmd = &cobra.Command{
	Use:   "frontend",
	Short: "Run the frontend server",
	Long: `Run the frontend HTTP server that:
- Serves the station and bucket query API
- Calls the backend series gRPC API through a circuit breaker
- Exposes Prometheus metrics on /metrics`,
	RunE: runFrontend,
}

func init() {
	rootCmd.AddCommand(frontendCmd)

	frontendCmd.Flags().Int("http-port", 8080, "HTTP server port")
	frontendCmd.Flags().String("backend-addr", "localhost:9090", "Backend gRPC server address")
	frontendCmd.Flags().Duration("request-timeout", 5*time.Second, "timeout of a single backend call")
	frontendCmd.Flags().Uint32("breaker-failures", 5, "consecutive backend failures that open the circuit")
	frontendCmd.Flags().Duration("breaker-timeout", 30*time.Second, "how long the circuit stays open")
	frontendCmd.Flags().Uint32("breaker-max-requests", 3, "requests allowed while the circuit is half-open")

	mustBind("frontend.http.port", frontendCmd.Flags().Lookup("http-port"))
	mustBind("frontend.backend.addr", frontendCmd.Flags().Lookup("backend-addr"))
	mustBind("frontend.backend.timeout", frontendCmd.Flags().Lookup("request-timeout"))
	mustBind("frontend.breaker.failures", frontendCmd.Flags().Lookup("breaker-failures"))
	mustBind("frontend.breaker.timeout", frontendCmd.Flags().Lookup("breaker-timeout"))
	mustBind("frontend.breaker.max_requests", frontendCmd.Flags().Lookup("breaker-max-requests"))
}

func runFrontend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("frontend")
	logger.Info("starting frontend service")

	config := &frontend.ServerConfig{
		Logger:          logger,
		HTTPPort:        viper.GetInt("frontend.http.port"),
		BackendGRPCAddr: viper.GetString("frontend.backend.addr"),
		RequestTimeout:  viper.GetDuration("frontend.backend.timeout"),
		Breaker: frontend.BreakerConfig{
			MaxRequests:         viper.GetUint32("frontend.breaker.max_requests"),
			Timeout:             viper.GetDuration("frontend.breaker.timeout"),
			ConsecutiveFailures: viper.GetUint32("frontend.breaker.failures"),
		},
		Metrics: metrics.NewFrontendMetrics("wedro"),
	}

	server, err := frontend.NewServer(config)
	if err != nil {
		logger.Error("failed to create frontend server", "error", err)
		return err
	}

	logger.Info("frontend server configuration",
		"http_port", config.HTTPPort,
		"backend_addr", config.BackendGRPCAddr,
		"request_timeout", config.RequestTimeout,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("frontend server error", "error", err)
		return err
	}

	logger.Info("frontend server stopped")
	return nil
}
