package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/team13Uni/wedro/internal/producer"
	"github.com/team13Uni/wedro/pkg/metrics"
)

var generatorCmd = &cobra.Command{
	Use:   "generator",
	Short: "Run the station simulator",
	Long: `Run the station simulator that:
- Creates simulated weather stations
- Optionally backfills their recent history
- Publishes five-minute measurement batches to RabbitMQ
- Can ingest into an in-memory store instead with --dry-run`,
	RunE: runGenerator,
}

func init() {
	rootCmd.AddCommand(generatorCmd)

	generatorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	generatorCmd.Flags().String("queue-name", "measurements", "RabbitMQ queue name for measurement batches")
	generatorCmd.Flags().Bool("queue-durable", true, "declare a durable queue")
	generatorCmd.Flags().Int("station-count", 5, "Number of simulated stations")
	generatorCmd.Flags().Duration("interval", 5*time.Second, "Interval between live batches")
	generatorCmd.Flags().Int("batch-size", 1, "five-minute readings per live batch")
	generatorCmd.Flags().Duration("backfill", 0, "history to publish per station before going live")
	generatorCmd.Flags().Bool("dry-run", false, "ingest into an in-memory store instead of RabbitMQ")
	generatorCmd.Flags().Int("metrics-port", 0, "Prometheus metrics port, 0 disables")

	mustBind("generator.rabbitmq.url", generatorCmd.Flags().Lookup("rabbitmq-url"))
	mustBind("generator.rabbitmq.queue_name", generatorCmd.Flags().Lookup("queue-name"))
	mustBind("generator.rabbitmq.durable", generatorCmd.Flags().Lookup("queue-durable"))
	mustBind("generator.station_count", generatorCmd.Flags().Lookup("station-count"))
	mustBind("generator.interval", generatorCmd.Flags().Lookup("interval"))
	mustBind("generator.batch_size", generatorCmd.Flags().Lookup("batch-size"))
	mustBind("generator.backfill", generatorCmd.Flags().Lookup("backfill"))
	mustBind("generator.dry_run", generatorCmd.Flags().Lookup("dry-run"))
	mustBind("generator.metrics.port", generatorCmd.Flags().Lookup("metrics-port"))
}

func runGenerator(_ *cobra.Command, _ []string) error {
	logger := GetLogger("generator")
	logger.Info("starting generator service")

	config := &producer.ServerConfig{
		Logger:       logger,
		RabbitMQURL:  viper.GetString("generator.rabbitmq.url"),
		QueueName:    viper.GetString("generator.rabbitmq.queue_name"),
		QueueDurable: viper.GetBool("generator.rabbitmq.durable"),
		DryRun:       viper.GetBool("generator.dry_run"),
		StationCount: viper.GetInt("generator.station_count"),
		Interval:     viper.GetDuration("generator.interval"),
		BatchSize:    viper.GetInt("generator.batch_size"),
		Backfill:     viper.GetDuration("generator.backfill"),
		Metrics:      metrics.NewProducerMetrics("wedro"),
		MQMetrics:    metrics.NewMQMetrics("wedro"),
	}

	server, err := producer.NewServer(config)
	if err != nil {
		logger.Error("failed to create generator server", "error", err)
		return err
	}

	logger.Info("generator server configuration",
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"station_count", config.StationCount,
		"interval", config.Interval,
		"batch_size", config.BatchSize,
		"backfill", config.Backfill,
		"dry_run", config.DryRun,
	)

	if port := viper.GetInt("generator.metrics.port"); port > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	if err := server.Run(context.Background()); err != nil {
		logger.Error("generator server error", "error", err)
		return err
	}

	logger.Info("generator server stopped")
	return nil
}
