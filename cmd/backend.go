package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend server",
	Long: `Run the backend server that:
- Consumes measurement batches from RabbitMQ and MQTT
- Persists measurements to PostgreSQL, SQLite or Badger
- Rolls measurements up into hour, day, month and year tiers
- Serves the series gRPC API`,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	backendCmd.Flags().String("store", backend.StoreGorm, "storage backend (gorm, badger)")
	backendCmd.Flags().String("db-driver", backend.DriverPostgres, "gorm driver (postgres, sqlite)")
	backendCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	backendCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	backendCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	backendCmd.Flags().String("db-password", "", "PostgreSQL password")
	backendCmd.Flags().String("db-name", "wedro", "PostgreSQL database name")
	backendCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	backendCmd.Flags().String("db-path", "wedro.db", "SQLite database file")
	backendCmd.Flags().String("badger-path", "data/badger", "Badger data directory")
	backendCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL, empty disables AMQP ingestion")
	backendCmd.Flags().String("queue-name", "measurements", "RabbitMQ queue name for measurement batches")
	backendCmd.Flags().Bool("queue-durable", true, "declare a durable queue")
	backendCmd.Flags().String("mqtt-broker", "", "MQTT broker URL, empty disables MQTT ingestion")
	backendCmd.Flags().String("mqtt-client-id", "", "MQTT client ID")
	backendCmd.Flags().String("mqtt-topic", backend.DefaultMQTTTopic, "MQTT topic filter")
	backendCmd.Flags().String("mqtt-username", "", "MQTT username")
	backendCmd.Flags().String("mqtt-password", "", "MQTT password")
	backendCmd.Flags().Uint8("mqtt-qos", 1, "MQTT subscription QoS")
	backendCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	backendCmd.Flags().Int("metrics-port", 9091, "Prometheus metrics port, 0 disables")
	for _, tier := range rollupTiers() {
		backendCmd.Flags().String("schedule-"+tier.String(), backend.DefaultSchedules[tier],
			fmt.Sprintf("cron schedule of the %s rollup in UTC, empty disables", tier))
	}
	backendCmd.Flags().Duration("rollup-timeout", 10*time.Minute, "timeout of a single rollup pass")
	backendCmd.Flags().StringSlice("prune-tiers", []string{timeseries.FiveMinutes.String()}, "source tiers deleted after rollup")

	mustBind("backend.store", backendCmd.Flags().Lookup("store"))
	mustBind("backend.db.driver", backendCmd.Flags().Lookup("db-driver"))
	mustBind("backend.db.host", backendCmd.Flags().Lookup("db-host"))
	mustBind("backend.db.port", backendCmd.Flags().Lookup("db-port"))
	mustBind("backend.db.user", backendCmd.Flags().Lookup("db-user"))
	mustBind("backend.db.password", backendCmd.Flags().Lookup("db-password"))
	mustBind("backend.db.name", backendCmd.Flags().Lookup("db-name"))
	mustBind("backend.db.sslmode", backendCmd.Flags().Lookup("db-sslmode"))
	mustBind("backend.db.path", backendCmd.Flags().Lookup("db-path"))
	mustBind("backend.badger.path", backendCmd.Flags().Lookup("badger-path"))
	mustBind("backend.rabbitmq.url", backendCmd.Flags().Lookup("rabbitmq-url"))
	mustBind("backend.rabbitmq.queue_name", backendCmd.Flags().Lookup("queue-name"))
	mustBind("backend.rabbitmq.durable", backendCmd.Flags().Lookup("queue-durable"))
	mustBind("backend.mqtt.broker", backendCmd.Flags().Lookup("mqtt-broker"))
	mustBind("backend.mqtt.client_id", backendCmd.Flags().Lookup("mqtt-client-id"))
	mustBind("backend.mqtt.topic", backendCmd.Flags().Lookup("mqtt-topic"))
	mustBind("backend.mqtt.username", backendCmd.Flags().Lookup("mqtt-username"))
	mustBind("backend.mqtt.password", backendCmd.Flags().Lookup("mqtt-password"))
	mustBind("backend.mqtt.qos", backendCmd.Flags().Lookup("mqtt-qos"))
	mustBind("backend.grpc.port", backendCmd.Flags().Lookup("grpc-port"))
	mustBind("backend.metrics.port", backendCmd.Flags().Lookup("metrics-port"))
	for _, tier := range rollupTiers() {
		mustBind("backend.schedule."+tier.String(), backendCmd.Flags().Lookup("schedule-"+tier.String()))
	}
	mustBind("backend.rollup.timeout", backendCmd.Flags().Lookup("rollup-timeout"))
	mustBind("backend.rollup.prune_tiers", backendCmd.Flags().Lookup("prune-tiers"))
}

// rollupTiers returns the stored tiers that are filled by a rollup.
func rollupTiers() []timeseries.Granularity {
	var tiers []timeseries.Granularity
	for _, tier := range timeseries.StoredTiers {
		if _, ok := tier.Finer(); ok {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

// backendConfig builds the backend configuration from viper.
func backendConfig() (*backend.ServerConfig, error) {
	pruneTiers := []timeseries.Granularity{}
	for _, name := range viper.GetStringSlice("backend.rollup.prune_tiers") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tier, err := timeseries.ParseGranularity(name)
		if err != nil {
			return nil, fmt.Errorf("invalid prune tier: %w", err)
		}
		pruneTiers = append(pruneTiers, tier)
	}

	schedules := make(map[timeseries.Granularity]string)
	for _, tier := range rollupTiers() {
		schedules[tier] = viper.GetString("backend.schedule." + tier.String())
	}

	qos := viper.GetUint("backend.mqtt.qos")
	if qos > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", qos)
	}

	return &backend.ServerConfig{
		Store: viper.GetString("backend.store"),
		DB: &backend.DBConfig{
			Driver:   viper.GetString("backend.db.driver"),
			Host:     viper.GetString("backend.db.host"),
			Port:     viper.GetInt("backend.db.port"),
			User:     viper.GetString("backend.db.user"),
			Password: viper.GetString("backend.db.password"),
			DBName:   viper.GetString("backend.db.name"),
			SSLMode:  viper.GetString("backend.db.sslmode"),
			Path:     viper.GetString("backend.db.path"),
		},
		BadgerPath:    viper.GetString("backend.badger.path"),
		RabbitMQURL:   viper.GetString("backend.rabbitmq.url"),
		QueueName:     viper.GetString("backend.rabbitmq.queue_name"),
		QueueDurable:  viper.GetBool("backend.rabbitmq.durable"),
		MQTTBroker:    viper.GetString("backend.mqtt.broker"),
		MQTTClientID:  viper.GetString("backend.mqtt.client_id"),
		MQTTTopic:     viper.GetString("backend.mqtt.topic"),
		MQTTUsername:  viper.GetString("backend.mqtt.username"),
		MQTTPassword:  viper.GetString("backend.mqtt.password"),
		MQTTQoS:       byte(qos),
		GRPCPort:      viper.GetInt("backend.grpc.port"),
		MetricsPort:   viper.GetInt("backend.metrics.port"),
		Schedules:     schedules,
		RollupTimeout: viper.GetDuration("backend.rollup.timeout"),
		PruneTiers:    pruneTiers,
	}, nil
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("backend")
	logger.Info("starting backend service")

	config, err := backendConfig()
	if err != nil {
		logger.Error("invalid backend configuration", "error", err)
		return err
	}
	config.Logger = logger
	config.Metrics = metrics.NewBackendMetrics("wedro")
	config.RollupStats = metrics.NewRollupMetrics("wedro")
	config.QueryStats = metrics.NewQueryMetrics("wedro")
	config.QueueMetrics = metrics.NewMQMetrics("wedro")

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"store", config.Store,
		"db_driver", config.DB.Driver,
		"db_host", config.DB.Host,
		"db_name", config.DB.DBName,
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"mqtt_broker", config.MQTTBroker,
		"grpc_port", config.GRPCPort,
		"metrics_port", config.MetricsPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
