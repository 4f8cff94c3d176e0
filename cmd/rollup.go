package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Run one rollup pass",
	Long: `Run a single downsampling pass into the given tier against the
backend store and exit. Store settings are read from the backend.* keys.`,
	RunE: runRollup,
}

func init() {
	rootCmd.AddCommand(rollupCmd)

	rollupCmd.Flags().String("tier", timeseries.Hour.String(), "target tier (hour, day, month, year)")
	rollupCmd.Flags().Duration("timeout", 0, "timeout of the pass, defaults to backend.rollup.timeout")
}

func runRollup(cmd *cobra.Command, _ []string) error {
	logger := GetLogger("rollup")

	name, _ := cmd.Flags().GetString("tier")
	tier, err := timeseries.ParseGranularity(name)
	if err != nil {
		return err
	}
	if _, ok := tier.Finer(); !ok {
		return fmt.Errorf("%w: %s", timeseries.ErrNotRollupTier, tier)
	}

	config, err := backendConfig()
	if err != nil {
		return err
	}
	config.Logger = logger
	config.RabbitMQURL = ""
	config.MQTTBroker = ""

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = viper.GetDuration("backend.rollup.timeout")
	}

	server, err := backend.NewServer(config)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	created, err := server.RollUpOnce(ctx, tier)
	if err != nil {
		logger.Error("rollup failed", "tier", tier.String(), "created", len(created), "error", err)
		return err
	}

	logger.Info("rollup finished", "tier", tier.String(), "created", len(created))
	return nil
}
