// Command analyticsd runs the consent-gated analytics dispatcher as an HTTP
// service and offers operator commands for consent and test events.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/config"
	"github.com/aicoder88/roigpt-sub000/internal/logging"
)

var (
	envFile string
	verbose bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "analyticsd",
	Short: "Consent-gated analytics dispatcher",
	Long: `analyticsd fans analytics events out to the configured providers
(GA4, Plausible, a PostgreSQL warehouse, Kafka) once the user has granted
consent. Events observed before the decision are queued and replayed in
order on grant, or discarded on decline.

Configuration is read from the environment, optionally seeded from a .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.LogJSON)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is parsed")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, consentCmd, trackCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		config.Exitf("analyticsd: %v", err)
	}
}
