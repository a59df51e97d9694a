package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

var (
	clearData  bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "league-payments",
	Short: "League Payments",
	Long:  `Reconciles league registration payments across terminal, installment, cash and e-transfer channels.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads config.yml from path. Every key can be overridden from the
// environment, e.g. ENV_DATABASE_SOURCE or ENV_GATEWAY_SECRET_KEY.
func loadConfig(path string) (*internal.Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	logger.Configure(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	return &cfg, nil
}

// setDefaults also registers every key, which AutomaticEnv needs to see
// values that only come from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http_server.env", "development")
	v.SetDefault("http_server.port", 8080)
	v.SetDefault("http_server.base_url", "http://localhost:8080")
	v.SetDefault("http_server.allowed_origins", "")
	v.SetDefault("http_server.read_header_timeout", "5s")
	v.SetDefault("http_server.read_timeout", "15s")
	v.SetDefault("http_server.write_timeout", "30s")
	v.SetDefault("http_server.idle_timeout", "60s")

	v.SetDefault("database.source", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "league-payments")
	v.SetDefault("security.access_token_duration", "12h")

	v.SetDefault("gateway.secret_key", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.api_url", "")
	v.SetDefault("gateway.currency", "CAD")
	v.SetDefault("gateway.timeout", "30s")
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.initial_backoff", "200ms")

	v.SetDefault("tax.default_rate", "0.13")

	v.SetDefault("reconciliation.grace_period", "168h")
	v.SetDefault("reconciliation.stale_after", "10m")
	v.SetDefault("reconciliation.sweep_workers", 4)
	v.SetDefault("reconciliation.sweep_batch", 100)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding config.yml")
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
