package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "axobase",
	Short: "Soul lifecycle orchestrator: export vault, chain ingestor and deployment coordinator",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(closeDeploymentCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.axobase")
	}

	viper.SetEnvPrefix("AXOBASE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("initial_funds", 11_000_000)

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "axobase.db")
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.foreign_keys", true)

	viper.SetDefault("chain.chain_id", 84532)
	viper.SetDefault("chain.poll_interval", "5s")
	viper.SetDefault("chain.confirmations", 2)
	viper.SetDefault("chain.request_timeout", "15s")

	viper.SetDefault("vault.ttl", "5m")
	viper.SetDefault("vault.sweep_interval", "1m")

	viper.SetDefault("storage.gateway_url", "https://arweave.net")
	viper.SetDefault("storage.timeout", "30s")

	viper.SetDefault("provider.timeout", "60s")
	viper.SetDefault("provider.network", "base-sepolia-testnet")

	viper.SetDefault("api.listen", ":8000")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(strings.TrimSpace(viper.GetString("log.level")), "debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
