package main

import (
	"fmt"
	"log/slog"
	"os"

	"classdesk/api/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	v *viper.Viper

	rootCmd = &cobra.Command{
		Use:          "classdesk",
		Short:        "classdesk shared-state sync engine",
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "classdesk %s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(func() { v = config.New() })

	rootCmd.PersistentFlags().String(config.KeyDataDir, "./data", "directory holding the local document")
	rootCmd.PersistentFlags().String(config.KeyLocalKey, "classdesk-state", "key (file name) of the local document")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, localCmd, tokenCmd, versionCmd)
}

// loadConfig binds the command's flags and resolves the configuration.
// Flags set on the command line win over CLASSDESK_* variables.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, fmt.Errorf("bind flags: %w", err)
	}
	return config.FromViper(v), nil
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	return logger
}
