package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gatehouse/cmd/internal/app"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "gatehouse - username/password authentication server",
		Long: `gatehouse serves a JSON API for registration, login with optional
remember-me, logout, password reset and current-user lookup, backed by
server-side sessions in HTTP-only cookies.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	addServeFlags(cmd.Flags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())

	return cmd
}

// addServeFlags declares flags that override config keys of the same name
// (dashes become underscores).
func addServeFlags(fs *pflag.FlagSet) {
	fs.String("env", "", "environment: development, production or test")
	fs.String("http-addr", "", "listen address")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: json, pretty or auto")
	fs.String("database-url", "", "postgres://..., sqlite:<path> or empty for in-memory storage")
	fs.String("session-store", "", "session store: auto, memory, sql or badger")
}

// loadConfig reads the config file, GATEHOUSE_* variables and changed flags.
func loadConfig(cmd *cobra.Command) (app.Config, *slog.Logger, error) {
	cfg, err := app.Load(app.LoadOptions{
		File:  configFile,
		Flags: cmd.Flags(),
	})
	if err != nil {
		return app.Config{}, nil, err
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.Production())
	return cfg, log, nil
}
