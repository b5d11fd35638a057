package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/kvblob"
	"github.com/aweris/kvblob/internal/telemetry"
)

var version = "dev"

var shutdownTelemetry func(context.Context) error

var rootCmd = &cobra.Command{
	Use:               "kvblob",
	Short:             "Key/value blob storage CLI",
	Long:              "CLI for reading, writing, copying and verifying blobs across storage backends and OCI snapshots.",
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if shutdownTelemetry == nil {
			return nil
		}
		return shutdownTelemetry(cmd.Context())
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/kvblob/config.yaml)")
	flags.String("data-dir", "", "directory for file:// and badger:// URIs without a path (default: ~/.local/share/kvblob)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("otlp-endpoint", "", "OTLP/HTTP endpoint for traces")
	flags.Int("compression", 0, "zstd level (1-3) for file:// storage and pushed snapshots, 0 disables it for storage")
	flags.Int("cache-size", 0, "number of small values cached in memory for file:// storage")

	viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("otlp_endpoint", flags.Lookup("otlp-endpoint"))
	viper.BindPFlag("compression", flags.Lookup("compression"))
	viper.BindPFlag("cache_size", flags.Lookup("cache-size"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KVBLOB")
	viper.AutomaticEnv()
	viper.SetDefault("log_level", "info")
	viper.SetDefault("concurrency", kvblob.DefaultCopyConcurrency)

	viper.ReadInConfig()
}

func setup(cmd *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	shutdown, err := telemetry.Init(cmd.Context(), "kvblob", version, viper.GetString("otlp_endpoint"))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	shutdownTelemetry = shutdown
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kvblob")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "kvblob")
	}
	return ".kvblob"
}

// openStorage opens uri with the options from flags, config and environment.
func openStorage(ctx context.Context, uri string) (*kvblob.Handle, error) {
	opts := []kvblob.OpenOption{
		kvblob.WithLogger(slog.Default()),
		kvblob.WithTracing(true),
		kvblob.WithCacheSize(viper.GetInt("cache_size")),
	}
	if dir := viper.GetString("data_dir"); dir != "" {
		opts = append(opts, kvblob.WithDataDir(dir))
	}
	if level := viper.GetInt("compression"); level > 0 {
		opts = append(opts, kvblob.WithCompression(level))
	}
	return kvblob.Open(ctx, uri, opts...)
}

// closeInto closes h and reports the error through err unless one is already set.
func closeInto(h *kvblob.Handle, err *error) {
	if cerr := h.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
