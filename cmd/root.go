package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// DB is the identity store shared by subcommands
	DB store.Persistence

	dbURL      string
	storage    string
	configPath string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rollcall",
	Short:   "Group photo attendance by face recognition",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; the environment may already be populated
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if configPath != "" {
			if err := cfg.MergeFile(configPath); err != nil {
				return err
			}
		}
		applyFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}
		Cfg = cfg

		DB, err = openStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C
			DB.Close(context.Background())
		}
		logger.Sync()
	},
}

// applyFlags lets explicit command-line flags win over env and file settings.
func applyFlags(cfg *config.Config) {
	if dbURL != "" {
		cfg.Database.URL = dbURL
		if storage == "" {
			cfg.Storage.Backend = "postgres"
		}
	}
	if storage != "" {
		cfg.Storage.Backend = storage
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// openStore connects the persistence backend named by the configuration.
func openStore(ctx context.Context, cfg *config.Config) (store.Persistence, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return store.New(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	case "files":
		return store.NewFiles(cfg.Storage.Root)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (selects the postgres backend)")
	rootCmd.PersistentFlags().StringVar(&storage, "storage", "", "Storage backend: postgres, files or memory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file overlaid on the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
