package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facemosaic/internal/config"
	"github.com/andresmejia3/facemosaic/internal/logging"
	"github.com/andresmejia3/facemosaic/internal/store"
	"github.com/spf13/cobra"
)

var (
	// DB is the job history connection, nil when no database is configured
	DB *store.Store
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Logger carries diagnostics; narration goes straight to stderr
	Logger *slog.Logger

	configPath string
	ratio      float64
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "facemosaic <input-path> <output-path>",
	Short: "Pixelate every face in a video and disguise the voice track",
	Long: `facemosaic detects faces in every frame of a video, replaces each one with a
coarse mosaic, lowers the pitch of the audio without changing its speed and
writes the result to a new file.`,
	Version:       Version, // This enables the --version flag
	Args:          cobra.ExactArgs(2),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, resolved, exists, err := config.Load(configPath)
		if err != nil {
			return err
		}
		Cfg = cfg

		Logger, err = logging.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		Logger.Debug("configuration loaded", "path", resolved, "exists", exists)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		r := Cfg.Mosaic.Ratio
		if cmd.Flags().Changed("ratio") {
			r = ratio
		}
		return runMosaic(cmd.Context(), args[0], args[1], r)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeStore()
	},
}

func closeStore() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
}

// openStore connects to the job history. required makes a missing database URL an error.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	if !Cfg.HistoryEnabled() {
		if required {
			return nil, errors.New("job history is disabled: set [database] url, FACEMOSAIC_DB_URL or POSTGRES_HOST")
		}
		return nil, nil
	}
	db, err := store.New(ctx, Cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = db
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// PersistentPostRun is skipped when RunE fails
	closeStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $FACEMOSAIC_CONFIG, ~/.config/facemosaic/config.toml, ./facemosaic.toml)")
	rootCmd.Flags().Float64VarP(&ratio, "ratio", "r", 0.05, "Mosaic downscale ratio in (0, 1]; smaller means coarser blocks")
}
