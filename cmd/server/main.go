package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/server"
	"github.com/ifuryst/quickbyte/internal/service"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:          "quickbyte",
	Short:        "QuickByte - news to short video pipeline",
	Long:         `QuickByte turns headlines into narrated short videos and schedules them on video platforms. Without a subcommand it runs the HTTP API, the cron triggers and the queue workers.`,
	RunE:         runServer,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("QuickByte %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		// NewDatabase migrates on open.
		if _, err := service.NewDatabase(&cfg.Database); err != nil {
			return err
		}
		logger.Info("Database migrated")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the default platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := service.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		created, err := service.SeedPlatforms(cmd.Context(), db)
		if err != nil {
			return err
		}
		logger.Info("Platforms seeded", zap.Int("created", created))
		return nil
	},
}

var otpSecretCmd = &cobra.Command{
	Use:   "otp-secret [account]",
	Short: "Generate a TOTP secret for the admin API",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := "admin"
		if len(args) == 1 {
			account = args[0]
		}
		secret, url, err := service.NewAuthService(zap.NewNop(), "").GenerateSecret(account)
		if err != nil {
			return err
		}
		fmt.Printf("Secret: %s\n", secret)
		fmt.Printf("URL:    %s\n", url)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers only",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.logger.Sync()

		return a.queue.Run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(versionCmd, configCmd, migrateCmd, seedCmd, otpSecretCmd, workerCmd)
	addJobCommands(rootCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	a.logger.Info("Starting QuickByte server", zap.String("version", version))

	scheduler, err := a.newScheduler()
	if err != nil {
		return err
	}

	srv := server.NewServer(a.cfg, a.db, a.pipeline, scheduler, a.logger)

	go func() {
		if err := a.queue.Run(ctx); err != nil {
			a.logger.Error("Queue workers failed", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		a.logger.Info("Shutting down server...")
	case <-ctx.Done():
		a.logger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(context.Background()); err != nil {
		a.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	cancel()

	a.logger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
