package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/ingestion"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/notify"
	"github.com/cyderes/wiki-archive-service/internal/server"
	"github.com/cyderes/wiki-archive-service/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// deps holds what every command builds from the environment.
type deps struct {
	cfg      *config.Config
	log      logger.Logger
	objects  *storage.S3Storage
	statuses storage.StatusStore
}

func (d *deps) close() {
	if d.statuses != nil {
		if err := d.statuses.Close(); err != nil {
			d.log.Error("Failed to close status store", logger.Error(err))
		}
	}
	// Sync on a terminal stdout fails with EINVAL; nothing is lost then.
	if err := d.log.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}

func setup() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	objects, err := storage.NewS3Storage(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	statuses, err := storage.NewStatusStore(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize status store: %w", err)
	}

	return &deps{cfg: cfg, log: log, objects: objects, statuses: statuses}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wiki-archive",
		Short:         "Archive MediaWiki revision histories to S3",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newNotifyCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "wiki-archive version %s\n", version)
			},
		},
	)
	return root
}

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one archival pass over every configured wiki",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc := ingestion.NewService(d.cfg, d.objects, d.statuses, d.log)
			if err := svc.RunOnce(ctx); err != nil {
				d.log.Error("Archival pass failed", logger.Error(err))
				return err
			}
			return nil
		},
	}
}

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Archive on a schedule and serve status and notification endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.close()
			return serve(cmd.Context(), d)
		},
	}
}

func serve(parent context.Context, d *deps) error {
	var events server.EventHandler
	if d.cfg.Notify.WebhookURL != "" {
		events = notify.NewNotifier(d.cfg.Notify, d.cfg.AdminEmail, d.objects, d.log)
	}
	httpServer := server.NewServer(d.cfg.Server, d.statuses, events, d.log)
	svc := ingestion.NewService(d.cfg, d.objects, d.statuses, d.log)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 2)

	go func() {
		d.log.Info("Starting HTTP server", logger.Int("port", d.cfg.Server.Port))
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		d.log.Info("Starting archival scheduler", logger.String("schedule", d.cfg.Ingestion.Schedule))
		if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		d.log.Info("Shutdown signal received", logger.String("signal", sig.String()))
	case runErr = <-errCh:
		d.log.Error("Service failed", logger.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		d.log.Error("HTTP server shutdown error", logger.Error(err))
	}

	cancel()
	d.log.Info("Shutdown complete")
	return runErr
}

// newNotifyCmd creates the notify command.
func newNotifyCmd() *cobra.Command {
	var bucket, key string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Post a webhook notification for one archived revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.close()

			n := notify.NewNotifier(d.cfg.Notify, d.cfg.AdminEmail, d.objects, d.log)
			return n.Notify(cmd.Context(), bucket, key)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket holding the metadata object")
	cmd.Flags().StringVar(&key, "key", "", "key of the revision metadata object")
	cmd.MarkFlagRequired("bucket")
	cmd.MarkFlagRequired("key")
	return cmd
}
