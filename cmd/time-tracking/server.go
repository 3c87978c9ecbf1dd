package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"Mansoor88-6/time-tracking/internal/auth"
	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/config"
	"Mansoor88-6/time-tracking/internal/database"
	"Mansoor88-6/time-tracking/internal/events"
	"Mansoor88-6/time-tracking/internal/handler"
	"Mansoor88-6/time-tracking/internal/repository"
	"Mansoor88-6/time-tracking/internal/router"
	"Mansoor88-6/time-tracking/internal/screenshot"
	"Mansoor88-6/time-tracking/internal/session"
)

func newServerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the time entry API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath)
		},
	}

	cmd.AddCommand(newSeedCmd(configPath))
	return cmd
}

func runServer(ctx context.Context, configPath string) error {
	cfg, log, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting time-tracking server",
		zap.String("env", cfg.Env),
		zap.String("config_path", configPath),
	)

	// Initialize database
	db, err := database.New(cfg.StoragePath, database.ServerSchema, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	clk := clock.Real()
	hub := events.NewHub(log.Logger)
	defer hub.Close()

	manager := session.NewManager(session.Deps{
		Store:     repository.NewTimeEntryRepository(db.DB, log.Logger),
		Directory: repository.NewDirectoryRepository(db.DB, log.Logger),
		Publisher: hub,
		Clock:     clk,
	}, session.Options{
		DefaultInterval:  cfg.Sessions.DefaultInterval(),
		MinInterval:      cfg.Sessions.MinInterval(),
		OperationTimeout: time.Duration(cfg.Server.OperationTimeout) * time.Second,
		ActiveCacheTTL:   time.Duration(cfg.Server.ActiveCacheTTL) * time.Second,
	}, log.Logger)
	defer manager.Close()

	shots := screenshot.NewService(manager,
		repository.NewScreenshotRepository(db.DB, log.Logger),
		cfg.Server.BlobDir, cfg.Server.MaxUploadBytes, clk, log.Logger)

	authn := auth.NewTokenAuthenticator(cfg.Server.Tokens, log.Logger)
	if len(cfg.Server.Tokens) == 0 {
		log.Warn("No API tokens configured, every request will be rejected")
	}

	h := router.New(router.Handlers{
		TimeEntries: handler.NewTimeEntryHandler(manager, log.Logger),
		Screenshots: handler.NewScreenshotHandler(shots, cfg.Server.MaxUploadBytes, log.Logger),
		Events:      handler.NewEventsHandler(hub, log.Logger),
	}, authn, log.Logger)

	ctx, stop := signalContext(ctx)
	defer stop()

	// Tokens are the only server setting applied without a restart
	watcher, err := config.NewWatcher(configPath, 0, func(next *config.Config) {
		authn.SetTokens(next.Server.Tokens)
		log.Info("Reloaded API tokens", zap.Int("count", len(next.Server.Tokens)))
	}, log.Logger)
	if err != nil {
		log.Warn("Config watcher disabled", zap.Error(err))
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down time-tracking server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown error", zap.Error(err))
	}

	log.Info("Time-tracking server stopped")
	return nil
}

func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load employees, projects, tasks and memberships from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read seed file: %w", err)
			}
			var seed repository.Seed
			if err := yaml.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("failed to parse seed file: %w", err)
			}

			db, err := database.New(cfg.StoragePath, database.ServerSchema, log.Logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.NewDirectoryRepository(db.DB, log.Logger).Apply(cmd.Context(), &seed); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d employees, %d projects, %d tasks\n",
				len(seed.Employees), len(seed.Projects), len(seed.Tasks))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Seed file")
	cmd.MarkFlagRequired("file")
	return cmd
}
