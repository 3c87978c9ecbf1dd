package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/agent"
	"Mansoor88-6/time-tracking/internal/cache"
	"Mansoor88-6/time-tracking/internal/capture"
	"Mansoor88-6/time-tracking/internal/client"
	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/config"
	"Mansoor88-6/time-tracking/internal/database"
	"Mansoor88-6/time-tracking/internal/device"
	"Mansoor88-6/time-tracking/internal/platform"
	"Mansoor88-6/time-tracking/internal/queue"
	"Mansoor88-6/time-tracking/internal/server"
)

const controlTimeout = 15 * time.Second

func newAgentCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run or control the desktop agent",
	}

	cmd.AddCommand(
		newAgentRunCmd(configPath),
		newAgentStartCmd(configPath),
		newAgentStopCmd(configPath),
		newAgentStatusCmd(configPath),
		newAgentOpenCmd(configPath),
	)
	return cmd
}

func newAgentRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), *configPath)
		},
	}
}

func runAgent(ctx context.Context, configPath string) error {
	cfg, log, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Agent.EmployeeID == "" {
		return errors.New("agent.employee_id is required")
	}

	log.Info("Starting time-tracking agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", configPath),
		zap.String("employee_id", cfg.Agent.EmployeeID),
	)

	// Initialize database
	db, err := database.New(cfg.Agent.CachePath, database.AgentSchema, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	clk := clock.Real()
	local := cache.NewLocal(db.DB, clk, log.Logger)
	uploads := queue.NewUploadQueue(db.DB, clk, log.Logger)

	// Initialize platform
	platformInstance, err := platform.NewPlatform()
	if err != nil {
		return fmt.Errorf("failed to initialize platform: %w", err)
	}

	// Get or generate device ID
	deviceID, err := device.NewDeviceManager(platformInstance, local, log.Logger).
		GetOrGenerateDeviceID(ctx, cfg.Device.ID)
	if err != nil {
		return fmt.Errorf("failed to get device ID: %w", err)
	}
	log.Info("Using device ID", zap.String("device_id", deviceID))

	// Initialize API client
	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log.Logger,
	)

	capturer := capture.NewScreenCapturer(
		capture.NewCommandGrabber(cfg.Capture.Command, log.Logger),
		capture.CapturerOptions{
			MaxWidth:  cfg.Capture.MaxWidth,
			MaxHeight: cfg.Capture.MaxHeight,
			Quality:   cfg.Capture.Quality,
		},
		clk, log.Logger,
	)

	a := agent.New(agent.Deps{
		Server:   apiClient,
		Uploader: apiClient,
		Pinger:   apiClient,
		Events:   apiClient,
		Probe:    device.NewProbe(platformInstance, log.Logger),
		Capturer: capturer,
		Cache:    local,
		Queue:    uploads,
		Clock:    clk,
	}, agent.Options{
		EmployeeID:    cfg.Agent.EmployeeID,
		DeviceID:      deviceID,
		QueueInterval: time.Duration(cfg.Agent.QueueInterval) * time.Second,
		CallTimeout:   time.Duration(cfg.Backend.Timeout) * time.Second,
		Scheduler: capture.SchedulerOptions{
			MinInterval: cfg.Sessions.MinInterval(),
		},
	}, log.Logger)

	ctx, stop := signalContext(ctx)
	defer stop()

	if err := a.ApplySettings(ctx, cfg.Sessions.MinInterval()); err != nil {
		log.Warn("Failed to apply settings", zap.Error(err))
	}

	outcome, err := a.ReconcileOnStartup(ctx)
	if err != nil {
		log.Warn("Startup reconciliation failed", zap.Error(err))
	} else {
		log.Info("Startup reconciliation finished", zap.String("outcome", outcome.String()))
	}

	a.Start(ctx)

	var controlServer *http.Server
	if !cfg.Agent.DisableControl {
		addr := fmt.Sprintf("localhost:%d", cfg.Agent.ControlPort)
		controlServer = &http.Server{
			Addr:         addr,
			Handler:      server.NewControlServer(a, log.Logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: controlTimeout,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("Starting control server", zap.String("address", addr))
			if err := controlServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Control server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Control server disabled in configuration")
	}

	if !cfg.Agent.DisableWatch {
		watcher, err := config.NewWatcher(configPath, 0, func(next *config.Config) {
			if err := a.ApplySettings(ctx, next.Sessions.MinInterval()); err != nil {
				log.Warn("Failed to apply reloaded settings", zap.Error(err))
			}
		}, log.Logger)
		if err != nil {
			log.Warn("Config watcher disabled", zap.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	log.Info("Time-tracking agent started successfully",
		zap.String("device_id", deviceID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	<-ctx.Done()
	log.Info("Shutting down time-tracking agent...")

	if controlServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Control server shutdown error", zap.Error(err))
		}
	}

	// The session stays open on the server; the next run resumes it
	a.Stop()

	log.Info("Time-tracking agent stopped")
	return nil
}

func newAgentStartCmd(configPath *string) *cobra.Command {
	var projectID, taskID, description string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session on the running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := controlClient(*configPath)
			if err != nil {
				return err
			}

			req := server.StartRequest{ProjectID: projectID, TaskID: taskID}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			entry, err := ctl.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	cmd.Flags().StringVar(&taskID, "task", "", "Task ID")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Session description")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("task")
	return cmd
}

func newAgentStopCmd(configPath *string) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running agent's session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := controlClient(*configPath)
			if err != nil {
				return err
			}

			var req server.StopRequest
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			entry, err := ctl.Stop(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Final session description")
	return cmd
}

func newAgentStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running agent's state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := controlClient(*configPath)
			if err != nil {
				return err
			}
			status, err := ctl.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}

func newAgentOpenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the server in the default browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			p, err := platform.NewPlatform()
			if err != nil {
				return fmt.Errorf("failed to initialize platform: %w", err)
			}
			return p.OpenBrowser(cfg.Backend.BaseURL)
		},
	}
}

func controlClient(configPath string) (*server.ControlClient, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Agent.DisableControl {
		return nil, errors.New("the agent's control server is disabled in configuration")
	}
	return server.NewControlClient(cfg.Agent.ControlPort, controlTimeout), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
