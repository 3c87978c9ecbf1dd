package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Mansoor88-6/time-tracking/internal/config"
	"Mansoor88-6/time-tracking/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "time-tracking",
		Short: "Employee time tracking with periodic screenshots",
		Long: `time-tracking runs either the session server or the desktop agent.

  time-tracking server                   Serve the time entry API
  time-tracking server seed --file f     Load employees, projects and tasks
  time-tracking agent run                Run the desktop agent
  time-tracking agent start --project p --task t
  time-tracking agent stop
  time-tracking agent status`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "config/local.yaml", "Path to configuration file")

	cmd.AddCommand(newServerCmd(&configPath))
	cmd.AddCommand(newAgentCmd(&configPath))

	return cmd
}

// bootstrap loads the config and builds the logger every command shares
func bootstrap(configPath string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
