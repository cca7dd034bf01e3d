package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vaagent"
	"github.com/hupe1980/vaagent/config"
	"github.com/hupe1980/vaagent/engine"
	"github.com/hupe1980/vaagent/logging"
	"github.com/hupe1980/vaagent/observability"
	"github.com/hupe1980/vaagent/server"
	"github.com/hupe1980/vaagent/stream"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server with the chat, task and task group endpoints.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  vaagent serve --config /etc/vaagent/production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{
		ServiceVersion: vaagent.Version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing.shutdown.failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	assistant, err := vaagent.NewFromConfig(ctx, cfg, func(o *vaagent.Options) {
		o.Logger = logger
		o.Metrics = metrics
	})
	if err != nil {
		return err
	}
	defer assistant.Close()

	srv := server.New(assistant, assistant.Tasks(), func(o *server.Options) {
		o.Addr = cfg.Server.Addr()
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		o.CORSOrigins = cfg.Server.CORSOrigins
		o.Metrics = metrics
		o.Logger = logger
	})

	return srv.Start(ctx)
}

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd() *cobra.Command {
	var checkpointID string

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run one conversation turn and print the event stream",
		Example: `  vaagent chat "Find the latest Go release notes"
  vaagent chat --checkpoint 3f2c... "Summarize them"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			assistant, err := vaagent.NewFromConfig(ctx, cfg, func(o *vaagent.Options) {
				o.Logger = logger
			})
			if err != nil {
				return err
			}
			defer assistant.Close()

			_, events, err := assistant.Chat(ctx, checkpointID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			return stream.NewWriter(cmd.OutOrStdout()).WriteAll(ctx, events)
		},
	}

	cmd.Flags().StringVar(&checkpointID, "checkpoint", engine.NullThreadID, "Checkpoint id of the conversation to continue")

	return cmd
}

// =============================================================================
// Migrate Command
// =============================================================================

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the task and checkpoint tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := vaagent.Migrate(cmd.Context(), cfg); err != nil {
				return err
			}

			logger.Info("migrate.complete", "driver", cfg.Database.Driver)
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")

			return nil
		},
	}
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vaagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the --config file and builds the logger. Logs go to
// stderr so stdout stays reserved for command output.
func loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	debug, _ := cmd.Flags().GetBool("debug")

	level := logging.ParseLevel(cfg.Logging.Level)
	if debug {
		level = logging.LogLevelDebug
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    cmd.ErrOrStderr(),
		AddSource: cfg.Logging.AddSource,
		Component: "vaagent",
	})

	return cfg, logger, nil
}
