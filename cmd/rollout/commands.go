package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/envspec"
	"github.com/artpar/rollout/internal/shell/api"
	"github.com/artpar/rollout/internal/shell/deploy"
	"github.com/artpar/rollout/internal/shell/dispatcher"
	"github.com/artpar/rollout/internal/shell/health"
	"github.com/artpar/rollout/internal/shell/lock"
	"github.com/artpar/rollout/internal/shell/metrics"
	"github.com/artpar/rollout/internal/shell/notify"
	"github.com/artpar/rollout/internal/shell/registry"
	"github.com/artpar/rollout/internal/shell/store"
	"github.com/artpar/rollout/internal/shell/telemetry"
	"github.com/artpar/rollout/internal/shell/validate"
)

// =============================================================================
// Application Wiring
// =============================================================================

// app holds the shared pieces every subcommand needs.
type app struct {
	cfg    *Config
	logger *slog.Logger
	store  store.Store
	specs  map[domain.Environment]envspec.Spec
}

func newApp(configPath string) (*app, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger := SetupLogger(cfg)

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	specs := envspec.Default()
	if cfg.Environments.File != "" {
		specs, err = envspec.Load(cfg.Environments.File)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("load environments: %w", err)
		}
	}

	return &app{cfg: cfg, logger: logger, store: s, specs: specs}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
}

// holderIdentity builds a lock holder ID unique to this process.
func holderIdentity() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}

// newDispatcher wires the full dispatch pipeline from config.
func (a *app) newDispatcher(reg *prometheus.Registry) *dispatcher.Dispatcher {
	locks := lock.NewManager(a.store, holderIdentity(),
		a.cfg.Lock.HeartbeatTTL, a.cfg.Lock.PollInterval, a.logger)

	preflight := validate.NewPreflight(
		registry.NewHTTPRegistry(a.cfg.Registry.URLTemplate, a.cfg.Registry.Timeout, a.logger),
		telemetry.NewHTTPTelemetry(a.cfg.Telemetry.Endpoint, a.cfg.Telemetry.Timeout, a.logger),
		a.specs, a.logger)

	executor := deploy.NewExecutor(deploy.NewCommandApplier(a.specs, a.logger), a.logger)

	postflight := validate.NewPostflight(
		health.NewHTTPProbe(a.specs, a.cfg.Postflight.Timeout, a.logger),
		a.cfg.Postflight.Interval, a.cfg.Postflight.MaxAttempts, a.logger)

	var notifier notify.Notifier = notify.Noop{}
	if a.cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(a.cfg.Notify.WebhookURL, a.cfg.Notify.Timeout, a.logger)
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	return dispatcher.New(a.store, locks, preflight, executor, postflight, notifier, m,
		dispatcher.Config{
			CooldownInterval: a.cfg.Dispatcher.CooldownInterval,
			LockTimeout:      a.cfg.Lock.Timeout,
			IdleInterval:     a.cfg.Dispatcher.IdleInterval,
		}, a.logger)
}

// =============================================================================
// Command Tree
// =============================================================================

// NewRootCommand builds the rollout command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "rollout",
		Short:         "Coordinate deployments across environments",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	root.AddCommand(
		newEnqueueCommand(&configPath),
		newStatusCommand(&configPath),
		newWorkerCommand(&configPath),
		newExecuteCommand(&configPath),
		newClearCommand(&configPath),
	)
	return root
}

func newEnqueueCommand(configPath *string) *cobra.Command {
	var version, environment, priority string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Append a deployment request to the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			env, err := domain.ParseEnvironment(environment)
			if err != nil {
				return err
			}
			prio, err := domain.ParsePriority(priority)
			if err != nil {
				return err
			}

			req, err := domain.NewRequest(version, env, prio)
			if err != nil {
				return err
			}
			if err := a.store.EnqueueRequest(cmd.Context(), req); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), req.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&version, "version", "v", "", "Artifact version to deploy")
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Target environment (dev, staging, production)")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(domain.PriorityNormal), "Request priority (high, normal, low)")
	cmd.MarkFlagRequired("version")
	cmd.MarkFlagRequired("environment")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending requests in dispatch order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()

			requests, err := a.store.ListRequests(cmd.Context())
			if err != nil {
				return err
			}
			if len(requests) == 0 {
				fmt.Fprintln(out, "queue is empty")
			}
			for i, req := range requests {
				fmt.Fprintf(out, "%d. [%s] %s -> %s (id=%s, enqueued=%s)\n",
					i+1, req.Priority, req.Version, req.Environment,
					req.ID, req.EnqueuedAt.Format(time.RFC3339))
			}

			last, err := a.store.LastSuccess(cmd.Context())
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Fprintln(out, "last successful deployment: never")
			} else {
				fmt.Fprintf(out, "last successful deployment: %s\n", last.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newWorkerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the dispatcher loop until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			reg := prometheus.NewRegistry()
			d := a.newDispatcher(reg)
			d.Start()
			defer d.Stop()

			var server *http.Server
			if a.cfg.API.Enabled {
				handler := api.NewHandler(a.store, a.cfg.Dispatcher.CooldownInterval, reg, a.logger)
				server = &http.Server{
					Addr:    a.cfg.API.Address(),
					Handler: handler.Routes(),
				}
				go func() {
					a.logger.Info("status API listening", "addr", server.Addr)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("status API failed", "error", err)
					}
				}()
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			sig := <-stop
			a.logger.Info("shutting down", "signal", sig.String())

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("status API shutdown failed", "error", err)
				}
			}
			return nil
		},
	}
}

func newExecuteCommand(configPath *string) *cobra.Command {
	var version, environment string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Deploy a version immediately, bypassing the queue",
		Long: "Execute runs a synchronous manual deployment with a synthetic " +
			"high-priority request. Manual deploys still go through the lock, " +
			"cooldown and both validation gates.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			env, err := domain.ParseEnvironment(environment)
			if err != nil {
				return err
			}

			d := a.newDispatcher(nil)
			outcome, err := d.ExecuteNow(cmd.Context(), version, env)
			if outcome != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "result: %s\n", outcome.Result)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&version, "version", "v", "", "Artifact version to deploy")
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Target environment (dev, staging, production)")
	cmd.MarkFlagRequired("version")
	cmd.MarkFlagRequired("environment")
	return cmd
}

func newClearCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the request queue (administrative reset)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.ClearRequests(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
			return nil
		},
	}
}
