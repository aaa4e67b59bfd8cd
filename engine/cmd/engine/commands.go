package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pilot-net/hamon/db/migrate"
	"github.com/pilot-net/hamon/engine/internal/api"
	"github.com/pilot-net/hamon/engine/internal/config"
	"github.com/pilot-net/hamon/engine/internal/logging"
	"github.com/pilot-net/hamon/engine/internal/store"
	"github.com/pilot-net/hamon/engine/internal/worker"
	"github.com/pilot-net/hamon/pkg/types"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest API and periodic jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	if a.flusher != nil {
		a.flusher.Start()
		defer a.flusher.Stop()
	}

	healthWorker := worker.NewHealthWorker(a.db, a.prober, a.collector, a.analyzer, worker.HealthWorkerConfig{
		Interval:         cfg.Jobs.HealthInterval,
		ChunkSize:        cfg.Jobs.ChunkSize,
		AnalyzeAfterPing: cfg.Jobs.AnalyzeAfterPing,
	}, a.logger)
	analyzeWorker := worker.NewAnalyzeWorker(a.db, a.analyzer, worker.AnalyzeWorkerConfig{
		Interval:  cfg.Jobs.AnalyzeInterval,
		ChunkSize: cfg.Jobs.ChunkSize,
	}, a.logger)
	dispatchWorker := worker.NewDispatchWorker(a.dispatcher, cfg.Jobs.DispatchInterval, a.logger)

	healthWorker.Start(ctx)
	defer healthWorker.Stop()
	analyzeWorker.Start(ctx)
	defer analyzeWorker.Stop()
	dispatchWorker.Start(ctx)
	defer dispatchWorker.Stop()

	srv := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: api.NewServer(a.collector, a.analyzer, a.health, cfg.API.MaxBodyBytes, a.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "addr", cfg.API.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown error", "error", err)
	}
	return nil
}

func newHealthcheckCommand(flags *rootFlags) *cobra.Command {
	var analyze bool
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe every verified installation once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var analyzer worker.InstallationAnalyzer
			if analyze {
				analyzer = a.analyzer
			}
			w := worker.NewHealthWorker(a.db, a.prober, a.collector, analyzer, worker.HealthWorkerConfig{
				Interval:         a.cfg.Jobs.HealthInterval,
				ChunkSize:        a.cfg.Jobs.ChunkSize,
				AnalyzeAfterPing: analyze,
			}, a.logger)
			err = w.RunOnce(ctx)
			return errors.Join(err, a.drain(ctx))
		},
	}
	cmd.Flags().BoolVar(&analyze, "analyze", true, "Evaluate alarms after each ping")
	return cmd
}

func newAnalyzeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [installation-id...]",
		Short: "Evaluate alarms for the given installations, or all verified ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			installations, lookupErr := a.installations(ctx, args)
			err = worker.RunChunked(ctx, installations, a.cfg.Jobs.ChunkSize, func(ctx context.Context, inst types.Installation) error {
				sum, err := a.analyzer.AnalyzeInstallation(ctx, inst.ID)
				if err != nil {
					return fmt.Errorf("installation %s: %w", inst.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: evaluated=%d skipped=%d transitions=%d triggers=%d failed=%d\n",
					inst.ID, sum.Evaluated, sum.Skipped, sum.Transitions, sum.Triggers, sum.Failed)
				return nil
			})
			return errors.Join(lookupErr, err)
		},
	}
}

func newDispatchCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Send notifications for pending alarm triggers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.dispatcher.DispatchPending(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}

func newFlushCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Drain the metric buffer into the metric store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.flusher == nil {
				return errors.New("no metric buffer configured (redis.url is empty)")
			}
			n, err := a.flusher.Drain(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "flushed %d records\n", n)
			return err
		},
	}
}

// drain flushes buffered records written by a one-shot command.
func (a *app) drain(ctx context.Context) error {
	if a.flusher == nil {
		return nil
	}
	_, err := a.flusher.Drain(ctx)
	return err
}

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withMigrator := func(fn func(context.Context, *cobra.Command, *migrate.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(ctx, flags)
			if err != nil {
				return err
			}
			logger, flush, err := logging.New(cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			defer flush()

			connectCtx, cancel := context.WithTimeout(ctx, config.DatabaseConnectTimeout)
			defer cancel()
			db, err := store.NewStoreFromURL(connectCtx, cfg.Database.URL, cfg.Database.MaxConns)
			if err != nil {
				return err
			}
			defer db.Close()

			return fn(ctx, cmd, migrate.New(db.Pool(), logger))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withMigrator(func(ctx context.Context, _ *cobra.Command, m *migrate.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *migrate.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			}),
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the most recent migration",
			RunE: withMigrator(func(ctx context.Context, _ *cobra.Command, m *migrate.Migrator) error {
				return m.Rollback(ctx)
			}),
		},
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
