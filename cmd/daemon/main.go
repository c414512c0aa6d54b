// Command daemon runs the task engine: the JSON-RPC 2.0 API, the worker
// pool, crash recovery, and scheduled maintenance, all against a single
// SQLite store.
//
// Startup sequence:
//  1. Load configuration (file + SEMANTICA_* env overrides)
//  2. Open the store (runs pending migrations)
//  3. Recover orphaned RUNNING jobs and sweep zombie processes
//  4. Start the worker pool
//  5. Start the JSON-RPC server
//  6. Schedule periodic maintenance via cron
//  7. Block on SIGINT/SIGTERM, then shut down in reverse order
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/semantica/task-engine/internal/app"
	"github.com/semantica/task-engine/internal/config"
	"github.com/semantica/task-engine/internal/executor"
	"github.com/semantica/task-engine/internal/jobrpc"
	"github.com/semantica/task-engine/internal/joblog"
	"github.com/semantica/task-engine/internal/metrics"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/retry"
	"github.com/semantica/task-engine/internal/scheduler"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/internal/worker"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	var configFile string
	root := &cobra.Command{
		Use:     "task-engine-daemon",
		Short:   "Run the task engine daemon",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(log)

	s, err := store.Open(store.Config{Path: cfg.Store.Path, PoolSize: cfg.Store.PoolSize, BusyTimeout: int(cfg.Store.BusyTimeout / time.Millisecond)})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	clock := platform.SystemClock{}
	ids := platform.UUIDProvider{}
	probe := platform.NewLinuxProbe()
	gate := scheduler.NewGate(probe, clock)
	retryPolicy := retry.NewPolicy(0)
	logs := joblog.NewStore(cfg.JobLog.Dir)
	exec := executor.NewPosixExecutor(executor.DefaultAllowlist, logs)
	collector := metrics.NewCollector()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	recovery := app.NewRecoveryService(s, exec, clock, int64(cfg.Worker.RecoveryWindow/time.Millisecond), log)
	recovered, err := recovery.RecoverOrphanedJobs()
	if err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	}
	log.Info("recovery complete", "recovered", recovered)
	if zombies, err := recovery.CleanupZombies(); err != nil {
		log.Warn("zombie cleanup failed", "error", err)
	} else if zombies > 0 {
		log.Info("zombie processes reaped", "count", zombies)
	}

	pool := worker.NewPool(cfg.Worker.Count, "default", s, exec, gate, retryPolicy, clock, probe, collector, log)
	pool.Start()

	devTasks := app.NewDevTaskService(s, clock, ids)
	maintenance := app.NewMaintenanceService(s, clock, log)
	handler := jobrpc.NewHandler(devTasks, maintenance, s, logs, clock, collector)
	limiter := jobrpc.NewRateLimiter(cfg.RPC.RateLimitBurst, cfg.RPC.RateLimitPerSec)
	rpcServer := jobrpc.NewServer(jobrpc.ServerConfig{Host: cfg.RPC.Host, Port: cfg.RPC.Port}, handler, limiter, log)

	go func() {
		if err := rpcServer.ListenAndServe(); err != nil && err != context.Canceled {
			log.Error("rpc server stopped", "error", err)
		}
	}()

	maintCron := cron.New()
	if _, err := maintCron.AddFunc(cfg.Maintenance.IntervalCron, func() {
		result, err := maintenance.Run(app.DefaultMaintenanceConfig(), false)
		if err != nil {
			log.Error("scheduled maintenance failed", "error", err)
			return
		}
		log.Info("scheduled maintenance complete", "jobs_deleted", result.JobsDeleted, "vacuum_run", result.VacuumRun)
	}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	maintCron.Start()

	log.Info("task engine started", "rpc_addr", fmt.Sprintf("%s:%d", cfg.RPC.Host, cfg.RPC.Port), "workers", cfg.Worker.Count)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received, stopping gracefully")

	maintCron.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("rpc server shutdown error", "error", err)
	}

	pool.Stop(5 * time.Second)

	log.Info("task engine stopped")
	return nil
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
