package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akshat111/CHRONOS/config"
	"github.com/akshat111/CHRONOS/events"
	"github.com/akshat111/CHRONOS/handlers"
	"github.com/akshat111/CHRONOS/lock"
	"github.com/akshat111/CHRONOS/store"
	"github.com/akshat111/CHRONOS/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker, claiming and executing due jobs until stopped",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN")
	serveCmd.Flags().String("redis-addr", "", "Redis address (host:port)")
	serveCmd.Flags().Duration("poll-interval", 0, "how often to poll for due jobs")
	serveCmd.Flags().Int("concurrency", 0, "maximum jobs a single worker runs at once")
	serveCmd.Flags().String("worker-id", "", "worker id; defaults to <host>_<pid>_<random>")
	serveCmd.Flags().Bool("disable-worker", false, "start the process without a worker loop (store/lock only)")

	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("poll_interval", serveCmd.Flags(), "poll-interval")
	bindFlag("concurrency", serveCmd.Flags(), "concurrency")
	bindFlag("worker_id", serveCmd.Flags(), "worker-id")
	bindFlag("disable_worker", serveCmd.Flags(), "disable-worker")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel).With(slog.String("worker_id", cfg.WorkerID))

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	s, err := store.NewPostgres(schemaCtx, pool)
	cancel()
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	s.Log = logWriter{logger}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()
	lockMgr := lock.NewRedisManager(redisClient, cfg.WorkerID)

	registry := handlers.NewRegistry()
	registry.Register("echo", handlers.Echo)
	registry.Register("delay", handlers.Delay)
	registry.Register("always-fail", handlers.AlwaysFail)

	if cfg.DisableWorker {
		logger.Info("worker disabled, idling until signaled")
		waitForSignal()
		return nil
	}

	w := worker.New(s, registry, worker.Config{
		PollInterval: cfg.PollInterval,
		Concurrency:  cfg.Concurrency,
		WorkerID:     cfg.WorkerID,
	})

	logSub, unsubscribe := w.Events.Subscribe(64)
	defer unsubscribe()
	go logEvents(logger, logSub)

	runCtx := context.Background()
	if err := w.Start(runCtx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("concurrency", cfg.Concurrency),
	)

	waitForSignal()
	logger.Info("shutting down, draining in-flight jobs...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop worker: %w", err)
	}
	if err := lockMgr.ReleaseAll(stopCtx); err != nil {
		logger.Warn("release locks on shutdown", slog.String("error", err.Error()))
	}

	logger.Info("stopped cleanly")
	return nil
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit
}

func logEvents(logger *slog.Logger, ch <-chan events.Event) {
	for ev := range ch {
		logger.Info("event",
			slog.String("kind", string(ev.Kind)),
			slog.String("job_id", ev.JobID),
			slog.String("task_type", ev.TaskType),
			slog.String("err", ev.Err),
			slog.String("reason", ev.Reason),
		)
	}
}

// logWriter adapts an *slog.Logger to the io.Writer store.Postgres.Log
// wants for its own retry-attempt diagnostics.
type logWriter struct{ logger *slog.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Warn(string(p))
	return len(p), nil
}
