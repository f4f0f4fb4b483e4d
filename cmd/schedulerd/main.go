package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ottojung/volodyslav-sub000/config"
	"github.com/ottojung/volodyslav-sub000/internal/clock"
	"github.com/ottojung/volodyslav-sub000/internal/health"
	ctxlog "github.com/ottojung/volodyslav-sub000/internal/log"
	"github.com/ottojung/volodyslav-sub000/internal/metrics"
	"github.com/ottojung/volodyslav-sub000/internal/scheduler"
	"github.com/ottojung/volodyslav-sub000/internal/state"
	"github.com/ottojung/volodyslav-sub000/internal/state/filestore"
	"github.com/ottojung/volodyslav-sub000/internal/state/pgstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	metrics.Register()
	checker := health.NewChecker(store, logger, prometheus.DefaultRegisterer)

	sched := scheduler.New(store, clock.System(), logger, time.Duration(cfg.PollIntervalMs)*time.Millisecond, int64(cfg.MaxConcurrentTasks))

	opsSrv := newOpsServer(cfg.MetricsAddr, checker)
	go func() {
		logger.Info("ops server started", "addr", cfg.MetricsAddr)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

// storeBackend is what main needs from a persistence backend: the
// transactional contract the scheduler depends on, plus the reachability
// probe the health checker pings.
type storeBackend interface {
	state.Store
	health.Pinger
}

// newStore builds the configured persistence backend and returns a close
// func the caller should defer.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storeBackend, func(), error) {
	switch cfg.StorageBackend {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("storage backend ready", "backend", "postgres")
		return store, pool.Close, nil
	default:
		store := filestore.New(cfg.StateFilePath, logger)
		logger.Info("storage backend ready", "backend", "file", "path", cfg.StateFilePath)
		return store, func() {}, nil
	}
}

// newOpsServer exposes /healthz/live, /healthz/ready, and /metrics on one
// listener, so operators have a single ops port to point a load balancer
// or scrape config at.
func newOpsServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
