package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	cfhttp "github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/http"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/litellm"
	cfnats "github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/nats"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/natskv"
	cfotel "github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/otel"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/postgres"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/ristretto"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/tiered"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/ws"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/logger"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/middleware"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/cache"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/resilience"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API server",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"nats_enabled", cfg.NATS.Enabled,
		"guest_policy", cfg.Auth.GuestPolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	otelShutdown, err := cfotel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	instruments, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	var queue *cfnats.Queue
	if cfg.NATS.Enabled {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	reportCache, closeCache, err := newReportCache(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.DefaultModel, cfg.LiteLLM.Timeout)
	llm.SetBreaker(breaker)

	// --- Services ---

	store := postgres.NewStore(pool)
	hub := ws.NewHub(cfg.Server.CORSOrigins)

	agents := service.NewAgentService(store)
	templates := service.NewTemplateService(store, agents)
	auth := service.NewAuthService(store, &cfg.Auth)
	conversations := service.NewConversationService(store, hub)
	logs := service.NewExecutionLogService(store, hub)
	metrics := service.NewMetricService(store)
	perf := service.NewPerformanceService(store)
	quotas := service.NewQuotaService(store)
	quotas.SetMetrics(instruments)
	analytics := service.NewAnalyticsService(store, perf)
	analytics.SetCache(reportCache, cfg.Analytics.ReportCacheTTL)

	orch := service.NewOrchestrator(store, llm, hub, &cfg.Orchestrator, cfg.LiteLLM.DefaultModel)
	orch.SetExecutionLogs(logs)
	orch.SetRecorders(metrics, perf, quotas)
	orch.SetMetrics(instruments)
	if queue != nil {
		orch.SetQueue(queue)
		metrics.SetQueue(queue)
		stopQuotas, err := quotas.Subscribe(ctx, queue)
		if err != nil {
			return fmt.Errorf("subscribe quota consumption: %w", err)
		}
		defer stopQuotas()
		quotas.SetQueue(queue)
	}
	groupChats := service.NewGroupChatService(store, orch)
	groupChats.SetQuotas(quotas)

	if auth.GuestPolicy() != service.GuestPolicyDeny {
		slog.Warn("requests without credentials are served under a permissive guest policy; set auth.guest_policy=deny in production",
			"guest_policy", auth.GuestPolicy())
	}

	if cfg.Analytics.RollupEnabled {
		service.NewRollupWorker(metrics, cfg.Analytics.RollupInterval).Start(ctx)
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Agents:        agents,
		Templates:     templates,
		Auth:          auth,
		Conversations: conversations,
		GroupChats:    groupChats,
		Logs:          logs,
		Metrics:       metrics,
		Performance:   perf,
		Quotas:        quotas,
		Analytics:     analytics,
		LiteLLM:       llm,
		Breaker:       breaker,
		Hub:           hub,
		Limits:        cfhttp.Limits{MaxBodyBytes: cfg.Server.MaxBodyBytes},
	}
	requestMetrics := cfhttp.NewRequestMetrics()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)

	// Auth runs before the limiter so token holders are limited per user.
	r.Use(middleware.Auth(auth, cfg.Auth.Enabled))

	var strict func(http.Handler) http.Handler
	if cfg.Rate.Enabled {
		limiter := middleware.NewRateLimiter(cfg.Rate.DefaultPerMinute)
		defer limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)()
		r.Use(limiter.Handler)

		strictLimiter := middleware.NewRateLimiter(cfg.Rate.StrictPerMinute)
		defer strictLimiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)()
		strict = strictLimiter.Handler
	}
	r.Use(cfhttp.RequestTelemetry(perf, requestMetrics))
	r.Handle("/metrics", requestMetrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutExceptWS(cfg.Server.WriteTimeout))
		cfhttp.MountRoutes(r, handlers, strict)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("group chat runs did not finish before shutdown", "error", err)
	}
	return nil
}

// newReportCache builds the analytics report cache: ristretto in process,
// backed by a JetStream KV bucket when NATS is enabled.
func newReportCache(ctx context.Context, cfg *config.Config, queue *cfnats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Analytics.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("report cache: %w", err)
	}
	if queue == nil {
		return l1, l1.Close, nil
	}
	l2, err := natskv.Open(ctx, queue.JetStream(), cfg.NATS.CacheBucket, cfg.Analytics.ReportCacheTTL)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("report cache: %w", err)
	}
	return tiered.New(l1, l2, cfg.Analytics.ReportCacheTTL), l1.Close, nil
}

// timeoutExceptWS applies chi's request timeout to everything but the
// long-lived WebSocket streams.
func timeoutExceptWS(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	timeout := chimw.Timeout(d)
	return func(next http.Handler) http.Handler {
		wrapped := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}
