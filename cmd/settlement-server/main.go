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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shuttleday/platform/internal/bus"
	"github.com/shuttleday/platform/internal/client"
	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/handler"
	"github.com/shuttleday/platform/internal/infra"
	"github.com/shuttleday/platform/internal/repository"
	"github.com/shuttleday/platform/internal/settlement"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("settlement server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	// This process only publishes, but it still provisions the charge queue
	// so payment requests are never unroutable while the payment worker is
	// being deployed.
	queue := cfg.BusQueue
	if queue == "" {
		queue = "payment.charges.q"
	}
	keys := cfg.BusBindingKeys
	if len(keys) == 0 {
		keys = []string{bus.RoutingKey(domain.EventChargeRequested)}
	}

	busClient := bus.NewClient(bus.Config{
		URL:           cfg.AMQPURL,
		Exchange:      cfg.BusExchange,
		Service:       "event-settlement",
		Queue:         queue,
		BindingKeys:   keys,
		AutoBind:      cfg.BusAutoBind,
		RetryInterval: cfg.BusRetryInterval,
		LogPayload:    cfg.BusLogPayload,
		MaxLogBytes:   cfg.BusMaxLogBytes,
	}, logger)
	busClient.Start(ctx)
	defer busClient.Close()

	registryClient := client.NewRegistryClient(cfg.RegistryBaseURL, logger)
	registrationClient := client.NewRegistrationClient(cfg.RegistrationBaseURL, logger)

	svc := settlement.NewService(pool, repository.NewSettlementRepository(), registryClient, registrationClient, busClient, logger)

	r := chi.NewRouter()
	handler.NewSettlementHandler(svc, logger).Routes(r)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := infra.HealthCheck(req.Context(), pool); err != nil {
			handler.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
			return
		}
		handler.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.SettlementPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("settlement server listening", "port", cfg.SettlementPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
