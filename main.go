package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apihttp "community-billing/internal/api/http"
	"community-billing/internal/auth"
	balanceapp "community-billing/internal/balance/application"
	billingapp "community-billing/internal/billing/application"
	"community-billing/internal/config"
	"community-billing/internal/observability/metrics"
	"community-billing/internal/observability/tracing"
	periodapp "community-billing/internal/period/application"
	"community-billing/internal/store"
	"community-billing/internal/store/memory"
	"community-billing/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   cfg.Tracing.ServiceName,
		Endpoint:      cfg.Tracing.Endpoint,
		Protocol:      cfg.Tracing.Protocol,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	}, logger.Named("tracing"))
	if err != nil {
		logger.Fatal("tracing init error", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	st, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store open error", zap.Error(err))
	}
	defer st.Close()

	metrics.Init(db, logger)

	tariff, err := cfg.Tariff()
	if err != nil {
		logger.Fatal("tariff error", zap.Error(err))
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		logger.Fatal("strategy error", zap.Error(err))
	}

	periodService, err := periodapp.NewService(st, logger.Named("period"))
	if err != nil {
		logger.Fatal("period service error", zap.Error(err))
	}
	billService, err := billingapp.NewBillService(st, billingapp.Settings{Tariff: tariff, Strategy: strategy}, logger.Named("billing"))
	if err != nil {
		logger.Fatal("bill service error", zap.Error(err))
	}
	balanceService, err := balanceapp.NewBalanceService(st, logger.Named("balance"))
	if err != nil {
		logger.Fatal("balance service error", zap.Error(err))
	}
	communityService, err := billingapp.NewCommunityService(st, logger.Named("community"))
	if err != nil {
		logger.Fatal("community service error", zap.Error(err))
	}

	periodHandler, err := apihttp.NewPeriodHandler(periodService, billService, balanceService, apihttp.BudgetDefaults{
		Main:         cfg.MainYearBudget(),
		Conservation: cfg.ConservationYearBudget(),
	}, logger.Named("http"))
	if err != nil {
		logger.Fatal("period handler error", zap.Error(err))
	}
	communityHandler, err := apihttp.NewCommunityHandler(communityService)
	if err != nil {
		logger.Fatal("community handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/periods", periodHandler)
	mux.Handle("/api/v1/periods/", periodHandler)
	communityHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           tracing.Middleware(apihttp.LoggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

// openStore returns the configured store and, for postgres, its handle for
// the DB-backed gauges.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, *sql.DB, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil, nil
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger.Named("postgres"))
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, pg.DB(), nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
