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

	"urembo-be/internal/cache"
	"urembo-be/internal/config"
	"urembo-be/internal/daraja"
	"urembo-be/internal/db"
	"urembo-be/internal/events"
	"urembo-be/internal/logger"
	"urembo-be/internal/metrics"
	"urembo-be/internal/middleware"
	"urembo-be/internal/payment"
	"urembo-be/internal/utils"

	"github.com/go-chi/chi/v5"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = func(srv *http.Server) error {
		return srv.ListenAndServe()
	}
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server exited", zap.Error(err))
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database := initDBFunc(cfg)
	defer database.Close()

	handler, cleanup := newServer(ctx, cfg, database)
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("payment API listening",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.AppEnv),
			zap.String("mpesa_env", cfg.Mpesa.Environment),
		)
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer wires the payment stack. The returned cleanup closes the
// connections it opened.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) (http.Handler, func()) {
	reg := metrics.NewRegistry()

	rdb := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	inProgress := cache.NewRedisStore(rdb, cfg.InProgressTTL)

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)

	dj := daraja.NewClient(daraja.Config{
		BaseURL:        daraja.BaseURLFor(cfg.Mpesa.Environment),
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
	})

	paymentRepo := payment.NewRepository(database)
	paymentSvc := payment.NewService(paymentRepo, dj, inProgress, publisher, reg, cfg.Mpesa.Environment)
	paymentHandler := payment.NewHandler(paymentSvc, cfg.Mpesa.CallbackToken)

	limiter := middleware.NewRateLimiter(ctx, cfg.InternalKey)

	router := setupRouter(cfg, paymentHandler.Routes(), limiter, reg)

	cleanup := func() {
		if err := publisher.Close(); err != nil {
			logger.L().Warn("closing event publisher", zap.Error(err))
		}
		if err := rdb.Close(); err != nil {
			logger.L().Warn("closing redis client", zap.Error(err))
		}
	}
	return router, cleanup
}

func setupRouter(cfg *config.Config, mpesaRoutes http.Handler, limiter *middleware.RateLimiter, reg *metrics.Registry) chi.Router {
	r := chi.NewRouter()
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.Auth([]byte(cfg.JWTSecret)))
	r.Use(limiter.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, reg.Snapshot())
	})
	r.Mount("/mpesa", mpesaRoutes)

	return r
}
