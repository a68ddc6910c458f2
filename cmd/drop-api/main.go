// README: Entry point; loads config, wires the order engine and serves the role APIs until SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drop/internal/config"
	httptransport "drop/internal/http"
	"drop/internal/infra"
	"drop/internal/metrics"
	"drop/internal/modules/earnings"
	"drop/internal/modules/order"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := infra.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		logger.Fatal("DROP_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("firebase init", zap.Error(err))
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer func() { _ = redisClient.Close() }()

	share, err := cfg.RiderShare()
	if err != nil {
		logger.Fatal("earnings.rider_share", zap.Error(err))
	}

	metrics.Register()

	ledger := earnings.NewLedger(share, nil)
	orderSvc := order.NewService(order.NewTransactor(dbPool), ledger, logger.Named("order"))
	earningsSvc := earnings.NewService(earnings.NewStore(dbPool))

	gin.SetMode(gin.ReleaseMode)
	router, err := httptransport.NewRouter(httptransport.RouterDeps{
		Order:     orderSvc,
		Earnings:  earningsSvc,
		Verifier:  verifier,
		Responses: infra.NewResponseCache(redisClient, cfg.Redis.IdempotencyTTL),
		Log:       logger.Named("http"),
	})
	if err != nil {
		logger.Fatal("router init", zap.Error(err))
	}

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("drop api listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http serve", zap.Error(err))
	}
}
