// README: Outbox relay process; publishes committed order events to Kafka until SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"drop/internal/config"
	"drop/internal/infra"
	"drop/internal/modules/outbox"
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

	writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers(), cfg.Kafka.Topic)
	if err != nil {
		logger.Fatal("kafka init", zap.Error(err))
	}
	defer func() { _ = writer.Close() }()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db init", zap.Error(err))
	}
	defer dbPool.Close()

	relay := outbox.NewRelay(outbox.NewStore(dbPool), writer, logger.Named("outbox"), cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
	logger.Info("outbox relay started",
		zap.String("topic", cfg.Kafka.Topic),
		zap.Duration("interval", cfg.Outbox.PollInterval),
	)
	relay.Run(ctx)
	logger.Info("outbox relay stopped")
}
