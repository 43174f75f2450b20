package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/logging"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	name := cfg.ServiceName + "-inventory"
	logger, err := logging.New(name, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokers := cfg.Brokers()
	if len(brokers) == 0 || cfg.RedisAddr == "" {
		logger.Fatal("inventory watcher needs KAFKA_BROKERS and REDIS_ADDR")
	}
	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	w := &inventory.Watcher{Redis: rdb, Log: logger, Threshold: cfg.LowStockThreshold}
	cons := kafkax.NewConsumer(brokers, cfg.InventoryGroup, orders.TopicOrderCheckedOut, cfg.InventoryWorkers, logger.Named("consumer"))

	logger.Info("inventory watcher started",
		zap.String("group", cfg.InventoryGroup),
		zap.String("topic", orders.TopicOrderCheckedOut),
		zap.Int("workers", cfg.InventoryWorkers),
		zap.Int("low_stock_threshold", cfg.LowStockThreshold))
	if err := cons.Start(ctx, w.HandleCheckedOut); err != nil {
		logger.Error("consumer exit", zap.Error(err))
		return
	}
	logger.Info("inventory watcher stopped")
}
