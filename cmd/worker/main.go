package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/suPer8Hu/ai-analytics/internal/app"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"github.com/suPer8Hu/ai-analytics/internal/db"
	"github.com/suPer8Hu/ai-analytics/internal/store/rabbitmq"
)

func envBounded(key string, def, max int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)

	a, err := app.Build(ctx, cfg, gdb)
	if err != nil {
		log.Fatalf("worker: build: %v", err)
	}
	defer a.Close()

	if err := a.Repo.AutoMigrate(); err != nil {
		log.Fatalf("worker: migrate: %v", err)
	}

	// the worker only answers jobs, it never enqueues
	svc := a.Service(nil)

	err = rabbitmq.Consume(ctx, rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitURL,
		Queue:       cfg.RabbitQueue,
		Concurrency: envBounded("WORKER_CONCURRENCY", 2, 50),
		MaxAttempts: envBounded("WORKER_MAX_ATTEMPTS", 3, 10),
	}, func(ctx context.Context, m rabbitmq.JobMessage) error {
		return svc.RunJob(ctx, m.JobID)
	})
	if err != nil {
		log.Fatalf("worker: consume: %v", err)
	}
}
