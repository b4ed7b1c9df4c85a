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

	"github.com/suPer8Hu/ai-analytics/internal/analytics"
	"github.com/suPer8Hu/ai-analytics/internal/app"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"github.com/suPer8Hu/ai-analytics/internal/db"
	"github.com/suPer8Hu/ai-analytics/internal/httpapi"
	"github.com/suPer8Hu/ai-analytics/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)

	a, err := app.Build(ctx, cfg, gdb)
	if err != nil {
		log.Fatalf("api: build: %v", err)
	}
	defer a.Close()

	if err := a.Repo.AutoMigrate(); err != nil {
		log.Fatalf("api: migrate: %v", err)
	}

	// async jobs are optional; without a broker /aiAnalytics/jobs answers 503
	var publisher analytics.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("api: rabbit unavailable, jobs disabled: %v", err)
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, a.Service(publisher)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api: listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api: listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("api: shutdown: %v", err)
	}
}
