package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one job. A returned error schedules a retry until
// MaxAttempts is reached, then the delivery goes to the DLQ.
type Handler func(ctx context.Context, m JobMessage) error

type ConsumerConfig struct {
	URL         string
	Queue       string
	Concurrency int
	MaxAttempts int
}

// Consume runs a bounded worker pool until ctx is done.
func Consume(ctx context.Context, cfg ConsumerConfig, handle Handler) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := DeclareTopology(ch, cfg.Queue); err != nil {
		return err
	}
	// strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("worker started, queue=%s concurrency=%d max_attempts=%d", cfg.Queue, cfg.Concurrency, cfg.MaxAttempts)

	jobs := make(chan amqp.Delivery, cfg.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				process(ctx, ch, cfg, workerID, d, handle)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				close(jobs)
				wg.Wait()
				return amqp.ErrClosed
			}
			jobs <- d
		}
	}
}

func process(ctx context.Context, ch *amqp.Channel, cfg ConsumerConfig, workerID int, d amqp.Delivery, handle Handler) {
	var m JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	attempt := attemptOf(d)
	start := time.Now()
	err := handle(ctx, m)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
		}
		return
	}

	log.Printf("worker=%d job %s attempt=%d failed cost=%s err=%v", workerID, m.JobID, attempt, time.Since(start), err)
	if attempt < cfg.MaxAttempts {
		if perr := publish(ctx, ch, cfg.Queue+".retry", m, attempt+1, retryDelay); perr == nil {
			_ = d.Ack(false)
			return
		}
	}
	_ = d.Nack(false, false)
}
