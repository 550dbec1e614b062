package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-relay/internal/app"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

const maxAttempts = 3

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)

	rl, err := app.NewRelay(ctx, cfg, gdb, logger.L())
	if err != nil {
		logger.Fatal("relay setup failed", err)
	}
	defer rl.Close()
	runner := app.NewJobRunner(rl.Orchestrator, logger.L().Named("jobs"))

	concurrency := cfg.WorkerConcurrency
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		logger.Fatal("rabbit consumer", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		logger.Fatal("consume", err)
	}

	go sweepQuota(ctx, rl.Ledger, cfg.QuotaSweepInterval)

	logger.Infow("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, workerID, runner, consumer, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Infow("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warnw("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

type jobHandler interface {
	Handle(ctx context.Context, jobID string) error
	GiveUp(ctx context.Context, jobID string, cause error)
}

type retrier interface {
	Retry(ctx context.Context, d amqp.Delivery, delay time.Duration) error
}

func handleDelivery(ctx context.Context, workerID int, runner jobHandler, consumer retrier, d amqp.Delivery) {
	// deliveries drained after shutdown go back to the broker untouched
	if ctx.Err() != nil {
		_ = d.Nack(false, true)
		return
	}

	m, err := rabbitmq.DecodeJob(d)
	if err != nil {
		logger.Warnw("bad message", "worker", workerID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = runner.Handle(ctx, m.JobID)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			logger.Errorw("ack failed", "worker", workerID, "job_id", m.JobID, "error", err)
		}
	case ctx.Err() != nil:
		logger.Warnw("job interrupted by shutdown, requeued", "worker", workerID, "job_id", m.JobID, "error", err)
		_ = d.Nack(false, true)
	case errors.Is(err, app.ErrJobGone):
		logger.Errorw("job dropped", "worker", workerID, "job_id", m.JobID, "error", err)
		_ = d.Nack(false, false)
	case rabbitmq.Attempt(d)+1 >= maxAttempts:
		logger.Errorw("job dropped after retries", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start), "error", err)
		runner.GiveUp(ctx, m.JobID, err)
		_ = d.Nack(false, false)
	default:
		delay := time.Duration(rabbitmq.Attempt(d)+1) * 5 * time.Second
		logger.Warnw("job retry scheduled", "worker", workerID, "job_id", m.JobID, "delay", delay, "error", err)
		if err := consumer.Retry(ctx, d, delay); err != nil {
			logger.Errorw("retry publish failed", "job_id", m.JobID, "error", err)
			runner.GiveUp(ctx, m.JobID, err)
			_ = d.Nack(false, false)
		}
	}
}

// sweepQuota starts a new window for users whose resetAt has passed.
func sweepQuota(ctx context.Context, ledger *quota.Ledger, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := ledger.ResetExpired(ctx)
		if err != nil {
			logger.Error("quota sweep failed", err)
		} else if n > 0 {
			logger.Infow("quota windows reset", "users", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
