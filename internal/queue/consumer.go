package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/core"
	"github.com/TomSB1423/networth/internal/events"
	"github.com/TomSB1423/networth/internal/provider"
)

const (
	maxDeliveries    = 5
	fetchBatchSize   = 10
	fetchWait        = 5 * time.Second
	retryBackoffStep = 30 * time.Second
	retryBackoffMax  = 5 * time.Minute
)

// SyncHandler executes an account sync job.
type SyncHandler interface {
	SyncAccount(ctx context.Context, accountID string) error
}

// RecalcHandler executes a running balance recalculation job.
type RecalcHandler interface {
	RecalculateRunningBalance(ctx context.Context, accountID string) error
}

// Consumer pulls jobs from the two JetStream work queues and runs them
// against the core services.
type Consumer struct {
	js      nats.JetStreamContext
	syncer  SyncHandler
	recalcs RecalcHandler
	logger  *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(js nats.JetStreamContext, syncer SyncHandler, recalcs RecalcHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		js:      js,
		syncer:  syncer,
		recalcs: recalcs,
		logger:  logger.Named("consumer"),
	}
}

// Run subscribes to both queues and processes jobs until the context is
// cancelled. It blocks.
func (c *Consumer) Run(ctx context.Context) error {
	syncSub, err := c.subscribe(events.SubjectAccountSync, "account-sync-worker")
	if err != nil {
		return err
	}
	defer syncSub.Unsubscribe()

	recalcSub, err := c.subscribe(events.SubjectCalculateRunningBalance, "running-balance-worker")
	if err != nil {
		return err
	}
	defer recalcSub.Unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.consume(ctx, syncSub, c.handleSync)
	}()
	go func() {
		defer wg.Done()
		c.consume(ctx, recalcSub, c.handleRecalc)
	}()
	wg.Wait()
	return nil
}

func (c *Consumer) subscribe(subject, durable string) (*nats.Subscription, error) {
	// The retry budget lives in redeliveryDisposition, not in a server-side
	// MaxDeliver: the server counts every redelivery, including the ones a
	// rate limit naks, and would stop redelivering without any signal here.
	return c.js.PullSubscribe(subject, durable,
		nats.AckExplicit(),
		nats.AckWait(2*time.Minute),
	)
}

func (c *Consumer) consume(ctx context.Context, sub *nats.Subscription, handle func(context.Context, *nats.Msg)) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to fetch jobs", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			handle(ctx, msg)
		}
	}
}

func (c *Consumer) handleSync(ctx context.Context, msg *nats.Msg) {
	var payload events.AccountSyncPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logger.Error("Failed to unmarshal sync job, dropping", zap.Error(err))
		msg.Term()
		return
	}

	err := c.syncer.SyncAccount(ctx, payload.AccountID)
	c.settle(msg, "account sync", payload.AccountID, err)
}

func (c *Consumer) handleRecalc(ctx context.Context, msg *nats.Msg) {
	var payload events.RunningBalancePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logger.Error("Failed to unmarshal recalc job, dropping", zap.Error(err))
		msg.Term()
		return
	}

	err := c.recalcs.RecalculateRunningBalance(ctx, payload.AccountID)
	c.settle(msg, "running balance recalc", payload.AccountID, err)
}

// settle acks, terminates or schedules redelivery for a finished job.
func (c *Consumer) settle(msg *nats.Msg, job, accountID string, err error) {
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ack job", zap.String("job", job), zap.Error(ackErr))
		}
		return
	}

	attempt := deliveryAttempt(msg)
	delay, terminal := redeliveryDisposition(err, attempt)
	if terminal {
		c.logger.Error("Job failed permanently",
			zap.String("job", job),
			zap.String("account_id", accountID),
			zap.Uint64("attempt", attempt),
			zap.Error(err))
		msg.Term()
		return
	}

	c.logger.Warn("Job failed, scheduling redelivery",
		zap.String("job", job),
		zap.String("account_id", accountID),
		zap.Uint64("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		c.logger.Warn("Failed to nak job", zap.String("job", job), zap.Error(nakErr))
	}
}

func deliveryAttempt(msg *nats.Msg) uint64 {
	meta, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return meta.NumDelivered
}

// redeliveryDisposition decides what to do with a failed job: a redelivery
// delay, or terminal failure when retrying cannot help or the attempt budget
// is spent. Rate limits are retried after exactly the delay the provider
// signalled and do not count against the budget.
func redeliveryDisposition(err error, attempt uint64) (time.Duration, bool) {
	var rateLimited *provider.RateLimitedError
	if errors.As(err, &rateLimited) {
		return rateLimited.RetryAfter, false
	}

	var notFound *core.NotFoundError
	var invalid *core.ValidationError
	if errors.As(err, &notFound) || errors.As(err, &invalid) {
		return 0, true
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		return 0, true
	}

	if attempt >= maxDeliveries {
		return 0, true
	}

	delay := retryBackoffStep * time.Duration(attempt)
	if delay > retryBackoffMax {
		delay = retryBackoffMax
	}
	return delay, false
}
