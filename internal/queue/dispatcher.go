// Package queue carries the background jobs between the API side and the
// sync workers over NATS JetStream. Delivery is at-least-once with explicit
// acks, so both job handlers are idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/events"
)

// Dispatcher publishes sync jobs to JetStream. It implements
// core.Dispatcher.
type Dispatcher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewDispatcher creates a new dispatcher and ensures both job streams exist.
func NewDispatcher(js nats.JetStreamContext, logger *zap.Logger) (*Dispatcher, error) {
	streams := []struct {
		name    string
		subject string
	}{
		{events.StreamAccountSync, events.SubjectAccountSync},
		{events.StreamRunningBalance, events.SubjectCalculateRunningBalance},
	}
	for _, stream := range streams {
		if err := ensureStream(js, stream.name, stream.subject); err != nil {
			return nil, err
		}
	}

	return &Dispatcher{
		js:     js,
		logger: logger.Named("dispatcher"),
	}, nil
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	return nil
}

// EnqueueAccountSync publishes an account sync job.
func (d *Dispatcher) EnqueueAccountSync(ctx context.Context, accountID string) error {
	return d.publish(ctx, events.SubjectAccountSync, events.AccountSyncPayload{AccountID: accountID})
}

// EnqueueRunningBalanceRecalc publishes a running balance recalculation job.
func (d *Dispatcher) EnqueueRunningBalanceRecalc(ctx context.Context, accountID string) error {
	return d.publish(ctx, events.SubjectCalculateRunningBalance, events.RunningBalancePayload{AccountID: accountID})
}

func (d *Dispatcher) publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if _, err := d.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	d.logger.Debug("Job enqueued", zap.String("subject", subject))
	return nil
}
