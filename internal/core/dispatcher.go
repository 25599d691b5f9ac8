package core

import "context"

// Dispatcher enqueues background jobs. Delivery is at-least-once, so every
// consumer of these jobs is written to be idempotent.
type Dispatcher interface {
	EnqueueAccountSync(ctx context.Context, accountID string) error
	EnqueueRunningBalanceRecalc(ctx context.Context, accountID string) error
}
