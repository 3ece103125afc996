package delivery

import (
	"context"
	"time"
)

// Stager is the only ledger operation available to command handlers.
// Staging an already known correlation id is a no-op and reports false.
type Stager interface {
	Stage(ctx context.Context, env Envelope) (bool, error)
}

// Store owns every state transition of a Record.
type Store interface {
	Stager

	Get(ctx context.Context, correlationID string) (*Record, error)

	// Lease claims up to limit due staged records for owner until
	// now+leaseFor and counts the attempt.
	Lease(ctx context.Context, owner string, now time.Time, limit int, leaseFor time.Duration) ([]Record, error)
	// MarkPushed moves a leased record to pushed.
	MarkPushed(ctx context.Context, correlationID, owner string, now time.Time) error
	// MarkRetry releases a leased record back to staged, due at next.
	MarkRetry(ctx context.Context, correlationID, owner string, next time.Time, reason string) error

	// Acknowledge moves a pushed (or redelivery-pending) record to
	// acknowledged on behalf of its recipient. It reports false when the
	// record was already acknowledged.
	Acknowledge(ctx context.Context, correlationID, recipient string, now time.Time) (bool, error)

	// RequeueUnacknowledged returns pushed records older than pushedBefore
	// to staged.
	RequeueUnacknowledged(ctx context.Context, pushedBefore, now time.Time) (int, error)
	// Expire marks up to limit unfinished records past their retention as
	// expired and returns them.
	Expire(ctx context.Context, now time.Time, limit int) ([]Record, error)
	// Purge deletes terminal records last updated before before.
	Purge(ctx context.Context, before time.Time) (int, error)
	// MakeDue pulls every staged record of recipient forward to now.
	MakeDue(ctx context.Context, recipient string, now time.Time) (int, error)
	// Pending counts records that are staged or pushed.
	Pending(ctx context.Context) (int64, error)
}

// Transport pushes an envelope to a live connection of its recipient.
// delivered is false when no connection took it.
type Transport interface {
	Push(ctx context.Context, env Envelope) (delivered bool, err error)
}

// Locker guards relay maintenance so only one instance runs it at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
