package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"postbox/internal/config"
	"postbox/internal/constants"
	"postbox/internal/logger"
	"postbox/pkg/metrics"
	"postbox/pkg/retry"
	"postbox/pkg/tracing"
)

// Relay drives staged records to the transport. Several relays may share a
// ledger: leasing keeps them off each other's records and maintenance runs
// under a lock.
type Relay struct {
	store     Store
	transport Transport
	locker    Locker
	events    EventPublisher
	archive   Archiver

	cfg    config.DeliveryConfig
	policy retry.Policy
	owner  string
	now    func() time.Time
	log    logger.Logger

	wake chan struct{}
}

type RelayOption func(*Relay)

func WithLocker(l Locker) RelayOption {
	return func(r *Relay) { r.locker = l }
}

func WithEventPublisher(p EventPublisher) RelayOption {
	return func(r *Relay) { r.events = p }
}

func WithArchiver(a Archiver) RelayOption {
	return func(r *Relay) { r.archive = a }
}

func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

func NewRelay(store Store, transport Transport, cfg config.DeliveryConfig, log logger.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		transport: transport,
		events:    nopEvents{},
		cfg:       cfg,
		policy: retry.Policy{
			InitialInterval: cfg.Backoff.InitialInterval,
			MaxInterval:     cfg.Backoff.MaxInterval,
			Multiplier:      cfg.Backoff.Multiplier,
		},
		owner: "relay-" + uuid.NewString(),
		now:   time.Now,
		log:   log.With("component", "delivery_relay"),
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify wakes the relay without blocking. Signals coalesce.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run sweeps on every tick and wake-up until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Infow("Delivery relay started", "owner", r.owner, "poll_interval", r.cfg.PollInterval)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.Errorw("Delivery sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.log.Infow("Delivery relay stopped", "owner", r.owner)
			return nil
		case <-r.wake:
		case <-ticker.C:
			if err := r.Maintain(ctx); err != nil && ctx.Err() == nil {
				r.log.Errorw("Delivery maintenance failed", "error", err)
			}
		}
	}
}

// Sweep pushes every due record and returns how many reached a live
// connection.
func (r *Relay) Sweep(ctx context.Context) (pushed int, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "delivery.sweep", attribute.String("relay.owner", r.owner))
	defer func() {
		span.SetAttributes(attribute.Int("delivery.pushed", pushed))
		tracing.End(span, err)
		metrics.ObserveRelaySweep(time.Since(start))
	}()

	for {
		records, err := r.store.Lease(ctx, r.owner, r.now().UTC(), r.cfg.BatchSize, r.cfg.LeaseDuration)
		if err != nil {
			return pushed, err
		}

		for _, rec := range records {
			if ctx.Err() != nil {
				return pushed, ctx.Err()
			}
			if r.deliver(ctx, rec) {
				pushed++
			}
		}

		if len(records) < r.cfg.BatchSize {
			return pushed, nil
		}
	}
}

func (r *Relay) deliver(ctx context.Context, rec Record) bool {
	pushCtx, cancel := context.WithTimeout(ctx, r.cfg.LeaseDuration)
	delivered, err := r.transport.Push(pushCtx, rec.Envelope)
	cancel()

	if err != nil || !delivered {
		reason := "recipient offline"
		metricReason := "offline"
		if err != nil {
			reason = err.Error()
			metricReason = "error"
		}
		metrics.IncDeliveryPushFailure(metricReason)

		delay := r.policy.NextDelay(rec.Attempts)
		if delay <= 0 {
			delay = r.cfg.PollInterval
		}
		next := r.now().UTC().Add(delay)
		if markErr := r.store.MarkRetry(ctx, rec.CorrelationID, r.owner, next, reason); markErr != nil {
			r.log.WarnwCtx(ctx, "Failed to reschedule delivery",
				"correlation_id", rec.CorrelationID, "error", markErr)
			return false
		}

		r.log.DebugwCtx(ctx, "Delivery rescheduled",
			"correlation_id", rec.CorrelationID,
			"recipient", rec.Recipient,
			"attempts", rec.Attempts,
			"next_attempt_at", next,
			"reason", reason,
		)
		return false
	}

	now := r.now().UTC()
	if err := r.store.MarkPushed(ctx, rec.CorrelationID, r.owner, now); err != nil {
		// The recipient may have acknowledged before the lease was released.
		r.log.DebugwCtx(ctx, "Pushed delivery not marked", "correlation_id", rec.CorrelationID, "error", err)
		return true
	}

	metrics.IncDeliveryTransition(string(StatusPushed))
	rec.Status = StatusPushed
	rec.PushedAt = &now
	r.publish(ctx, NewEvent(EventPushed, rec, now))
	return true
}

// Maintain requeues unacknowledged pushes, expires and archives records past
// retention and purges old terminal records. Only one relay maintains a
// ledger at a time.
func (r *Relay) Maintain(ctx context.Context) (err error) {
	if r.locker != nil {
		release, ok, lockErr := r.locker.TryLock(ctx, constants.RelayLockKey, r.cfg.LockTTL)
		if lockErr != nil {
			return fmt.Errorf("failed to acquire maintenance lock: %w", lockErr)
		}
		if !ok {
			return nil
		}
		defer release()
	}

	ctx, span := tracing.StartSpan(ctx, "delivery.maintain")
	defer func() { tracing.End(span, err) }()

	now := r.now().UTC()

	requeued, err := r.store.RequeueUnacknowledged(ctx, now.Add(-r.cfg.AckTimeout), now)
	if err != nil {
		return err
	}
	if requeued > 0 {
		metrics.AddDeliveryTransitions(string(StatusStaged), requeued)
		r.log.InfowCtx(ctx, "Requeued unacknowledged deliveries", "count", requeued)
		r.Notify()
	}

	for {
		expired, err := r.store.Expire(ctx, now, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(expired) > 0 {
			r.expired(ctx, expired, now)
		}
		if len(expired) < r.cfg.BatchSize {
			break
		}
	}

	if r.cfg.PurgeAfter > 0 {
		purged, err := r.store.Purge(ctx, now.Add(-r.cfg.PurgeAfter))
		if err != nil {
			return err
		}
		if purged > 0 {
			r.log.InfowCtx(ctx, "Purged finished deliveries", "count", purged)
		}
	}

	pending, err := r.store.Pending(ctx)
	if err != nil {
		return err
	}
	metrics.SetDeliveryPending(pending)
	return nil
}

func (r *Relay) expired(ctx context.Context, records []Record, now time.Time) {
	metrics.AddDeliveryTransitions(string(StatusExpired), len(records))
	r.log.WarnwCtx(ctx, "Deliveries expired", "count", len(records))

	if r.archive != nil {
		if err := r.archive.Archive(ctx, records); err != nil {
			r.log.ErrorwCtx(ctx, "Failed to archive expired deliveries", "count", len(records), "error", err)
		}
	}
	for _, rec := range records {
		r.publish(ctx, NewEvent(EventExpired, rec, now))
	}
}

// Backfill makes every staged record of recipient due now and wakes the
// relay. It runs when the recipient connects.
func (r *Relay) Backfill(ctx context.Context, recipient string) (int, error) {
	n, err := r.store.MakeDue(ctx, recipient, r.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.DebugwCtx(ctx, "Backfilling deliveries", "recipient", recipient, "count", n)
	}
	r.Notify()
	return n, nil
}

func (r *Relay) publish(ctx context.Context, ev Event) {
	if err := r.events.Publish(ctx, ev); err != nil {
		r.log.WarnwCtx(ctx, "Failed to publish delivery event",
			"event", ev.Type, "correlation_id", ev.CorrelationID, "error", err)
	}
}
