//go:build integration

package delivery_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/internal/delivery"
	"postbox/internal/testinfra"
	"postbox/internal/transaction"
	pkgerrors "postbox/pkg/errors"
)

func envelope(id, to string) delivery.Envelope {
	return delivery.Envelope{
		Type:          delivery.EnvelopeNewMessage,
		MessageID:     1,
		From:          "1",
		To:            to,
		Content:       "hi",
		IsPrivate:     true,
		CorrelationID: id,
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresStore_StageIsIdempotentUnderConcurrency(t *testing.T) {
	db := testinfra.Postgres(t)
	store := delivery.NewPostgresStore(db, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Stage(ctx, envelope("dup", "2"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)

	rec, err := store.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusStaged, rec.Status)
	assert.Equal(t, "2", rec.Recipient)
	assert.Equal(t, "hi", rec.Envelope.Content)
}

func TestPostgresStore_StageJoinsTransaction(t *testing.T) {
	db := testinfra.Postgres(t)
	store := delivery.NewPostgresStore(db, time.Hour)
	uow := transaction.NewSQLUnitOfWork(db)
	ctx := context.Background()

	_, err := transaction.Within(ctx, uow, func(ctx context.Context) error {
		if _, err := store.Stage(ctx, envelope("rolled-back", "2")); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	_, err = store.Get(ctx, "rolled-back")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresStore_LeaseIsExclusive(t *testing.T) {
	db := testinfra.Postgres(t)
	store := delivery.NewPostgresStore(db, time.Hour)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Stage(ctx, envelope(fmt.Sprintf("c-%d", i), "2"))
		require.NoError(t, err)
	}

	now := time.Now().UTC().Add(time.Second)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]string{}
	)
	for _, owner := range []string{"relay-a", "relay-b", "relay-c"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			records, err := store.Lease(ctx, owner, now, 4, time.Minute)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, rec := range records {
				prev, dup := seen[rec.CorrelationID]
				assert.False(t, dup, "%s leased by %s and %s", rec.CorrelationID, prev, owner)
				seen[rec.CorrelationID] = owner
				assert.Equal(t, 1, rec.Attempts)
			}
		}(owner)
	}
	wg.Wait()

	assert.Len(t, seen, 10)
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	db := testinfra.Postgres(t)
	store := delivery.NewPostgresStore(db, time.Hour)
	ctx := context.Background()

	_, err := store.Stage(ctx, envelope("life", "2"))
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Second)
	leased, err := store.Lease(ctx, "relay-a", now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	err = store.MarkPushed(ctx, "life", "relay-b", now)
	assert.True(t, pkgerrors.IsConflict(err))

	require.NoError(t, store.MarkPushed(ctx, "life", "relay-a", now))

	rec, err := store.Get(ctx, "life")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPushed, rec.Status)
	require.NotNil(t, rec.PushedAt)

	n, err := store.RequeueUnacknowledged(ctx, now.Add(time.Second), now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err = store.Get(ctx, "life")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusStaged, rec.Status)
	assert.Equal(t, "acknowledgment timed out", rec.LastError)

	_, err = store.Acknowledge(ctx, "life", "3", now)
	assert.True(t, pkgerrors.IsNotFound(err))

	changed, err := store.Acknowledge(ctx, "life", "2", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.Acknowledge(ctx, "life", "2", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	purged, err := store.Purge(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestPostgresStore_RetryAndBackfill(t *testing.T) {
	db := testinfra.Postgres(t)
	store := delivery.NewPostgresStore(db, time.Hour)
	ctx := context.Background()

	_, err := store.Stage(ctx, envelope("offline", "2"))
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Second)
	_, err = store.Lease(ctx, "relay-a", now, 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.MarkRetry(ctx, "offline", "relay-a", now.Add(time.Hour), "recipient offline"))

	leased, err := store.Lease(ctx, "relay-a", now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)

	n, err := store.MakeDue(ctx, "2", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	leased, err = store.Lease(ctx, "relay-a", now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 2, leased[0].Attempts)
	assert.Equal(t, "recipient offline", leased[0].LastError)
}

func TestPostgresStore_Expire(t *testing.T) {
	db := testinfra.Postgres(t)
	store := delivery.NewPostgresStore(db, time.Minute)
	ctx := context.Background()

	_, err := store.Stage(ctx, envelope("old", "2"))
	require.NoError(t, err)

	expired, err := store.Expire(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = store.Expire(ctx, time.Now().UTC().Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, delivery.StatusExpired, expired[0].Status)

	_, err = store.Acknowledge(ctx, "old", "2", time.Now().UTC())
	assert.True(t, pkgerrors.IsConflict(err))
}
