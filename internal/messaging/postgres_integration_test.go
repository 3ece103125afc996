//go:build integration

package messaging_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbox/internal/delivery"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/internal/messaging"
	"postbox/internal/testinfra"
	"postbox/internal/transaction"
	"postbox/internal/validation"
	pkgerrors "postbox/pkg/errors"
)

type pipeline struct {
	db       *sql.DB
	store    *delivery.PostgresStore
	mediator *mediator.Mediator
	alice    int64
	bob      int64
}

// newPipeline wires the real repositories. wrap, when set, decorates the
// ledger stager.
func newPipeline(t *testing.T, wrap func(delivery.Stager) delivery.Stager) *pipeline {
	t.Helper()

	db := testinfra.Postgres(t)
	p := &pipeline{
		db:    db,
		store: delivery.NewPostgresStore(db, time.Hour),
		alice: testinfra.CreateUser(t, db, "alice"),
		bob:   testinfra.CreateUser(t, db, "bob"),
	}
	var stager delivery.Stager = p.store
	if wrap != nil {
		stager = wrap(stager)
	}

	v, err := validation.New(nil)
	require.NoError(t, err)

	messages := messaging.NewMessageRepository(db)
	create := messaging.NewCreateMessageHandler(
		messaging.NewPostgresDirectory(db),
		messages,
		transaction.NewSQLUnitOfWork(db),
		stager,
		logger.NopLogger(),
	)

	p.mediator = mediator.New(validation.Behavior(v))
	require.NoError(t, messaging.Register(p.mediator, create, messaging.NewQueryHandler(messages)))
	return p
}

func (p *pipeline) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, p.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestCreateMessage_PersistsAndStagesTogether(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	resp, err := mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](ctx, p.mediator,
		messaging.CreateMessage{SenderID: p.alice, RecipientID: p.bob, Content: "hi", CorrelationID: "abc"})
	require.NoError(t, err)
	assert.Greater(t, resp.ID, int64(0))
	assert.Equal(t, "sent", resp.Status)

	rec, err := p.store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusStaged, rec.Status)
	assert.Equal(t, resp.ID, rec.Envelope.MessageID)
	assert.Equal(t, "hi", rec.Envelope.Content)

	msg, err := mediator.Send[messaging.GetMessage, messaging.Message](ctx, p.mediator, messaging.GetMessage{ID: resp.ID})
	require.NoError(t, err)
	assert.Equal(t, "abc", msg.CorrelationID)
	assert.True(t, msg.IsPrivate)
}

func TestCreateMessage_DuplicateCorrelationIDConflicts(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()
	cmd := messaging.CreateMessage{SenderID: p.alice, RecipientID: p.bob, Content: "hi", CorrelationID: "dup"}

	_, err := mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](ctx, p.mediator, cmd)
	require.NoError(t, err)

	_, err = mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](ctx, p.mediator, cmd)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, 1, p.count(t, "messages"))
	assert.Equal(t, 1, p.count(t, "delivery_records"))
}

type failingStager struct{}

func (failingStager) Stage(context.Context, delivery.Envelope) (bool, error) {
	return false, errors.New("ledger unavailable")
}

func TestCreateMessage_StagingFailureLeavesNoMessage(t *testing.T) {
	p := newPipeline(t, func(delivery.Stager) delivery.Stager { return failingStager{} })

	_, err := mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](context.Background(), p.mediator,
		messaging.CreateMessage{SenderID: p.alice, RecipientID: p.bob, Content: "hi"})

	assert.True(t, pkgerrors.IsDeliveryStaging(err))
	assert.Equal(t, 0, p.count(t, "messages"))
}

// cancellingStager cancels the request after the message row is written,
// before commit.
type cancellingStager struct {
	next   delivery.Stager
	cancel context.CancelFunc
}

func (s cancellingStager) Stage(ctx context.Context, env delivery.Envelope) (bool, error) {
	ok, err := s.next.Stage(ctx, env)
	s.cancel()
	return ok, err
}

func TestCreateMessage_CancelBeforeCommitRollsBackBoth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newPipeline(t, func(next delivery.Stager) delivery.Stager {
		return cancellingStager{next: next, cancel: cancel}
	})

	_, err := mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](ctx, p.mediator,
		messaging.CreateMessage{SenderID: p.alice, RecipientID: p.bob, Content: "hi", CorrelationID: "cancelled"})
	require.Error(t, err)

	assert.Equal(t, 0, p.count(t, "messages"))
	assert.Equal(t, 0, p.count(t, "delivery_records"))
}

func TestListConversation_Pages(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	for _, content := range []string{"1", "2", "3", "4", "5"} {
		_, err := mediator.Send[messaging.CreateMessage, messaging.CreateMessageResponse](ctx, p.mediator,
			messaging.CreateMessage{SenderID: p.alice, RecipientID: p.bob, Content: content})
		require.NoError(t, err)
	}

	page, err := mediator.Send[messaging.ListConversation, messaging.Conversation](ctx, p.mediator,
		messaging.ListConversation{UserID: p.bob, PeerID: p.alice, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "5", page.Messages[0].Content)

	page, err = mediator.Send[messaging.ListConversation, messaging.Conversation](ctx, p.mediator,
		messaging.ListConversation{UserID: p.bob, PeerID: p.alice, Limit: 3, BeforeID: page.NextBeforeID})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "2", page.Messages[0].Content)
	assert.Zero(t, page.NextBeforeID)
}
