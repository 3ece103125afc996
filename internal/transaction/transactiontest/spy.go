// Package transactiontest provides an in-memory UnitOfWork that records how
// transactions were used.
package transactiontest

import (
	"context"
	"sync"

	"postbox/internal/transaction"
)

type Spy struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int

	// BeginErr and CommitErr force failures.
	BeginErr  error
	CommitErr error

}

func NewSpy() *Spy {
	return &Spy{}
}

type spyTxKey struct{}

type spyTx struct {
	spy  *Spy
	done bool

	commitHooks   []func()
	rollbackHooks []func()
}

func (s *Spy) Begin(ctx context.Context) (context.Context, transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BeginErr != nil {
		return ctx, nil, s.BeginErr
	}
	s.begins++

	tx := &spyTx{spy: s}
	return context.WithValue(ctx, spyTxKey{}, tx), tx, nil
}

// OnCommit registers fn to run when the transaction bound to ctx commits.
// Outside a transaction fn runs immediately. Fakes use it to buffer writes.
func OnCommit(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(spyTxKey{}).(*spyTx); ok {
		tx.commitHooks = append(tx.commitHooks, fn)
		return
	}
	fn()
}

// OnRollback registers fn to run if the transaction bound to ctx rolls back.
func OnRollback(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(spyTxKey{}).(*spyTx); ok {
		tx.rollbackHooks = append(tx.rollbackHooks, fn)
	}
}

func (t *spyTx) Commit() error {
	t.spy.mu.Lock()
	if t.done {
		t.spy.mu.Unlock()
		return nil
	}
	if err := t.spy.CommitErr; err != nil {
		t.spy.mu.Unlock()
		return err
	}
	t.done = true
	t.spy.commits++
	t.spy.mu.Unlock()

	for _, fn := range t.commitHooks {
		fn()
	}
	return nil
}

func (t *spyTx) Rollback() error {
	t.spy.mu.Lock()
	if t.done {
		t.spy.mu.Unlock()
		return nil
	}
	t.done = true
	t.spy.rollbacks++
	t.spy.mu.Unlock()

	for _, fn := range t.rollbackHooks {
		fn()
	}
	return nil
}

func (s *Spy) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

func (s *Spy) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Spy) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}
