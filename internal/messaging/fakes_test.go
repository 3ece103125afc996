package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"postbox/internal/delivery"
	"postbox/internal/transaction/transactiontest"
	pkgerrors "postbox/pkg/errors"
)

type fakeDirectory struct {
	users map[int64]*User
	err   error
	calls int
}

func newFakeDirectory(ids ...int64) *fakeDirectory {
	d := &fakeDirectory{users: make(map[int64]*User)}
	for _, id := range ids {
		d.users[id] = &User{ID: id, Username: "user"}
	}
	return d
}

func (d *fakeDirectory) Resolve(_ context.Context, id int64) (*User, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.users[id], nil
}

// fakeMessages makes rows visible only once the surrounding spy
// transaction commits. It trims content to stand in for storage-side
// normalization.
type fakeMessages struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]Message
	createErr error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: make(map[int64]Message)}
}

func (r *fakeMessages) Create(ctx context.Context, msg *Message) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	r.nextID++
	msg.ID = r.nextID
	r.mu.Unlock()

	msg.Content = strings.TrimSpace(msg.Content)
	row := *msg
	transactiontest.OnCommit(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows[row.ID] = row
	})
	return nil
}

func (r *fakeMessages) Get(_ context.Context, id int64) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.rows[id]
	if !ok {
		return nil, pkgerrors.NotFound("Message", id)
	}
	return &msg, nil
}

func (r *fakeMessages) ListConversation(_ context.Context, userID, peerID, beforeID int64, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Message
	for _, m := range r.rows {
		between := (m.SenderID == userID && m.RecipientID == peerID) || (m.SenderID == peerID && m.RecipientID == userID)
		if between && (beforeID <= 0 || m.ID < beforeID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessages) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeStager struct {
	mu     sync.Mutex
	staged map[string]delivery.Envelope
	err    error
}

func newFakeStager() *fakeStager {
	return &fakeStager{staged: make(map[string]delivery.Envelope)}
}

func (s *fakeStager) Stage(ctx context.Context, env delivery.Envelope) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	_, exists := s.staged[env.CorrelationID]
	s.mu.Unlock()
	if exists {
		return false, nil
	}
	transactiontest.OnCommit(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.staged[env.CorrelationID] = env
	})
	return true, nil
}

func (s *fakeStager) envelopes() []delivery.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery.Envelope, 0, len(s.staged))
	for _, env := range s.staged {
		out = append(out, env)
	}
	return out
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

var errStorage = errors.New("storage unavailable")
