package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	pkgerrors "postbox/pkg/errors"
)

// memStore mirrors the PostgresStore state machine in memory.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*memRecord
	retention time.Duration
	now       func() time.Time
	leaseErr  error
}

type memRecord struct {
	Record
	leaseOwner   string
	leaseExpires time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{records: make(map[string]*memRecord), retention: time.Hour, now: now}
}

func (s *memStore) Stage(_ context.Context, env Envelope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[env.CorrelationID]; ok {
		return false, nil
	}
	now := s.now().UTC()
	s.records[env.CorrelationID] = &memRecord{Record: Record{
		CorrelationID: env.CorrelationID,
		Recipient:     env.To,
		Envelope:      env,
		Status:        StatusStaged,
		NextAttemptAt: now,
		ExpiresAt:     now.Add(s.retention),
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
	return true, nil
}

func (s *memStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, pkgerrors.NotFound("Delivery", id)
	}
	rec := r.Record
	return &rec, nil
}

func (s *memStore) Lease(_ context.Context, owner string, now time.Time, limit int, leaseFor time.Duration) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaseErr != nil {
		return nil, s.leaseErr
	}

	var due []*memRecord
	for _, r := range s.records {
		if r.Status == StatusStaged && !r.NextAttemptAt.After(now) && r.ExpiresAt.After(now) &&
			(r.leaseOwner == "" || !r.leaseExpires.After(now)) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]Record, 0, len(due))
	for _, r := range due {
		r.leaseOwner = owner
		r.leaseExpires = now.Add(leaseFor)
		r.Attempts++
		r.UpdatedAt = now
		out = append(out, r.Record)
	}
	return out, nil
}

func (s *memStore) leased(id, owner string) (*memRecord, error) {
	r, ok := s.records[id]
	if !ok || r.leaseOwner != owner || r.Status != StatusStaged {
		return nil, errLeaseLost
	}
	return r, nil
}

func (s *memStore) MarkPushed(_ context.Context, id, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.leased(id, owner)
	if err != nil {
		return err
	}
	r.Status = StatusPushed
	r.PushedAt = &now
	r.LastError = ""
	r.leaseOwner = ""
	r.UpdatedAt = now
	return nil
}

func (s *memStore) MarkRetry(_ context.Context, id, owner string, next time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.leased(id, owner)
	if err != nil {
		return err
	}
	r.NextAttemptAt = next
	r.LastError = reason
	r.leaseOwner = ""
	return nil
}

func (s *memStore) Acknowledge(_ context.Context, id, recipient string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return false, pkgerrors.NotFound("Delivery", id)
	}
	if r.Recipient == recipient && (r.Status == StatusPushed || (r.Status == StatusStaged && r.Attempts > 0)) {
		r.Status = StatusAcknowledged
		r.AcknowledgedAt = &now
		r.leaseOwner = ""
		r.UpdatedAt = now
		return true, nil
	}
	rec := r.Record
	return false, ackRejection(&rec, recipient)
}

func (s *memStore) RequeueUnacknowledged(_ context.Context, pushedBefore, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if r.Status == StatusPushed && r.PushedAt.Before(pushedBefore) && r.ExpiresAt.After(now) {
			r.Status = StatusStaged
			r.NextAttemptAt = now
			r.LastError = "acknowledgment timed out"
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *memStore) Expire(_ context.Context, now time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.records {
		if len(out) == limit {
			break
		}
		if (r.Status == StatusStaged || r.Status == StatusPushed) && !r.ExpiresAt.After(now) &&
			(r.leaseOwner == "" || !r.leaseExpires.After(now)) {
			r.Status = StatusExpired
			r.leaseOwner = ""
			r.UpdatedAt = now
			out = append(out, r.Record)
		}
	}
	return out, nil
}

func (s *memStore) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.records {
		if r.Status.Terminal() && r.UpdatedAt.Before(before) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) MakeDue(_ context.Context, recipient string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if r.Recipient == recipient && r.Status == StatusStaged && r.NextAttemptAt.After(now) {
			r.NextAttemptAt = now
			n++
		}
	}
	return n, nil
}

func (s *memStore) Pending(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.records {
		if r.Status == StatusStaged || r.Status == StatusPushed {
			n++
		}
	}
	return n, nil
}

func (s *memStore) status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		return r.Status
	}
	return ""
}

type fakeTransport struct {
	mu     sync.Mutex
	online map[string]bool
	err    error
	pushed []Envelope
	onPush func(Envelope)
}

func newFakeTransport(online ...string) *fakeTransport {
	t := &fakeTransport{online: make(map[string]bool)}
	for _, r := range online {
		t.online[r] = true
	}
	return t
}

func (t *fakeTransport) Push(_ context.Context, env Envelope) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return false, t.err
	}
	if !t.online[env.To] {
		return false, nil
	}
	t.pushed = append(t.pushed, env)
	if t.onPush != nil {
		t.onPush(env)
	}
	return true, nil
}

func (t *fakeTransport) setOnline(recipient string, online bool) {
	t.mu.Lock()
	t.online[recipient] = online
	t.mu.Unlock()
}

func (t *fakeTransport) pushedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pushed)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingEvents) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingArchive struct {
	mu       sync.Mutex
	archived []Record
}

func (a *recordingArchive) Archive(_ context.Context, records []Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, records...)
	return nil
}

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
