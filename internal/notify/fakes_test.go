package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type outboxRow struct {
	msg       OutboxMessage
	delivered bool
	dead      bool
}

type fakeOutbox struct {
	mu   sync.Mutex
	rows map[string]*outboxRow
}

func newFakeOutbox() *fakeOutbox { return &fakeOutbox{rows: map[string]*outboxRow{}} }

func (f *fakeOutbox) AppendOutbox(_ context.Context, m OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[m.ID] = &outboxRow{msg: m}
	return nil
}

func (f *fakeOutbox) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*outboxRow
	for _, r := range f.rows {
		if !r.delivered && !r.dead && !r.msg.NextAttemptAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].msg.CreatedAt.Before(due[j].msg.CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, r := range due {
		r.msg.NextAttemptAt = now.Add(lease)
		out = append(out, r.msg)
	}
	return out, nil
}

func (f *fakeOutbox) MarkDelivered(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return errors.New("unknown outbox id")
	}
	r.delivered = true
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, fl DeliveryFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[fl.ID]
	if !ok {
		return errors.New("unknown outbox id")
	}
	r.msg.Attempts = fl.Attempts
	r.msg.NextAttemptAt = fl.NextAttemptAt
	r.msg.LastError = fl.LastError
	r.dead = fl.Dead
	return nil
}

func (f *fakeOutbox) row(id string) outboxRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

func (f *fakeOutbox) only() OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		return r.msg
	}
	return OutboxMessage{}
}

type scriptedDispatcher struct {
	mu   sync.Mutex
	errs []error // consumed in order; nil once exhausted
	sent []OutboxMessage
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, m OutboxMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	if err == nil {
		d.sent = append(d.sent, m)
	}
	return err
}

type fakeInboxStore struct {
	mu    sync.Mutex
	items map[string]Notification
	err   error
}

func newFakeInboxStore() *fakeInboxStore { return &fakeInboxStore{items: map[string]Notification{}} }

func (s *fakeInboxStore) InsertNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.items[n.ID]; !ok {
		s.items[n.ID] = n
	}
	return nil
}

func (s *fakeInboxStore) ListNotifications(_ context.Context, recipientID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeInboxStore) MarkNotificationRead(_ context.Context, id, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientID != recipientID {
		return errors.New("not found")
	}
	n.Read = true
	s.items[id] = n
	return nil
}

type mapDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *mapDeduper) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.seen[id], nil
}

func (d *mapDeduper) Remember(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}
