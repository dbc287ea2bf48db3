package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
)

func (s *Store) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]notify.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*outboxRow
	for _, r := range s.outbox {
		if r.deliveredAt == nil && !r.dead && !r.msg.NextAttemptAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]notify.OutboxMessage, 0, len(due))
	for _, r := range due {
		r.msg.NextAttemptAt = now.Add(lease)
		out = append(out, r.msg)
	}
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.outbox[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "outbox message %s not found", id)
	}
	r.deliveredAt = &at
	return nil
}

func (s *Store) MarkFailed(_ context.Context, f notify.DeliveryFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.outbox[f.ID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "outbox message %s not found", f.ID)
	}
	r.msg.Attempts = f.Attempts
	r.msg.NextAttemptAt = f.NextAttemptAt
	r.msg.LastError = f.LastError
	r.dead = f.Dead
	return nil
}

func (s *Store) InsertNotification(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; !ok {
		s.notifications[n.ID] = n
	}
	return nil
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return apperr.Newf(apperr.KindNotFound, "notification %s not found", id)
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// Sequence is an in-process reservation number source.
type Sequence struct {
	mu   sync.Mutex
	days map[string]int64
}

func NewSequence() *Sequence { return &Sequence{days: map[string]int64{}} }

func (q *Sequence) Next(_ context.Context, day string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.days[day]++
	return q.days[day], nil
}

// Deduper remembers event ids for the lifetime of the process.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduper() *Deduper { return &Deduper{seen: map[string]struct{}{}} }

func (d *Deduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *Deduper) Remember(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[eventID] = struct{}{}
	return nil
}
