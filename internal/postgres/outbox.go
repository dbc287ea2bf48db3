package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
)

// ClaimDue leases due rows with SKIP LOCKED so several relays can drain the outbox side by side.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]notify.OutboxMessage, error) {
	rows, err := s.DB.Query(ctx, `
		UPDATE outbox SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL AND dead_at IS NULL AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, key, event_type, payload, attempts, next_attempt_at, last_error, created_at`,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, apperr.Internal("claim outbox", err)
	}
	defer rows.Close()

	var out []notify.OutboxMessage
	for rows.Next() {
		var m notify.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.EventType, &m.Payload,
			&m.Attempts, &m.NextAttemptAt, &m.LastError, &m.CreatedAt); err != nil {
			return nil, apperr.Internal("scan outbox", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("claim outbox", err)
	}
	// RETURNING has no defined order
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	if _, err := s.DB.Exec(ctx, `UPDATE outbox SET delivered_at = $2, last_error = '' WHERE id = $1`, id, at); err != nil {
		return apperr.Internal("mark outbox delivered", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, f notify.DeliveryFailure) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox
		SET attempts = $2, next_attempt_at = $3, last_error = $4,
		    dead_at = CASE WHEN $5::boolean THEN NOW() ELSE NULL END
		WHERE id = $1`,
		f.ID, f.Attempts, f.NextAttemptAt, f.LastError, f.Dead)
	if err != nil {
		return apperr.Internal("mark outbox failed", err)
	}
	return nil
}

func (s *Store) InsertNotification(ctx context.Context, n notify.Notification) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, reservation_id, merchant_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.RecipientID, string(n.Type), n.Title, n.Message, n.ReservationID, n.MerchantID, n.Read, n.CreatedAt)
	if err != nil {
		return apperr.Internal("insert notification", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, recipient_id, type, title, message, reservation_id, merchant_id, read, created_at
		FROM notifications WHERE recipient_id = $1
		ORDER BY created_at DESC LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n  notify.Notification
			tp string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &tp, &n.Title, &n.Message,
			&n.ReservationID, &n.MerchantID, &n.Read, &n.CreatedAt); err != nil {
			return nil, apperr.Internal("scan notification", err)
		}
		n.Type = notify.Type(tp)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	ct, err := s.DB.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return apperr.Internal("mark notification read", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "notification %s not found", id)
	}
	return nil
}
