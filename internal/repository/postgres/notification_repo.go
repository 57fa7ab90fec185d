package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/uclinic/notifyd/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepo)(nil)

type NotificationRepo struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

const notifColumns = `
id, recipient_id, kind, message, status, scheduled_for, attempts,
next_retry_at, sent_at, last_error, appointment_id, appointment_at,
COALESCE(dedupe_key, ''), created_at`

const (
	qNotifInsert = `
INSERT INTO notifications
  (recipient_id, kind, message, status, scheduled_for, appointment_id, appointment_at)
VALUES ($1, $2, $3, 'PENDING', $4, $5, $6)
RETURNING id, created_at;`

	qNotifInsertIdem = `
INSERT INTO notifications
  (recipient_id, kind, message, status, scheduled_for, appointment_id, appointment_at, dedupe_key)
VALUES ($1, $2, $3, 'PENDING', $4, $5, $6, $7)
ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
RETURNING id, created_at;`

	// Plain bounded select, no claim: overlapping cycles are tolerated and a
	// rare double send is accepted over locking (each mutation below is a
	// single-row atomic update keyed by id).
	qNotifFetchDue = `
SELECT ` + notifColumns + `
FROM notifications
WHERE status IN ('PENDING', 'FAILED')
  AND scheduled_for <= $1
  AND (next_retry_at IS NULL OR next_retry_at <= $1)
ORDER BY scheduled_for
LIMIT $2;`

	qNotifMarkSent = `
UPDATE notifications
SET status = 'SENT', sent_at = $2, next_retry_at = NULL
WHERE id = $1 AND status IN ('PENDING', 'FAILED');`

	qNotifMarkRetry = `
UPDATE notifications
SET status = 'FAILED', attempts = $2, next_retry_at = $3, last_error = $4
WHERE id = $1 AND status IN ('PENDING', 'FAILED');`

	qNotifMarkDead = `
UPDATE notifications
SET status = 'DEAD_LETTER', attempts = $2, next_retry_at = NULL, last_error = $3
WHERE id = $1 AND status IN ('PENDING', 'FAILED');`

	qReminderExists = `
SELECT EXISTS (
  SELECT 1 FROM notifications
  WHERE appointment_id = $1 AND kind = 'APPOINTMENT_REMINDER' AND created_at >= $2
);`

	qNotifByRecipient = `
SELECT ` + notifColumns + `
FROM notifications
WHERE recipient_id = $1
ORDER BY created_at DESC
LIMIT $2;`

	qNotifDeadLetters = `
SELECT ` + notifColumns + `
FROM notifications
WHERE status = 'DEAD_LETTER'
ORDER BY created_at DESC
LIMIT $1;`

	qNotifPurge = `DELETE FROM notifications;`
)

func (r *NotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qNotifInsert,
		n.RecipientID, n.Kind, n.Message, n.ScheduledFor, n.AppointmentID, n.AppointmentAt,
	).Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Status = notification.StatusPending
	return nil
}

func (r *NotificationRepo) CreateIdempotent(ctx context.Context, n *notification.Notification) error {
	if n.DedupeKey == "" {
		return errors.New("dedupe key required")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, qNotifInsertIdem,
		n.RecipientID, n.Kind, n.Message, n.ScheduledFor, n.AppointmentID, n.AppointmentAt, n.DedupeKey,
	).Scan(&n.ID, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return notification.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.Status = notification.StatusPending
	return nil
}

func (r *NotificationRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qNotifFetchDue, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.mark(ctx, qNotifMarkSent, id, at)
}

func (r *NotificationRepo) MarkRetry(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, reason string) error {
	return r.mark(ctx, qNotifMarkRetry, id, attempts, nextRetryAt, reason)
}

func (r *NotificationRepo) MarkDead(ctx context.Context, id int64, attempts int, reason string) error {
	return r.mark(ctx, qNotifMarkDead, id, attempts, reason)
}

func (r *NotificationRepo) mark(ctx context.Context, q string, id int64, args ...any) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update notification %d: %w", id, err)
	}
	if cmd.RowsAffected() == 0 {
		// Already terminal or gone; the status guard keeps transitions forward-only.
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepo) ReminderExists(ctx context.Context, appointmentID int64, dayStart time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, qReminderExists, appointmentID, dayStart).Scan(&exists); err != nil {
		return false, fmt.Errorf("reminder exists: %w", err)
	}
	return exists, nil
}

func (r *NotificationRepo) ListByRecipient(ctx context.Context, recipientID int64, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, qNotifByRecipient, recipientID, limit)
}

func (r *NotificationRepo) ListDeadLetters(ctx context.Context, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, qNotifDeadLetters, limit)
}

func (r *NotificationRepo) list(ctx context.Context, q string, args ...any) ([]*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepo) PurgeAll(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qNotifPurge)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var n notification.Notification
	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.Kind,
		&n.Message,
		&n.Status,
		&n.ScheduledFor,
		&n.Attempts,
		&n.NextRetryAt,
		&n.SentAt,
		&n.LastError,
		&n.AppointmentID,
		&n.AppointmentAt,
		&n.DedupeKey,
		&n.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}
