package notification

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by CreateIdempotent when the dedupe key already
// exists in the store.
var ErrDuplicate = errors.New("duplicate notification")

type Repo interface {
	Create(ctx context.Context, n *Notification) error

	// CreateIdempotent inserts n keyed by n.DedupeKey and returns ErrDuplicate
	// if a record with the same key was inserted before.
	CreateIdempotent(ctx context.Context, n *Notification) error

	// FetchDue returns up to limit records eligible for a delivery attempt:
	// status PENDING or FAILED, scheduled_for passed, and no retry hold.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkRetry(ctx context.Context, id int64, attempts int, nextRetryAt time.Time, reason string) error
	MarkDead(ctx context.Context, id int64, attempts int, reason string) error

	// ReminderExists reports whether a reminder for the appointment was
	// already created since dayStart.
	ReminderExists(ctx context.Context, appointmentID int64, dayStart time.Time) (bool, error)

	ListByRecipient(ctx context.Context, recipientID int64, limit int) ([]*Notification, error)
	ListDeadLetters(ctx context.Context, limit int) ([]*Notification, error)

	// PurgeAll wipes the collection. Operational reset only, never part of
	// normal processing.
	PurgeAll(ctx context.Context) (int64, error)
}

// Mailer is the external send capability. Any non-nil error is a delivery
// failure; the dispatcher does not distinguish beyond the logged reason.
type Mailer interface {
	Send(ctx context.Context, to string, kind Kind, data TemplateData) error
}

type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
