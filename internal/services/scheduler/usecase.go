// Package scheduler discovers confirmed appointments entering the reminder
// windows and materializes reminder notifications for them, independently of
// the confirm-time producer path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/domain/appointment"
	"github.com/uclinic/notifyd/internal/domain/notification"
	"github.com/uclinic/notifyd/internal/obs"
)

// Tolerance widens each target instant into a window so appointments cannot
// slip between two polling cycles.
const DefaultTolerance = 10 * time.Minute

type window struct {
	label string
	lead  time.Duration
}

var windows = []window{
	{label: "24h", lead: 24 * time.Hour},
	{label: "2h", lead: 2 * time.Hour},
}

type Stats struct {
	Scanned    int
	Enqueued   int
	Duplicates int
	Errors     int
}

type Usecase struct {
	Appts     appointment.Repo
	Notifs    notification.Repo
	Clock     notification.Clock
	Tolerance time.Duration
	Log       *zap.Logger
}

func NewUC(appts appointment.Repo, notifs notification.Repo, clock notification.Clock, log *zap.Logger) *Usecase {
	return &Usecase{
		Appts:     appts,
		Notifs:    notifs,
		Clock:     clock,
		Tolerance: DefaultTolerance,
		Log:       log.With(zap.String("component", "scheduler")),
	}
}

func (u *Usecase) Tick(ctx context.Context) (Stats, error) {
	tol := u.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	now := u.Clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	tr := otel.Tracer("scheduler.uc")
	ctx, span := tr.Start(ctx, "scheduler.tick")
	defer span.End()

	var st Stats
	for _, w := range windows {
		from := now.Add(w.lead)
		to := from.Add(tol)

		appts, err := u.Appts.ConfirmedBetween(ctx, from, to)
		if err != nil {
			span.RecordError(err)
			return st, fmt.Errorf("query %s window: %w", w.label, err)
		}

		for _, a := range appts {
			st.Scanned++
			if u.ensureReminder(ctx, a, w, now, dayStart, &st) {
				st.Enqueued++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("scanned", st.Scanned),
		attribute.Int("enqueued", st.Enqueued),
		attribute.Int("duplicates", st.Duplicates),
	)
	return st, nil
}

// ensureReminder inserts one reminder for (appointment, window, day) unless
// one is already there. The pre-check is a fast path only; the dedupe key
// makes the insert itself idempotent, so a racing cycle cannot double-insert.
func (u *Usecase) ensureReminder(ctx context.Context, a *appointment.Appointment, w window, now, dayStart time.Time, st *Stats) bool {
	log := obs.WithTrace(ctx, u.Log)

	exists, err := u.Notifs.ReminderExists(ctx, a.ID, dayStart)
	if err != nil {
		st.Errors++
		log.Warn("reminder lookup", zap.Int64("appointment_id", a.ID), zap.Error(err))
		return false
	}
	if exists {
		st.Duplicates++
		return false
	}

	n := &notification.Notification{
		RecipientID:   a.PatientID,
		Kind:          notification.KindReminder,
		Message:       "Automatic appointment reminder",
		ScheduledFor:  now,
		AppointmentID: a.ID,
		AppointmentAt: a.At,
		DedupeKey:     ReminderKey(a.ID, w.label, now),
	}
	switch err := u.Notifs.CreateIdempotent(ctx, n); {
	case err == nil:
		log.Debug("reminder enqueued",
			zap.Int64("appointment_id", a.ID),
			zap.String("window", w.label),
			zap.Int64("recipient_id", a.PatientID),
		)
		return true
	case errors.Is(err, notification.ErrDuplicate):
		st.Duplicates++
		return false
	default:
		st.Errors++
		log.Warn("reminder insert", zap.Int64("appointment_id", a.ID), zap.Error(err))
		return false
	}
}

// ReminderKey is the dedupe key for a scheduler-created reminder: one per
// appointment, window and calendar day.
func ReminderKey(appointmentID int64, windowLabel string, now time.Time) string {
	return fmt.Sprintf("reminder:%d:%s:%s", appointmentID, windowLabel, now.Format("2006-01-02"))
}
