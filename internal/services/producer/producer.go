// Package producer translates clinic domain events into pending notification
// records. Insertion is best-effort: a store failure is logged and swallowed
// so it never rolls back the business operation that triggered it.
package producer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/domain/appointment"
	"github.com/uclinic/notifyd/internal/domain/notification"
)

type Producer struct {
	notifs notification.Repo
	clock  notification.Clock
	log    *zap.Logger
}

func New(notifs notification.Repo, clock notification.Clock, log *zap.Logger) *Producer {
	return &Producer{
		notifs: notifs,
		clock:  clock,
		log:    log.With(zap.String("component", "producer")),
	}
}

// Enqueue inserts one pending notification record. The typed event methods
// below are the usual entry points; Enqueue is for call sites needing a
// custom combination.
func (p *Producer) Enqueue(ctx context.Context, recipientID int64, kind notification.Kind, scheduledFor time.Time, message string, appt *appointment.Appointment) {
	p.insert(ctx, &notification.Notification{
		RecipientID:   recipientID,
		Kind:          kind,
		Message:       message,
		ScheduledFor:  scheduledFor,
		AppointmentID: appt.ID,
		AppointmentAt: appt.At,
	})
}

// AppointmentCreated notifies the assigned provider that a new request is
// waiting for confirmation.
func (p *Producer) AppointmentCreated(ctx context.Context, appt *appointment.Appointment) {
	p.insert(ctx, &notification.Notification{
		RecipientID:   appt.ProviderID,
		Kind:          notification.KindAwaitingConfirmation,
		Message:       fmt.Sprintf("New appointment request for %s", appt.At.Format(time.RFC1123)),
		ScheduledFor:  p.clock.Now(),
		AppointmentID: appt.ID,
		AppointmentAt: appt.At,
	})
}

// AppointmentConfirmed schedules the patient's two reminders, at T-24h and
// T-2h of the appointment.
func (p *Producer) AppointmentConfirmed(ctx context.Context, appt *appointment.Appointment) {
	reminders := []struct {
		lead    time.Duration
		message string
	}{
		{24 * time.Hour, "Reminder: your appointment is tomorrow"},
		{2 * time.Hour, "Reminder: your appointment is in 2 hours"},
	}
	for _, r := range reminders {
		p.insert(ctx, &notification.Notification{
			RecipientID:   appt.PatientID,
			Kind:          notification.KindReminder,
			Message:       r.message,
			ScheduledFor:  appt.At.Add(-r.lead),
			AppointmentID: appt.ID,
			AppointmentAt: appt.At,
		})
	}
}

// AppointmentCancelled notifies the counterparty of the canceller.
func (p *Producer) AppointmentCancelled(ctx context.Context, appt *appointment.Appointment, cancellerID int64) {
	target := appt.PatientID
	by := "the provider"
	if cancellerID == appt.PatientID {
		target = appt.ProviderID
		by = "the patient"
	}
	p.insert(ctx, &notification.Notification{
		RecipientID:   target,
		Kind:          notification.KindCancelled,
		Message:       fmt.Sprintf("The scheduled appointment was cancelled by %s.", by),
		ScheduledFor:  p.clock.Now(),
		AppointmentID: appt.ID,
		AppointmentAt: appt.At,
	})
}

// EncounterClosed notifies both sides of a completed visit: the patient to
// review instructions, the provider as a close confirmation.
func (p *Producer) EncounterClosed(ctx context.Context, appt *appointment.Appointment) {
	now := p.clock.Now()
	p.insert(ctx, &notification.Notification{
		RecipientID:   appt.PatientID,
		Kind:          notification.KindEncounterPatient,
		Message:       "Your visit is complete. Review your instructions.",
		ScheduledFor:  now,
		AppointmentID: appt.ID,
		AppointmentAt: appt.At,
	})
	p.insert(ctx, &notification.Notification{
		RecipientID:   appt.ProviderID,
		Kind:          notification.KindEncounterProvider,
		Message:       "Encounter closed successfully.",
		ScheduledFor:  now,
		AppointmentID: appt.ID,
		AppointmentAt: appt.At,
	})
}

func (p *Producer) insert(ctx context.Context, n *notification.Notification) {
	if err := p.notifs.Create(ctx, n); err != nil {
		p.log.Error("enqueue notification",
			zap.String("kind", string(n.Kind)),
			zap.Int64("recipient_id", n.RecipientID),
			zap.Int64("appointment_id", n.AppointmentID),
			zap.Error(err),
		)
		return
	}
	p.log.Debug("notification enqueued",
		zap.Int64("id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.Int64("recipient_id", n.RecipientID),
		zap.Time("scheduled_for", n.ScheduledFor),
	)
}
