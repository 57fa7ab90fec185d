package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/domain/appointment"
	"github.com/uclinic/notifyd/internal/domain/notification"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type captureRepo struct {
	created []*notification.Notification
	err     error
}

func (r *captureRepo) Create(_ context.Context, n *notification.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, n)
	return nil
}

func (r *captureRepo) CreateIdempotent(ctx context.Context, n *notification.Notification) error {
	return r.Create(ctx, n)
}
func (r *captureRepo) FetchDue(context.Context, time.Time, int) ([]*notification.Notification, error) {
	return nil, nil
}
func (r *captureRepo) MarkSent(context.Context, int64, time.Time) error { return nil }
func (r *captureRepo) MarkRetry(context.Context, int64, int, time.Time, string) error { return nil }
func (r *captureRepo) MarkDead(context.Context, int64, int, string) error { return nil }
func (r *captureRepo) ReminderExists(context.Context, int64, time.Time) (bool, error) {
	return false, nil
}
func (r *captureRepo) ListByRecipient(context.Context, int64, int) ([]*notification.Notification, error) {
	return nil, nil
}
func (r *captureRepo) ListDeadLetters(context.Context, int) ([]*notification.Notification, error) {
	return nil, nil
}
func (r *captureRepo) PurgeAll(context.Context) (int64, error) { return 0, nil }

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testAppt() *appointment.Appointment {
	return &appointment.Appointment{
		ID:         42,
		PatientID:  7,
		ProviderID: 3,
		At:         now.Add(25 * time.Hour), // tomorrow 10:00
		Status:     appointment.StatusPending,
	}
}

func newTestProducer(repo *captureRepo) *Producer {
	return New(repo, fixedClock{now: now}, zap.NewNop())
}

func TestAppointmentCreated_NotifiesProvider(t *testing.T) {
	repo := &captureRepo{}
	newTestProducer(repo).AppointmentCreated(context.Background(), testAppt())

	require.Len(t, repo.created, 1)
	n := repo.created[0]
	assert.Equal(t, int64(3), n.RecipientID)
	assert.Equal(t, notification.KindAwaitingConfirmation, n.Kind)
	assert.Equal(t, now, n.ScheduledFor)
	assert.Equal(t, int64(42), n.AppointmentID)
}

func TestAppointmentConfirmed_SchedulesBothReminders(t *testing.T) {
	repo := &captureRepo{}
	appt := testAppt()
	newTestProducer(repo).AppointmentConfirmed(context.Background(), appt)

	require.Len(t, repo.created, 2)
	for _, n := range repo.created {
		assert.Equal(t, int64(7), n.RecipientID)
		assert.Equal(t, notification.KindReminder, n.Kind)
		assert.Equal(t, appt.At, n.AppointmentAt)
	}
	assert.Equal(t, appt.At.Add(-24*time.Hour), repo.created[0].ScheduledFor)
	assert.Equal(t, appt.At.Add(-2*time.Hour), repo.created[1].ScheduledFor)
}

func TestAppointmentCancelled_TargetsTheCounterparty(t *testing.T) {
	t.Run("patient cancels, provider is notified", func(t *testing.T) {
		repo := &captureRepo{}
		newTestProducer(repo).AppointmentCancelled(context.Background(), testAppt(), 7)

		require.Len(t, repo.created, 1)
		n := repo.created[0]
		assert.Equal(t, int64(3), n.RecipientID)
		assert.Equal(t, notification.KindCancelled, n.Kind)
		assert.Contains(t, n.Message, "the patient")
	})

	t.Run("provider cancels, patient is notified", func(t *testing.T) {
		repo := &captureRepo{}
		newTestProducer(repo).AppointmentCancelled(context.Background(), testAppt(), 3)

		require.Len(t, repo.created, 1)
		n := repo.created[0]
		assert.Equal(t, int64(7), n.RecipientID)
		assert.Contains(t, n.Message, "the provider")
	})
}

func TestEncounterClosed_NotifiesBothSides(t *testing.T) {
	repo := &captureRepo{}
	newTestProducer(repo).EncounterClosed(context.Background(), testAppt())

	require.Len(t, repo.created, 2)
	assert.Equal(t, int64(7), repo.created[0].RecipientID)
	assert.Equal(t, notification.KindEncounterPatient, repo.created[0].Kind)
	assert.Equal(t, int64(3), repo.created[1].RecipientID)
	assert.Equal(t, notification.KindEncounterProvider, repo.created[1].Kind)
}

func TestInsertFailureIsSwallowed(t *testing.T) {
	repo := &captureRepo{err: errors.New("store unavailable")}
	p := newTestProducer(repo)

	// Must not panic or surface the error to the business operation.
	assert.NotPanics(t, func() {
		p.AppointmentCreated(context.Background(), testAppt())
		p.AppointmentConfirmed(context.Background(), testAppt())
		p.EncounterClosed(context.Background(), testAppt())
	})
	assert.Empty(t, repo.created)
}
