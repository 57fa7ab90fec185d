package dispatcher

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/domain/notification"
	"github.com/uclinic/notifyd/internal/domain/user"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

// memRepo is an in-memory notification store mirroring the dispatcher-facing
// eligibility and transition rules of the Postgres repo.
type memRepo struct {
	recs   map[int64]*notification.Notification
	nextID int64
}

func newMemRepo() *memRepo { return &memRepo{recs: map[int64]*notification.Notification{}} }

func (r *memRepo) add(n *notification.Notification) *notification.Notification {
	r.nextID++
	n.ID = r.nextID
	if n.Status == "" {
		n.Status = notification.StatusPending
	}
	r.recs[n.ID] = n
	return n
}

func (r *memRepo) Create(_ context.Context, n *notification.Notification) error {
	r.add(n)
	return nil
}

func (r *memRepo) CreateIdempotent(_ context.Context, n *notification.Notification) error {
	r.add(n)
	return nil
}

func (r *memRepo) FetchDue(_ context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	var out []*notification.Notification
	for _, n := range r.recs {
		eligible := (n.Status == notification.StatusPending || n.Status == notification.StatusFailed) &&
			!n.ScheduledFor.After(now) &&
			(n.NextRetryAt == nil || !n.NextRetryAt.After(now))
		if eligible {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) MarkSent(_ context.Context, id int64, at time.Time) error {
	n := r.recs[id]
	if n == nil || n.Status.Terminal() {
		return errors.New("not found")
	}
	n.Status = notification.StatusSent
	n.SentAt = &at
	n.NextRetryAt = nil
	return nil
}

func (r *memRepo) MarkRetry(_ context.Context, id int64, attempts int, nextRetryAt time.Time, reason string) error {
	n := r.recs[id]
	if n == nil || n.Status.Terminal() {
		return errors.New("not found")
	}
	n.Status = notification.StatusFailed
	n.Attempts = attempts
	n.NextRetryAt = &nextRetryAt
	n.LastError = reason
	return nil
}

func (r *memRepo) MarkDead(_ context.Context, id int64, attempts int, reason string) error {
	n := r.recs[id]
	if n == nil || n.Status.Terminal() {
		return errors.New("not found")
	}
	n.Status = notification.StatusDeadLetter
	n.Attempts = attempts
	n.NextRetryAt = nil
	n.LastError = reason
	return nil
}

func (r *memRepo) ReminderExists(context.Context, int64, time.Time) (bool, error) { return false, nil }

func (r *memRepo) ListByRecipient(_ context.Context, recipientID int64, limit int) ([]*notification.Notification, error) {
	return r.filter(limit, func(n *notification.Notification) bool { return n.RecipientID == recipientID }), nil
}

func (r *memRepo) ListDeadLetters(_ context.Context, limit int) ([]*notification.Notification, error) {
	return r.filter(limit, func(n *notification.Notification) bool { return n.Status == notification.StatusDeadLetter }), nil
}

func (r *memRepo) filter(limit int, keep func(*notification.Notification) bool) []*notification.Notification {
	var out []*notification.Notification
	for _, n := range r.recs {
		if keep(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
func (r *memRepo) PurgeAll(context.Context) (int64, error) { return 0, nil }

type fakeUsers struct{ users map[int64]*user.User }

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

type fakeMailer struct {
	err  error
	sent []notification.Kind
	to   []string
}

func (f *fakeMailer) Send(_ context.Context, to string, kind notification.Kind, _ notification.TemplateData) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, kind)
	f.to = append(f.to, to)
	return nil
}

func newTestUC(repo *memRepo, users *fakeUsers, m *fakeMailer, clk *fakeClock) *Usecase {
	return NewUC(repo, users, m, clk, zap.NewNop())
}

func somePatient() *fakeUsers {
	return &fakeUsers{users: map[int64]*user.User{
		7: {ID: 7, Email: "student@uclinic.edu", FullName: "Sam Student"},
	}}
}

func TestTick_SendsDueNotification(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	m := &fakeMailer{}
	uc := newTestUC(repo, somePatient(), m, clk)

	n := repo.add(&notification.Notification{
		RecipientID:  7,
		Kind:         notification.KindReminder,
		ScheduledFor: clk.now.Add(-time.Minute),
	})

	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 1, Sent: 1}, st)
	assert.Equal(t, []string{"student@uclinic.edu"}, m.to)

	got := repo.recs[n.ID]
	assert.Equal(t, notification.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, clk.now, *got.SentAt)
}

func TestTick_FutureScheduledForIsNotAttempted(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	m := &fakeMailer{}
	uc := newTestUC(repo, somePatient(), m, clk)

	repo.add(&notification.Notification{
		RecipientID:  7,
		Kind:         notification.KindReminder,
		ScheduledFor: clk.now.Add(time.Hour),
	})

	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
	assert.Empty(t, m.sent)
}

func TestTick_SentIsTerminal(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	m := &fakeMailer{}
	uc := newTestUC(repo, somePatient(), m, clk)

	repo.add(&notification.Notification{
		RecipientID:  7,
		Kind:         notification.KindReminder,
		ScheduledFor: clk.now.Add(-time.Minute),
	})

	_, err := uc.Tick(context.Background())
	require.NoError(t, err)

	// Re-running on a SENT record is a no-op.
	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
	assert.Len(t, m.sent, 1)
}

func TestTick_RetryBackoffThenDeadLetter(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	m := &fakeMailer{err: errors.New("smtp: connection refused")}
	uc := newTestUC(repo, somePatient(), m, clk)

	n := repo.add(&notification.Notification{
		RecipientID:  7,
		Kind:         notification.KindCancelled,
		ScheduledFor: clk.now.Add(-time.Minute),
	})

	// Attempt 1: FAILED, next retry in 1 minute.
	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 1, Retried: 1}, st)
	got := repo.recs[n.ID]
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, clk.now.Add(1*time.Minute), *got.NextRetryAt)
	assert.Contains(t, got.LastError, "connection refused")

	// Retry hold: a cycle before nextRetryAt must not touch the record.
	clk.Advance(30 * time.Second)
	st, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	// Attempt 2: next retry in 15 minutes.
	clk.Advance(31 * time.Second)
	st, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 1, Retried: 1}, st)
	got = repo.recs[n.ID]
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, clk.now.Add(15*time.Minute), *got.NextRetryAt)

	// Attempt 3: dead letter, no further retry hold needed.
	clk.Advance(16 * time.Minute)
	st, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 1, Dead: 1}, st)
	got = repo.recs[n.ID]
	assert.Equal(t, notification.StatusDeadLetter, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.NextRetryAt)

	// Dead letters stay dead no matter how many cycles pass.
	clk.Advance(24 * time.Hour)
	st, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
	assert.Equal(t, 3, repo.recs[n.ID].Attempts)

	// The record remains visible for inspection.
	dead, err := repo.ListDeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, n.ID, dead[0].ID)
	assert.Contains(t, dead[0].LastError, "connection refused")

	mine, err := repo.ListByRecipient(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, n.ID, mine[0].ID)
}

func TestTick_MissingRecipientIsADeliveryFailure(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	m := &fakeMailer{}
	uc := newTestUC(repo, &fakeUsers{users: map[int64]*user.User{}}, m, clk)

	n := repo.add(&notification.Notification{
		RecipientID:  99,
		Kind:         notification.KindReminder,
		ScheduledFor: clk.now.Add(-time.Minute),
	})

	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 1, Retried: 1}, st)
	assert.Contains(t, repo.recs[n.ID].LastError, "resolve recipient")
	assert.Empty(t, m.sent)
}

func TestTick_EmptyEmailIsADeliveryFailure(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	users := &fakeUsers{users: map[int64]*user.User{
		5: {ID: 5, FullName: "No Mail"},
	}}
	uc := newTestUC(repo, users, &fakeMailer{}, clk)

	n := repo.add(&notification.Notification{
		RecipientID:  5,
		Kind:         notification.KindReminder,
		ScheduledFor: clk.now.Add(-time.Minute),
	})

	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 1, Retried: 1}, st)
	assert.Contains(t, repo.recs[n.ID].LastError, "no email address")
}

func TestTick_OneFailureDoesNotAbortTheBatch(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	users := &fakeUsers{users: map[int64]*user.User{
		7: {ID: 7, Email: "student@uclinic.edu", FullName: "Sam Student"},
	}}
	m := &fakeMailer{}
	uc := newTestUC(repo, users, m, clk)

	bad := repo.add(&notification.Notification{
		RecipientID:  404, // unknown recipient
		Kind:         notification.KindReminder,
		ScheduledFor: clk.now.Add(-2 * time.Minute),
	})
	ok := repo.add(&notification.Notification{
		RecipientID:  7,
		Kind:         notification.KindEncounterPatient,
		ScheduledFor: clk.now.Add(-time.Minute),
	})

	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 2, Sent: 1, Retried: 1}, st)
	assert.Equal(t, notification.StatusFailed, repo.recs[bad.ID].Status)
	assert.Equal(t, notification.StatusSent, repo.recs[ok.ID].Status)
}

func TestTick_BatchLimitBoundsTheCycle(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := newMemRepo()
	uc := newTestUC(repo, somePatient(), &fakeMailer{}, clk)
	uc.BatchLimit = 2

	for i := 0; i < 5; i++ {
		repo.add(&notification.Notification{
			RecipientID:  7,
			Kind:         notification.KindReminder,
			ScheduledFor: clk.now.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	st, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Fetched)
	assert.Equal(t, 2, st.Sent)
}
