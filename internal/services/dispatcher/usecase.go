// Package dispatcher drains the notification queue: it selects due records,
// attempts delivery through the mail sender, and advances each record's
// state machine. One record's failure never aborts the rest of the batch.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/uclinic/notifyd/internal/domain/notification"
	"github.com/uclinic/notifyd/internal/domain/user"
	"github.com/uclinic/notifyd/internal/obs"
)

const (
	DefaultBatchLimit  = 50
	DefaultSendTimeout = 10 * time.Second
)

type Stats struct {
	Fetched int
	Sent    int
	Retried int
	Dead    int
	Errors  int
}

type Usecase struct {
	Notifs      notification.Repo
	Users       user.Repo
	Mail        notification.Mailer
	Clock       notification.Clock
	BatchLimit  int
	SendTimeout time.Duration
	Log         *zap.Logger
}

func NewUC(notifs notification.Repo, users user.Repo, mail notification.Mailer, clock notification.Clock, log *zap.Logger) *Usecase {
	return &Usecase{
		Notifs:      notifs,
		Users:       users,
		Mail:        mail,
		Clock:       clock,
		BatchLimit:  DefaultBatchLimit,
		SendTimeout: DefaultSendTimeout,
		Log:         log.With(zap.String("component", "dispatcher")),
	}
}

func (u *Usecase) Tick(ctx context.Context) (Stats, error) {
	limit := u.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	tr := otel.Tracer("dispatcher.uc")
	ctx, span := tr.Start(ctx, "dispatcher.tick")
	defer span.End()

	var st Stats
	due, err := u.Notifs.FetchDue(ctx, u.Clock.Now(), limit)
	if err != nil {
		span.RecordError(err)
		return st, fmt.Errorf("fetch due: %w", err)
	}
	st.Fetched = len(due)
	span.SetAttributes(attribute.Int("batch.fetched", st.Fetched))

	for _, n := range due {
		u.attempt(ctx, n, &st)
	}

	span.SetAttributes(
		attribute.Int("batch.sent", st.Sent),
		attribute.Int("batch.retried", st.Retried),
		attribute.Int("batch.dead", st.Dead),
	)
	return st, nil
}

// attempt runs one record through a single delivery try and records the
// outcome. Every path ends in exactly one state transition.
func (u *Usecase) attempt(ctx context.Context, n *notification.Notification, st *Stats) {
	tr := otel.Tracer("dispatcher.uc")
	ctx, span := tr.Start(ctx, "dispatcher.attempt")
	span.SetAttributes(
		attribute.Int64("notification.id", n.ID),
		attribute.String("notification.kind", string(n.Kind)),
	)
	defer span.End()

	if err := u.deliver(ctx, n); err != nil {
		span.RecordError(err)
		u.fail(ctx, n, err, st)
		return
	}

	// The email is out either way; a MarkSent refusal means a racing cycle
	// already finished the record, so never fail it back into retry.
	if err := u.Notifs.MarkSent(ctx, n.ID, u.Clock.Now()); err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, u.Log).Warn("mark sent", zap.Int64("id", n.ID), zap.Error(err))
	}
	st.Sent++
}

func (u *Usecase) deliver(ctx context.Context, n *notification.Notification) error {
	rcpt, err := u.Users.GetByID(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("resolve recipient %d: %w", n.RecipientID, err)
	}
	if rcpt.Email == "" {
		return fmt.Errorf("recipient %d has no email address", n.RecipientID)
	}

	data := notification.TemplateData{
		Name: rcpt.FullName,
		Date: n.AppointmentAt,
	}

	sctx := ctx
	if u.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, u.SendTimeout)
		defer cancel()
	}
	if err := u.Mail.Send(sctx, rcpt.Email, n.Kind, data); err != nil {
		return fmt.Errorf("send %s to %s: %w", n.Kind, rcpt.Email, err)
	}
	return nil
}

func (u *Usecase) fail(ctx context.Context, n *notification.Notification, cause error, st *Stats) {
	log := obs.WithTrace(ctx, u.Log)
	attempts := n.Attempts + 1

	if attempts >= maxAttempts {
		if err := u.Notifs.MarkDead(ctx, n.ID, attempts, cause.Error()); err != nil {
			st.Errors++
			log.Warn("mark dead", zap.Int64("id", n.ID), zap.Error(err))
			return
		}
		st.Dead++
		log.Error("notification dead-lettered",
			zap.Int64("id", n.ID),
			zap.String("kind", string(n.Kind)),
			zap.Int("attempts", attempts),
			zap.String("reason", cause.Error()),
		)
		return
	}

	nextRetry := u.Clock.Now().Add(retryDelay(attempts))
	if err := u.Notifs.MarkRetry(ctx, n.ID, attempts, nextRetry, cause.Error()); err != nil {
		st.Errors++
		log.Warn("mark retry", zap.Int64("id", n.ID), zap.Error(err))
		return
	}
	st.Retried++
	log.Warn("delivery failed, will retry",
		zap.Int64("id", n.ID),
		zap.Int("attempts", attempts),
		zap.Time("next_retry_at", nextRetry),
		zap.Error(cause),
	)
}
