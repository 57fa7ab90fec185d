package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uclinic/notifyd/internal/domain/appointment"
)

var _ appointment.Repo = (*AppointmentRepo)(nil)

// AppointmentRepo reads the clinic's appointment book. The pipeline has no
// write access to it.
type AppointmentRepo struct{ db *DB }

func NewAppointmentRepo(db *DB) *AppointmentRepo { return &AppointmentRepo{db: db} }

const qApptConfirmedBetween = `
SELECT id, patient_id, provider_id, at, status
FROM appointments
WHERE status = 'CONFIRMED' AND at >= $1 AND at < $2
ORDER BY at;`

func (r *AppointmentRepo) ConfirmedBetween(ctx context.Context, from, to time.Time) ([]*appointment.Appointment, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qApptConfirmedBetween, from, to)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []*appointment.Appointment
	for rows.Next() {
		var a appointment.Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.At, &a.Status); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
