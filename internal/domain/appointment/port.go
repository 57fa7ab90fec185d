package appointment

import (
	"context"
	"time"
)

// Repo is a read-only view over the clinic's appointment book. The pipeline
// never mutates appointments.
type Repo interface {
	// ConfirmedBetween returns confirmed appointments with from <= at < to.
	ConfirmedBetween(ctx context.Context, from, to time.Time) ([]*Appointment, error)
}
