package notification

import "time"

// Kind selects the template and subject of the outgoing email.
type Kind string

const (
	KindAwaitingConfirmation Kind = "APPOINTMENT_AWAITING_CONFIRMATION"
	KindReminder             Kind = "APPOINTMENT_REMINDER"
	KindCancelled            Kind = "APPOINTMENT_CANCELLED"
	KindEncounterPatient     Kind = "ENCOUNTER_CLOSED_FOR_PATIENT"
	KindEncounterProvider    Kind = "ENCOUNTER_CLOSED_FOR_PROVIDER"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Terminal reports whether a record in this status can never be attempted again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDeadLetter
}

// Notification is one delivery intent. The row is the queue entry: the
// dispatcher selects due rows and moves them forward through the state
// machine, never backward.
type Notification struct {
	ID          int64  `json:"id"`
	RecipientID int64  `json:"recipient_id"`
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Status      Status `json:"status"`

	// ScheduledFor is the earliest instant a delivery may be attempted.
	ScheduledFor time.Time  `json:"scheduled_for"`
	Attempts     int        `json:"attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`

	AppointmentID int64     `json:"appointment_id"`
	AppointmentAt time.Time `json:"appointment_at"`

	// DedupeKey, when non-empty, makes the insert idempotent. Scheduler-created
	// reminders carry one; producer-created records leave it empty.
	DedupeKey string `json:"dedupe_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TemplateData is what a Kind's template renders with.
type TemplateData struct {
	Name string
	Date time.Time
	Link string
}
