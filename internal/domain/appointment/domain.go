package appointment

import "time"

const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusAttended  = "ATTENDED"
	StatusCancelled = "CANCELLED"
)

type Appointment struct {
	ID         int64     `json:"id"`
	PatientID  int64     `json:"patient_id"`
	ProviderID int64     `json:"provider_id"`
	At         time.Time `json:"at"`
	Status     string    `json:"status"`
}
