package visit

import (
	"context"
	"time"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

type CauseRepository interface {
	ListAll(ctx context.Context) ([]*Cause, error)
	ListForAppointment(ctx context.Context, appointmentID int64) ([]*Cause, error)
	// Describe returns the description of a reference cause.
	Describe(ctx context.Context, causeID int64) (string, bool, error)
	CreateCause(ctx context.Context, description string) (int64, error)
	Linked(ctx context.Context, appointmentID, causeID int64) (bool, error)
	Link(ctx context.Context, appointmentID, causeID int64) error
	Unlink(ctx context.Context, appointmentID, causeID int64) error
	DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error
}

type PrescriptionRepository interface {
	ListForAppointment(ctx context.Context, appointmentID int64) ([]*Prescription, error)
	Create(ctx context.Context, p *Prescription) error
	// Update rewrites medication, dose and delay and fills AppointmentID.
	Update(ctx context.Context, p *Prescription) error
	Delete(ctx context.Context, id int64) error
	DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error
	// Medication returns the reference medication's name and description.
	Medication(ctx context.Context, medicationID int64) (name, description string, ok bool, err error)
}

type ReportRepository interface {
	ListForAppointment(ctx context.Context, appointmentID int64) ([]*Report, error)
	Create(ctx context.Context, r *Report, at time.Time) error
	DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error
}

// AppointmentLookup resolves the appointment a visit record belongs to.
type AppointmentLookup interface {
	GetAppointment(ctx context.Context, id int64) (*scheduling.Appointment, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
