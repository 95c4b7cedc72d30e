package scheduling

import (
	"context"

	"github.com/clinic/clinic/pkg/calendar"
)

type ScheduleConfigRepository interface {
	// Upsert inserts cfg or overwrites the config already stored for
	// cfg.Date, keeping its id. cfg.ID is set from the stored row.
	Upsert(ctx context.Context, cfg *ScheduleConfig) error
	GetByID(ctx context.Context, id int64) (*ScheduleConfig, error)
	// GetByDate returns the newest config for date, or ErrScheduleNotFound.
	GetByDate(ctx context.Context, date calendar.Date) (*ScheduleConfig, error)
	ListByDate(ctx context.Context, date calendar.Date) ([]*ScheduleConfig, error)
	List(ctx context.Context) ([]*ScheduleConfig, error)
	Delete(ctx context.Context, id int64) error
	DeleteByDate(ctx context.Context, date calendar.Date) (int64, error)
}

// AppointmentRepository methods taking excludeID ignore that appointment so
// an update does not collide with itself; pass 0 when booking.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	List(ctx context.Context) ([]*Appointment, error)
	ListByDate(ctx context.Context, date calendar.Date) ([]*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id int64) error

	CountForPatientOnDate(ctx context.Context, patientID int64, date calendar.Date, excludeID int64) (int, error)
	ExistsForPatientSlot(ctx context.Context, patientID int64, date calendar.Date, t calendar.Clock, excludeID int64) (bool, error)
	ExistsForSlot(ctx context.Context, date calendar.Date, t calendar.Clock, excludeID int64) (bool, error)
	CountOnDate(ctx context.Context, date calendar.Date) (int, error)
	BookedTimes(ctx context.Context, date calendar.Date) ([]calendar.Clock, error)

	IDsForPatient(ctx context.Context, patientID int64) ([]int64, error)
	DeleteByPatient(ctx context.Context, patientID int64) (int64, error)

	// LockDate serializes booking commits for date until the surrounding
	// transaction ends.
	LockDate(ctx context.Context, date calendar.Date) error
}

// PatientDirectory answers whether a patient id refers to a stored patient.
type PatientDirectory interface {
	PatientExists(ctx context.Context, id int64) (bool, error)
}

// UserDirectory looks up staff users for doctor assignment.
type UserDirectory interface {
	UserHasRole(ctx context.Context, id int64, role string) (bool, error)
	FirstUserWithRole(ctx context.Context, role string) (int64, bool, error)
}

// VisitRecordCleaner removes the clinical records hanging off appointments.
// It runs inside the caller's transaction.
type VisitRecordCleaner interface {
	DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
