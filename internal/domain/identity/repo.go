package identity

import "context"

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
	PatientExists(ctx context.Context, id int64) (bool, error)
	// DeleteMedicalHistory clears allergies, vaccines, medications and family
	// history rows for the patient.
	DeleteMedicalHistory(ctx context.Context, patientID int64) error
	Delete(ctx context.Context, id int64) error
}

type UserRepository interface {
	List(ctx context.Context, role string) ([]*User, error)
	UserHasRole(ctx context.Context, id int64, role string) (bool, error)
	FirstUserWithRole(ctx context.Context, role string) (int64, bool, error)
}

// AppointmentPurger removes a patient's appointments during patient deletion.
type AppointmentPurger interface {
	IDsForPatient(ctx context.Context, patientID int64) ([]int64, error)
	DeleteByPatient(ctx context.Context, patientID int64) (int64, error)
}

type VisitRecordCleaner interface {
	DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
