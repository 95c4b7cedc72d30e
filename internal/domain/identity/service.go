package identity

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/pkg/calendar"
)

type Service struct {
	patients     PatientRepository
	users        UserRepository
	appointments AppointmentPurger
	visits       VisitRecordCleaner
	tx           Transactor
	logger       zerolog.Logger
}

func NewService(patients PatientRepository, users UserRepository, appts AppointmentPurger,
	visits VisitRecordCleaner, tx Transactor) *Service {
	return &Service{
		patients:     patients,
		users:        users,
		appointments: appts,
		visits:       visits,
		tx:           tx,
		logger:       zerolog.Nop(),
	}
}

func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.logger = l.With().Str("component", "identity").Logger()
	return s
}

func (s *Service) CreatePatient(ctx context.Context, in PatientInput) (*Patient, error) {
	p := &Patient{Name: strings.TrimSpace(in.Name), ContInfo: in.ContInfo}
	if p.Name == "" {
		return nil, ErrNameRequired
	}
	switch g := strings.TrimSpace(in.Gender); {
	case g == "":
		p.Gender = GenderOther
	case strings.EqualFold(g, GenderMale):
		p.Gender = GenderMale
	case strings.EqualFold(g, GenderFemale):
		p.Gender = GenderFemale
	case strings.EqualFold(g, GenderOther):
		p.Gender = GenderOther
	default:
		return nil, ErrInvalidGender
	}
	if strings.TrimSpace(in.DOB) != "" {
		d, err := calendar.NormalizeDate(in.DOB)
		if err != nil {
			return nil, ErrInvalidDOB
		}
		p.DOB = &d
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context) ([]*Patient, error) {
	return s.patients.List(ctx)
}

func (s *Service) ListUsers(ctx context.Context, role string) ([]*User, error) {
	return s.users.List(ctx, strings.TrimSpace(role))
}

// DeletePatient removes the patient and everything that references it:
// visit records, appointments, then medical history. All of it commits or
// none of it does.
func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	var removed int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetByID(ctx, id); err != nil {
			return err
		}
		ids, err := s.appointments.IDsForPatient(ctx, id)
		if err != nil {
			return err
		}
		if len(ids) > 0 && s.visits != nil {
			if err := s.visits.DeleteForAppointments(ctx, ids); err != nil {
				return err
			}
		}
		if removed, err = s.appointments.DeleteByPatient(ctx, id); err != nil {
			return err
		}
		if err := s.patients.DeleteMedicalHistory(ctx, id); err != nil {
			return err
		}
		return s.patients.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int64("patient_id", id).Int64("appointments", removed).Msg("patient deleted")
	return nil
}
