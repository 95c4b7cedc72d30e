package visit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	causes        CauseRepository
	prescriptions PrescriptionRepository
	reports       ReportRepository
	appointments  AppointmentLookup
	tx            Transactor
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(causes CauseRepository, prescriptions PrescriptionRepository, reports ReportRepository,
	appointments AppointmentLookup, tx Transactor) *Service {
	return &Service{
		causes:        causes,
		prescriptions: prescriptions,
		reports:       reports,
		appointments:  appointments,
		tx:            tx,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
}

func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.logger = l.With().Str("component", "visit").Logger()
	return s
}

// Details loads an appointment with its causes, prescriptions and reports.
func (s *Service) Details(ctx context.Context, appointmentID int64) (*Details, error) {
	appt, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	d := &Details{
		Appointment:   appt,
		Causes:        []*Cause{},
		Prescriptions: []*Prescription{},
		Reports:       []*Report{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := s.causes.ListForAppointment(gctx, appointmentID)
		if err == nil && items != nil {
			d.Causes = items
		}
		return err
	})
	g.Go(func() error {
		items, err := s.prescriptions.ListForAppointment(gctx, appointmentID)
		if err == nil && items != nil {
			d.Prescriptions = items
		}
		return err
	})
	g.Go(func() error {
		items, err := s.reports.ListForAppointment(gctx, appointmentID)
		if err == nil && items != nil {
			d.Reports = items
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// AllCauses lists every appointment-cause link.
func (s *Service) AllCauses(ctx context.Context) ([]*Cause, error) {
	return s.causes.ListAll(ctx)
}

func (s *Service) Causes(ctx context.Context, appointmentID int64) ([]*Cause, error) {
	return s.causes.ListForAppointment(ctx, appointmentID)
}

func (s *Service) Prescriptions(ctx context.Context, appointmentID int64) ([]*Prescription, error) {
	return s.prescriptions.ListForAppointment(ctx, appointmentID)
}

// AddCause links an existing cause, or creates one from free text and links
// it, in a single transaction.
func (s *Service) AddCause(ctx context.Context, in CauseInput) (*Cause, error) {
	desc := strings.TrimSpace(in.Description)
	if in.AppointmentID <= 0 || (in.CauseID <= 0 && desc == "") {
		return nil, ErrCauseRequired
	}
	if _, err := s.appointments.GetAppointment(ctx, in.AppointmentID); err != nil {
		return nil, err
	}

	out := &Cause{AppointmentID: in.AppointmentID, CauseID: in.CauseID}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if in.CauseID > 0 {
			d, ok, err := s.causes.Describe(ctx, in.CauseID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInvalidCause
			}
			linked, err := s.causes.Linked(ctx, in.AppointmentID, in.CauseID)
			if err != nil {
				return err
			}
			if linked {
				return ErrDuplicateCause
			}
			out.Description = d
		} else {
			id, err := s.causes.CreateCause(ctx, desc)
			if err != nil {
				return err
			}
			out.CauseID, out.Description = id, desc
		}
		return s.causes.Link(ctx, out.AppointmentID, out.CauseID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveCause drops the link named by key, formatted "appointmentID-causeID".
// The cause row itself is shared and stays.
func (s *Service) RemoveCause(ctx context.Context, key string) error {
	apptID, causeID, err := ParseCauseKey(key)
	if err != nil {
		return err
	}
	return s.causes.Unlink(ctx, apptID, causeID)
}

func ParseCauseKey(key string) (int64, int64, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidCauseKey
	}
	apptID, err1 := strconv.ParseInt(parts[0], 10, 64)
	causeID, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || apptID <= 0 || causeID <= 0 {
		return 0, 0, ErrInvalidCauseKey
	}
	return apptID, causeID, nil
}

func (s *Service) AddPrescription(ctx context.Context, in PrescriptionInput) (*Prescription, error) {
	if in.AppointmentID <= 0 || in.MedicationID <= 0 {
		return nil, ErrMedicationRequired
	}
	if _, err := s.appointments.GetAppointment(ctx, in.AppointmentID); err != nil {
		return nil, err
	}
	name, desc, ok, err := s.prescriptions.Medication(ctx, in.MedicationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidMedication
	}
	p := &Prescription{
		AppointmentID: in.AppointmentID,
		MedicationID:  in.MedicationID,
		Name:          name,
		Description:   desc,
		Dose:          strings.TrimSpace(in.Dose),
		Delay:         strings.TrimSpace(in.Delay),
	}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePrescription replaces the medication, dose and delay of prescription
// id. The appointment it belongs to does not change.
func (s *Service) UpdatePrescription(ctx context.Context, id int64, in PrescriptionInput) (*Prescription, error) {
	if in.MedicationID <= 0 {
		return nil, ErrMedicationIDRequired
	}
	name, desc, ok, err := s.prescriptions.Medication(ctx, in.MedicationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidMedication
	}
	p := &Prescription{
		ID:           id,
		MedicationID: in.MedicationID,
		Name:         name,
		Description:  desc,
		Dose:         strings.TrimSpace(in.Dose),
		Delay:        strings.TrimSpace(in.Delay),
	}
	if err := s.prescriptions.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeletePrescription(ctx context.Context, id int64) error {
	return s.prescriptions.Delete(ctx, id)
}

func (s *Service) AddReport(ctx context.Context, in ReportInput) (*Report, error) {
	typ := strings.TrimSpace(in.Type)
	if in.AppointmentID <= 0 || typ == "" {
		return nil, ErrReportRequired
	}
	if _, err := s.appointments.GetAppointment(ctx, in.AppointmentID); err != nil {
		return nil, err
	}
	rep := &Report{AppointmentID: in.AppointmentID, Type: typ, Content: in.Content}
	if err := s.reports.Create(ctx, rep, s.now().UTC()); err != nil {
		return nil, err
	}
	return rep, nil
}

// DeleteForAppointments removes reports, causes and prescriptions for the
// given appointments. Callers run it inside the transaction that deletes the
// appointments themselves.
func (s *Service) DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error {
	if len(appointmentIDs) == 0 {
		return nil
	}
	if err := s.reports.DeleteForAppointments(ctx, appointmentIDs); err != nil {
		return err
	}
	if err := s.causes.DeleteForAppointments(ctx, appointmentIDs); err != nil {
		return err
	}
	if err := s.prescriptions.DeleteForAppointments(ctx, appointmentIDs); err != nil {
		return err
	}
	s.logger.Debug().Int("appointments", len(appointmentIDs)).Msg("visit records deleted")
	return nil
}
