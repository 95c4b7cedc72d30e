package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/clinic/internal/platform/metrics"
	"github.com/clinic/clinic/pkg/calendar"
)

const DefaultDailyLimit = 2

type Options struct {
	// DailyLimit caps appointments per patient per date.
	DailyLimit int
	// RequireSlotAlignment additionally requires the requested time to be
	// the start of a generated slot, not just inside the schedule window.
	RequireSlotAlignment bool
}

type Service struct {
	configs      ScheduleConfigRepository
	appointments AppointmentRepository
	patients     PatientDirectory
	doctors      DoctorAssignmentPolicy
	tx           Transactor
	visits       VisitRecordCleaner
	metrics      *metrics.BookingMetrics
	logger       zerolog.Logger
	opts         Options
}

func NewService(configs ScheduleConfigRepository, appts AppointmentRepository, patients PatientDirectory,
	doctors DoctorAssignmentPolicy, tx Transactor, opts Options) *Service {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = DefaultDailyLimit
	}
	return &Service{
		configs:      configs,
		appointments: appts,
		patients:     patients,
		doctors:      doctors,
		tx:           tx,
		logger:       zerolog.Nop(),
		opts:         opts,
	}
}

func (s *Service) WithVisitCleaner(v VisitRecordCleaner) *Service {
	s.visits = v
	return s
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.logger = l.With().Str("component", "scheduling").Logger()
	return s
}

// -- Schedule configuration --

func (s *Service) UpsertConfig(ctx context.Context, in ScheduleConfigInput) (*ScheduleConfig, error) {
	cfg, err := normalizeConfig(in)
	if err != nil {
		return nil, err
	}
	err = s.configs.Upsert(ctx, cfg)
	s.metrics.ObserveConfigWrite("upsert", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("config_id", cfg.ID).Str("date", cfg.Date.String()).Msg("schedule config saved")
	return cfg, nil
}

func normalizeConfig(in ScheduleConfigInput) (*ScheduleConfig, error) {
	date, err := calendar.NormalizeDate(in.Date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	start, err := calendar.NormalizeTime(in.StartTime)
	if err != nil {
		return nil, ErrInvalidTimeFormat
	}
	end, err := calendar.NormalizeTime(in.EndTime)
	if err != nil {
		return nil, ErrInvalidTimeFormat
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: starttime must be before endtime", ErrInvalidSchedule)
	}
	if in.SlotDuration <= 0 {
		return nil, fmt.Errorf("%w: time_interval must be greater than zero", ErrInvalidSchedule)
	}
	if in.Buffer < 0 {
		return nil, fmt.Errorf("%w: buffer must not be negative", ErrInvalidSchedule)
	}
	return &ScheduleConfig{
		Date:         date,
		StartTime:    start,
		EndTime:      end,
		SlotDuration: in.SlotDuration,
		Buffer:       in.Buffer,
	}, nil
}

// GetConfigByDate returns nil without error when the date has no config.
func (s *Service) GetConfigByDate(ctx context.Context, date calendar.Date) (*ScheduleConfig, error) {
	cfg, err := s.configs.GetByDate(ctx, date)
	if errors.Is(err, ErrScheduleNotFound) {
		return nil, nil
	}
	return cfg, err
}

func (s *Service) ListConfigs(ctx context.Context) ([]*ScheduleConfig, error) {
	return s.configs.List(ctx)
}

// DeleteConfigByID removes the config unless its date has appointments. The
// check and the delete hold the date's booking lock.
func (s *Service) DeleteConfigByID(ctx context.Context, id int64) (*ScheduleConfig, error) {
	var deleted *ScheduleConfig
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cfg, err := s.configs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guardConfigDelete(ctx, cfg.Date); err != nil {
			return err
		}
		if err := s.configs.Delete(ctx, id); err != nil {
			return err
		}
		deleted = cfg
		return nil
	})
	s.metrics.ObserveConfigWrite("delete", err)
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *Service) DeleteConfigByDate(ctx context.Context, date calendar.Date) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.guardConfigDelete(ctx, date); err != nil {
			return err
		}
		n, err := s.configs.DeleteByDate(ctx, date)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrScheduleNotFound
		}
		return nil
	})
	s.metrics.ObserveConfigWrite("delete", err)
	return err
}

func (s *Service) guardConfigDelete(ctx context.Context, date calendar.Date) error {
	if err := s.appointments.LockDate(ctx, date); err != nil {
		return err
	}
	n, err := s.appointments.CountOnDate(ctx, date)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrScheduleInUse
	}
	return nil
}

// -- Availability --

// SlotsForDate lists every generated slot on date with its booked flag.
// The result is a read-time snapshot; booking re-checks authoritatively.
func (s *Service) SlotsForDate(ctx context.Context, date calendar.Date) ([]AvailableSlot, error) {
	var (
		configs []*ScheduleConfig
		booked  []calendar.Clock
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		configs, err = s.configs.ListByDate(gctx, date)
		return err
	})
	g.Go(func() error {
		var err error
		booked, err = s.appointments.BookedTimes(gctx, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.metrics.ObserveAvailability(len(configs) > 0)

	taken := make(map[calendar.Clock]bool, len(booked))
	for _, t := range booked {
		taken[t] = true
	}

	out := []AvailableSlot{}
	for _, cfg := range configs {
		for _, slot := range GenerateSlots(*cfg) {
			out = append(out, AvailableSlot{ID: slot.Key(), Slot: slot, IsBooked: taken[slot.Time]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// -- Appointments --

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context) ([]*Appointment, error) {
	return s.appointments.List(ctx)
}

func (s *Service) ListAppointmentsByDate(ctx context.Context, date calendar.Date) ([]*Appointment, error) {
	return s.appointments.ListByDate(ctx, date)
}

// BookAppointment validates req and creates the appointment. Checks run in a
// fixed order and the first failure is returned. The slot rules and the
// insert run in one transaction holding the date's booking lock, and the
// (date, time) unique index backs them up.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	start := time.Now()
	appt, err := s.book(ctx, req)
	s.metrics.ObserveBooking(bookingOutcome(err), time.Since(start))
	s.logOutcome(err, "booking", req.PatientID)
	return appt, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := s.checkPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	doctorID, err := s.doctors.AssignDoctor(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	date, clock, err := normalizeDateTime(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	status, err := normalizeStatus(req.Status)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID: req.PatientID,
		UserID:    doctorID,
		Date:      date,
		Time:      clock,
		Status:    status,
		Note:      normalizeNote(req.Note),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockDate(ctx, date); err != nil {
			return err
		}
		if err := s.checkSlotRules(ctx, appt, 0); err != nil {
			return err
		}
		return s.appointments.Create(ctx, appt)
	})
	if err != nil {
		return nil, s.resolveConflict(ctx, err, appt, 0)
	}
	return appt, nil
}

// UpdateAppointment saves the edited appointment. Status and note are
// replaced as sent: an empty status resets to Normal and a null or blank
// note clears it. Omitted patient, doctor, date or time keep their stored
// value. Changing the patient, date or time re-runs the booking checks with
// the appointment itself excluded; status and note edits do not.
func (s *Service) UpdateAppointment(ctx context.Context, id int64, req BookingRequest) (*Appointment, error) {
	cur, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *cur

	if req.PatientID != 0 && req.PatientID != cur.PatientID {
		if err := s.checkPatient(ctx, req.PatientID); err != nil {
			return nil, err
		}
		next.PatientID = req.PatientID
	}
	if req.UserID != nil && *req.UserID != cur.UserID {
		doctorID, err := s.doctors.AssignDoctor(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		next.UserID = doctorID
	}
	if req.Date != "" {
		d, err := calendar.NormalizeDate(req.Date)
		if err != nil {
			return nil, ErrInvalidDateTime
		}
		next.Date = d
	}
	if req.Time != "" {
		t, err := calendar.NormalizeTime(req.Time)
		if err != nil {
			return nil, ErrInvalidDateTime
		}
		next.Time = t
	}
	if next.Status, err = normalizeStatus(req.Status); err != nil {
		return nil, err
	}
	next.Note = normalizeNote(req.Note)

	moved := next.PatientID != cur.PatientID || next.Date != cur.Date || next.Time != cur.Time
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if moved {
			if err := s.lockDates(ctx, cur.Date, next.Date); err != nil {
				return err
			}
			if err := s.checkSlotRules(ctx, &next, id); err != nil {
				return err
			}
		}
		return s.appointments.Update(ctx, &next)
	})
	s.logOutcome(err, "update", next.PatientID)
	if err != nil {
		return nil, s.resolveConflict(ctx, err, &next, id)
	}
	return &next, nil
}

// DeleteAppointment removes the appointment and its visit records together.
func (s *Service) DeleteAppointment(ctx context.Context, id int64) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if s.visits != nil {
			if err := s.visits.DeleteForAppointments(ctx, []int64{id}); err != nil {
				return fmt.Errorf("delete visit records for appointment %d: %w", id, err)
			}
		}
		return s.appointments.Delete(ctx, id)
	})
}

func (s *Service) checkPatient(ctx context.Context, patientID int64) error {
	if patientID <= 0 {
		return ErrUnknownPatient
	}
	ok, err := s.patients.PatientExists(ctx, patientID)
	if err != nil {
		return fmt.Errorf("look up patient %d: %w", patientID, err)
	}
	if !ok {
		return ErrUnknownPatient
	}
	return nil
}

// checkSlotRules runs the daily cap, duplicate, slot-taken and schedule
// checks, in that order. It must run under the date lock.
func (s *Service) checkSlotRules(ctx context.Context, a *Appointment, excludeID int64) error {
	n, err := s.appointments.CountForPatientOnDate(ctx, a.PatientID, a.Date, excludeID)
	if err != nil {
		return err
	}
	if n >= s.opts.DailyLimit {
		return &DailyLimitError{Limit: s.opts.DailyLimit}
	}

	dup, err := s.appointments.ExistsForPatientSlot(ctx, a.PatientID, a.Date, a.Time, excludeID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateBooking
	}

	taken, err := s.appointments.ExistsForSlot(ctx, a.Date, a.Time, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return ErrSlotTaken
	}

	cfg, err := s.configs.GetByDate(ctx, a.Date)
	if errors.Is(err, ErrScheduleNotFound) {
		return ErrNoScheduleForDate
	}
	if err != nil {
		return err
	}
	if !withinHours(*cfg, a.Time) {
		return ErrOutsideScheduleHours
	}
	if s.opts.RequireSlotAlignment && !alignedToSlot(*cfg, a.Time) {
		return ErrOutsideScheduleHours
	}
	return nil
}

// resolveConflict turns a unique-index rejection into the rejection the
// caller would have seen had it lost the race before the pre-checks.
func (s *Service) resolveConflict(ctx context.Context, err error, a *Appointment, excludeID int64) error {
	if !errors.Is(err, ErrSlotConflict) {
		return err
	}
	dup, lookupErr := s.appointments.ExistsForPatientSlot(ctx, a.PatientID, a.Date, a.Time, excludeID)
	if lookupErr == nil && dup {
		return ErrDuplicateBooking
	}
	return ErrSlotTaken
}

func (s *Service) lockDates(ctx context.Context, a, b calendar.Date) error {
	if b.Before(a) {
		a, b = b, a
	}
	if err := s.appointments.LockDate(ctx, a); err != nil {
		return err
	}
	if a == b {
		return nil
	}
	return s.appointments.LockDate(ctx, b)
}

func (s *Service) logOutcome(err error, op string, patientID int64) {
	switch {
	case err == nil:
		return
	case IsBookingRejection(err):
		s.logger.Debug().Str("op", op).Int64("patient_id", patientID).
			Str("reason", bookingReason(err)).Msg("appointment rejected")
	default:
		s.logger.Error().Err(err).Str("op", op).Int64("patient_id", patientID).Msg("appointment write failed")
	}
}

func normalizeDateTime(rawDate, rawTime string) (calendar.Date, calendar.Clock, error) {
	date, err := calendar.NormalizeDate(rawDate)
	if err != nil {
		return calendar.Date{}, calendar.Clock{}, ErrInvalidDateTime
	}
	clock, err := calendar.NormalizeTime(rawTime)
	if err != nil {
		return calendar.Date{}, calendar.Clock{}, ErrInvalidDateTime
	}
	return date, clock, nil
}

func normalizeNote(note *string) *string {
	if note == nil || strings.TrimSpace(*note) == "" {
		return nil
	}
	return note
}

func normalizeStatus(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return StatusNormal, nil
	case strings.EqualFold(raw, StatusNormal):
		return StatusNormal, nil
	case strings.EqualFold(raw, StatusUrgent):
		return StatusUrgent, nil
	}
	return "", ErrInvalidStatus
}
