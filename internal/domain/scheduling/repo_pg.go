package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/calendar"
)

// Dates and times are read back through to_char so the driver never applies
// a timezone to them.

// =========== Schedule Config Repository ===========

type scheduleConfigRepoPG struct{ pool db.Querier }

func NewScheduleConfigRepoPG(pool db.Querier) ScheduleConfigRepository {
	return &scheduleConfigRepoPG{pool: pool}
}

func (r *scheduleConfigRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const configCols = `id, to_char(date, 'YYYY-MM-DD'), to_char(starttime, 'HH24:MI'),
	to_char(endtime, 'HH24:MI'), time_interval, buffer`

func scanConfig(row pgx.Row) (*ScheduleConfig, error) {
	var c ScheduleConfig
	var date, start, end string
	if err := row.Scan(&c.ID, &date, &start, &end, &c.SlotDuration, &c.Buffer); err != nil {
		return nil, err
	}
	var err error
	if c.Date, err = calendar.ParseDate(date); err != nil {
		return nil, fmt.Errorf("schedule config %d: %w", c.ID, err)
	}
	if c.StartTime, err = calendar.ParseClock(start); err != nil {
		return nil, fmt.Errorf("schedule config %d: %w", c.ID, err)
	}
	if c.EndTime, err = calendar.ParseClock(end); err != nil {
		return nil, fmt.Errorf("schedule config %d: %w", c.ID, err)
	}
	return &c, nil
}

func collectConfigs(rows pgx.Rows) ([]*ScheduleConfig, error) {
	defer rows.Close()
	var items []*ScheduleConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *scheduleConfigRepoPG) Upsert(ctx context.Context, cfg *ScheduleConfig) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO scheduleconfig (date, starttime, endtime, time_interval, buffer)
		VALUES ($1::date, $2::time, $3::time, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			starttime = EXCLUDED.starttime,
			endtime = EXCLUDED.endtime,
			time_interval = EXCLUDED.time_interval,
			buffer = EXCLUDED.buffer
		RETURNING id`,
		cfg.Date.String(), cfg.StartTime.String(), cfg.EndTime.String(), cfg.SlotDuration, cfg.Buffer,
	).Scan(&cfg.ID)
	if err != nil {
		return fmt.Errorf("upsert schedule config: %w", err)
	}
	return nil
}

func (r *scheduleConfigRepoPG) GetByID(ctx context.Context, id int64) (*ScheduleConfig, error) {
	c, err := scanConfig(r.conn(ctx).QueryRow(ctx, `SELECT `+configCols+` FROM scheduleconfig WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return c, err
}

func (r *scheduleConfigRepoPG) GetByDate(ctx context.Context, date calendar.Date) (*ScheduleConfig, error) {
	c, err := scanConfig(r.conn(ctx).QueryRow(ctx,
		`SELECT `+configCols+` FROM scheduleconfig WHERE date = $1::date ORDER BY id DESC LIMIT 1`, date.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return c, err
}

func (r *scheduleConfigRepoPG) ListByDate(ctx context.Context, date calendar.Date) ([]*ScheduleConfig, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+configCols+` FROM scheduleconfig WHERE date = $1::date ORDER BY id`, date.String())
	if err != nil {
		return nil, fmt.Errorf("list schedule configs for %s: %w", date, err)
	}
	return collectConfigs(rows)
}

func (r *scheduleConfigRepoPG) List(ctx context.Context) ([]*ScheduleConfig, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+configCols+` FROM scheduleconfig ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedule configs: %w", err)
	}
	return collectConfigs(rows)
}

func (r *scheduleConfigRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM scheduleconfig WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule config %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *scheduleConfigRepoPG) DeleteByDate(ctx context.Context, date calendar.Date) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM scheduleconfig WHERE date = $1::date`, date.String())
	if err != nil {
		return 0, fmt.Errorf("delete schedule config for %s: %w", date, err)
	}
	return tag.RowsAffected(), nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, user_id, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI'), status, note`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date, clock string
	if err := row.Scan(&a.ID, &a.PatientID, &a.UserID, &date, &clock, &a.Status, &a.Note); err != nil {
		return nil, err
	}
	var err error
	if a.Date, err = calendar.ParseDate(date); err != nil {
		return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
	}
	if a.Time, err = calendar.ParseClock(clock); err != nil {
		return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func slotConflict(err error) error {
	if _, ok := db.UniqueViolation(err); ok {
		return ErrSlotConflict
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (patient_id, user_id, date, time, status, note)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		RETURNING id`,
		a.PatientID, a.UserID, a.Date.String(), a.Time.String(), a.Status, a.Note,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("create appointment: %w", slotConflict(err))
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) List(ctx context.Context) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment ORDER BY date, time, id`)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListByDate(ctx context.Context, date calendar.Date) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE date = $1::date ORDER BY time, id`, date.String())
	if err != nil {
		return nil, fmt.Errorf("list appointments for %s: %w", date, err)
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET patient_id = $2, user_id = $3, date = $4::date, time = $5::time,
			status = $6, note = $7
		WHERE id = $1`,
		a.ID, a.PatientID, a.UserID, a.Date.String(), a.Time.String(), a.Status, a.Note)
	if err != nil {
		return fmt.Errorf("update appointment %d: %w", a.ID, slotConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *appointmentRepoPG) CountForPatientOnDate(ctx context.Context, patientID int64, date calendar.Date, excludeID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1 AND date = $2::date AND id <> $3`,
		patientID, date.String(), excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments for patient %d on %s: %w", patientID, date, err)
	}
	return n, nil
}

func (r *appointmentRepoPG) ExistsForPatientSlot(ctx context.Context, patientID int64, date calendar.Date, t calendar.Clock, excludeID int64) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE patient_id = $1 AND date = $2::date AND time = $3::time AND id <> $4)`,
		patientID, date.String(), t.String(), excludeID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check patient slot %s %s: %w", date, t, err)
	}
	return ok, nil
}

func (r *appointmentRepoPG) ExistsForSlot(ctx context.Context, date calendar.Date, t calendar.Clock, excludeID int64) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE date = $1::date AND time = $2::time AND id <> $3)`,
		date.String(), t.String(), excludeID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check slot %s %s: %w", date, t, err)
	}
	return ok, nil
}

func (r *appointmentRepoPG) CountOnDate(ctx context.Context, date calendar.Date) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE date = $1::date`, date.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments on %s: %w", date, err)
	}
	return n, nil
}

func (r *appointmentRepoPG) BookedTimes(ctx context.Context, date calendar.Date) ([]calendar.Clock, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT to_char(time, 'HH24:MI') FROM appointment WHERE date = $1::date ORDER BY time`, date.String())
	if err != nil {
		return nil, fmt.Errorf("booked times on %s: %w", date, err)
	}
	defer rows.Close()

	var times []calendar.Clock
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		t, err := calendar.ParseClock(s)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (r *appointmentRepoPG) IDsForPatient(ctx context.Context, patientID int64) ([]int64, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM appointment WHERE patient_id = $1 ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("appointment ids for patient %d: %w", patientID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *appointmentRepoPG) DeleteByPatient(ctx context.Context, patientID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete appointments for patient %d: %w", patientID, err)
	}
	return tag.RowsAffected(), nil
}

func (r *appointmentRepoPG) LockDate(ctx context.Context, date calendar.Date) error {
	return db.AdvisoryXactLock(ctx, db.LockKey("appointment_date", date.String()))
}
