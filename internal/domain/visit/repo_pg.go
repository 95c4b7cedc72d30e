package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/db"
)

// -- Cause Repository --

type causeRepoPG struct{ pool db.Querier }

func NewCauseRepoPG(pool db.Querier) CauseRepository {
	return &causeRepoPG{pool: pool}
}

func (r *causeRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *causeRepoPG) ListAll(ctx context.Context) ([]*Cause, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ac.appointment_id, ac.cause_id, c.description
		FROM appointment_cause ac
		JOIN cause c ON ac.cause_id = c.id
		ORDER BY ac.appointment_id, ac.cause_id`)
	if err != nil {
		return nil, fmt.Errorf("list appointment causes: %w", err)
	}
	return scanCauses(rows)
}

func (r *causeRepoPG) ListForAppointment(ctx context.Context, appointmentID int64) ([]*Cause, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ac.appointment_id, ac.cause_id, c.description
		FROM appointment_cause ac
		JOIN cause c ON ac.cause_id = c.id
		WHERE ac.appointment_id = $1
		ORDER BY ac.cause_id`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list causes for appointment %d: %w", appointmentID, err)
	}
	return scanCauses(rows)
}

func scanCauses(rows pgx.Rows) ([]*Cause, error) {
	defer rows.Close()

	var items []*Cause
	for rows.Next() {
		var c Cause
		if err := rows.Scan(&c.AppointmentID, &c.CauseID, &c.Description); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

func (r *causeRepoPG) Describe(ctx context.Context, causeID int64) (string, bool, error) {
	var desc string
	err := r.conn(ctx).QueryRow(ctx, `SELECT description FROM cause WHERE id = $1`, causeID).Scan(&desc)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("look up cause %d: %w", causeID, err)
	}
	return desc, true, nil
}

func (r *causeRepoPG) CreateCause(ctx context.Context, description string) (int64, error) {
	var id int64
	if err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO cause (description) VALUES ($1) RETURNING id`, description).Scan(&id); err != nil {
		return 0, fmt.Errorf("create cause: %w", err)
	}
	return id, nil
}

func (r *causeRepoPG) Linked(ctx context.Context, appointmentID, causeID int64) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment_cause WHERE appointment_id = $1 AND cause_id = $2)`,
		appointmentID, causeID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check cause link: %w", err)
	}
	return ok, nil
}

func (r *causeRepoPG) Link(ctx context.Context, appointmentID, causeID int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO appointment_cause (appointment_id, cause_id) VALUES ($1, $2)`, appointmentID, causeID)
	if _, dup := db.UniqueViolation(err); dup {
		return ErrDuplicateCause
	}
	if err != nil {
		return fmt.Errorf("link cause %d to appointment %d: %w", causeID, appointmentID, err)
	}
	return nil
}

func (r *causeRepoPG) Unlink(ctx context.Context, appointmentID, causeID int64) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment_cause WHERE appointment_id = $1 AND cause_id = $2`, appointmentID, causeID)
	if err != nil {
		return fmt.Errorf("unlink cause %d from appointment %d: %w", causeID, appointmentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCauseNotFound
	}
	return nil
}

func (r *causeRepoPG) DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment_cause WHERE appointment_id = ANY($1)`, appointmentIDs); err != nil {
		return fmt.Errorf("delete appointment causes: %w", err)
	}
	return nil
}

// -- Prescription Repository --

type prescriptionRepoPG struct{ pool db.Querier }

func NewPrescriptionRepoPG(pool db.Querier) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *prescriptionRepoPG) ListForAppointment(ctx context.Context, appointmentID int64) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT am.id, am.appointment_id, am.medication_id, m.name, COALESCE(m.description, ''), am.dose, am.delay
		FROM appointment_medication am
		JOIN medication m ON am.medication_id = m.id
		WHERE am.appointment_id = $1
		ORDER BY am.id`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions for appointment %d: %w", appointmentID, err)
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.AppointmentID, &p.MedicationID, &p.Name, &p.Description, &p.Dose, &p.Delay); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *prescriptionRepoPG) Medication(ctx context.Context, medicationID int64) (string, string, bool, error) {
	var name, desc string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT name, COALESCE(description, '') FROM medication WHERE id = $1`, medicationID).Scan(&name, &desc)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("look up medication %d: %w", medicationID, err)
	}
	return name, desc, true, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_medication (appointment_id, medication_id, dose, delay)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.AppointmentID, p.MedicationID, p.Dose, p.Delay,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment_medication
		SET medication_id = $1, dose = $2, delay = $3
		WHERE id = $4
		RETURNING appointment_id`,
		p.MedicationID, p.Dose, p.Delay, p.ID,
	).Scan(&p.AppointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPrescriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("update prescription %d: %w", p.ID, err)
	}
	return nil
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment_medication WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prescription %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}

func (r *prescriptionRepoPG) DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment_medication WHERE appointment_id = ANY($1)`, appointmentIDs); err != nil {
		return fmt.Errorf("delete appointment prescriptions: %w", err)
	}
	return nil
}

// -- Report Repository --

type reportRepoPG struct{ pool db.Querier }

func NewReportRepoPG(pool db.Querier) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *reportRepoPG) ListForAppointment(ctx context.Context, appointmentID int64) ([]*Report, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, type, content, date
		FROM document
		WHERE appointment_id = $1
		ORDER BY date DESC, id DESC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list reports for appointment %d: %w", appointmentID, err)
	}
	defer rows.Close()

	var items []*Report
	for rows.Next() {
		var rep Report
		if err := rows.Scan(&rep.ID, &rep.AppointmentID, &rep.Type, &rep.Content, &rep.Date); err != nil {
			return nil, err
		}
		items = append(items, &rep)
	}
	return items, rows.Err()
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report, at time.Time) error {
	rep.Date = at
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document (appointment_id, type, content, date)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		rep.AppointmentID, rep.Type, rep.Content, rep.Date,
	).Scan(&rep.ID)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (r *reportRepoPG) DeleteForAppointments(ctx context.Context, appointmentIDs []int64) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM document WHERE appointment_id = ANY($1)`, appointmentIDs); err != nil {
		return fmt.Errorf("delete appointment reports: %w", err)
	}
	return nil
}
