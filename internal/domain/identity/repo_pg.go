package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/calendar"
)

// -- Patient Repository --

type patientRepoPG struct{ pool db.Querier }

func NewPatientRepoPG(pool db.Querier) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, name, gender, to_char(dob, 'YYYY-MM-DD'), continfo`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var dob *string
	if err := row.Scan(&p.ID, &p.Name, &p.Gender, &dob, &p.ContInfo); err != nil {
		return nil, err
	}
	if dob != nil {
		d, err := calendar.ParseDate(*dob)
		if err != nil {
			return nil, fmt.Errorf("patient %d: %w", p.ID, err)
		}
		p.DOB = &d
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	var dob *string
	if p.DOB != nil {
		s := p.DOB.String()
		dob = &s
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (name, gender, dob, continfo)
		VALUES ($1, $2, $3::date, $4)
		RETURNING id`,
		p.Name, p.Gender, dob, p.ContInfo,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *patientRepoPG) PatientExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check patient %d: %w", id, err)
	}
	return ok, nil
}

var medicalHistoryTables = []string{
	"patient_allergies",
	"patient_vaccin",
	"patient_medication",
	"patient_familyhistory",
}

func (r *patientRepoPG) DeleteMedicalHistory(ctx context.Context, patientID int64) error {
	conn := r.conn(ctx)
	for _, table := range medicalHistoryTables {
		if _, err := conn.Exec(ctx, `DELETE FROM `+table+` WHERE patient_id = $1`, patientID); err != nil {
			return fmt.Errorf("delete %s for patient %d: %w", table, patientID, err)
		}
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// -- User Repository --

type userRepoPG struct{ pool db.Querier }

func NewUserRepoPG(pool db.Querier) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Roles are stored capitalized ("Doctor"); lookups compare case-insensitively.

func (r *userRepoPG) List(ctx context.Context, role string) ([]*User, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if role == "" {
		rows, err = r.conn(ctx).Query(ctx, `SELECT id, name, email, role FROM users ORDER BY id`)
	} else {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT id, name, email, role FROM users WHERE lower(role) = lower($1) ORDER BY id`, role)
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, err
		}
		items = append(items, &u)
	}
	return items, rows.Err()
}

func (r *userRepoPG) UserHasRole(ctx context.Context, id int64, role string) (bool, error) {
	var ok bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND lower(role) = lower($2))`, id, role).Scan(&ok); err != nil {
		return false, fmt.Errorf("check role of user %d: %w", id, err)
	}
	return ok, nil
}

func (r *userRepoPG) FirstUserWithRole(ctx context.Context, role string) (int64, bool, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM users WHERE lower(role) = lower($1) ORDER BY id LIMIT 1`, role).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("first user with role %s: %w", role, err)
	}
	return id, true, nil
}
