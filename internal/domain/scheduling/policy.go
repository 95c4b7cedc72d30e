package scheduling

import (
	"context"
	"fmt"
)

const RoleDoctor = "doctor"

// DoctorAssignmentPolicy resolves which doctor an appointment belongs to.
// requested is the user_id from the request, nil when the caller sent none.
type DoctorAssignmentPolicy interface {
	AssignDoctor(ctx context.Context, requested *int64) (int64, error)
}

// FirstDoctorPolicy accepts the requested user when it is a doctor and
// otherwise falls back to the doctor with the lowest id.
type FirstDoctorPolicy struct {
	Users UserDirectory
}

func (p FirstDoctorPolicy) AssignDoctor(ctx context.Context, requested *int64) (int64, error) {
	if requested != nil && *requested > 0 {
		return checkDoctor(ctx, p.Users, *requested)
	}
	id, ok, err := p.Users.FirstUserWithRole(ctx, RoleDoctor)
	if err != nil {
		return 0, fmt.Errorf("find default doctor: %w", err)
	}
	if !ok {
		return 0, ErrNoDoctorAvailable
	}
	return id, nil
}

// RequireDoctorPolicy rejects bookings that do not name a doctor.
type RequireDoctorPolicy struct {
	Users UserDirectory
}

func (p RequireDoctorPolicy) AssignDoctor(ctx context.Context, requested *int64) (int64, error) {
	if requested == nil || *requested <= 0 {
		return 0, ErrNoDoctorAvailable
	}
	return checkDoctor(ctx, p.Users, *requested)
}

func checkDoctor(ctx context.Context, users UserDirectory, id int64) (int64, error) {
	ok, err := users.UserHasRole(ctx, id, RoleDoctor)
	if err != nil {
		return 0, fmt.Errorf("look up user %d: %w", id, err)
	}
	if !ok {
		return 0, ErrNoDoctorAvailable
	}
	return id, nil
}
