package visit

import (
	"errors"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

var (
	ErrCauseRequired        = errors.New("cause id or description required")
	ErrInvalidCause         = errors.New("unknown cause")
	ErrDuplicateCause       = errors.New("cause already linked to appointment")
	ErrInvalidCauseKey      = errors.New("malformed cause key")
	ErrMedicationRequired   = errors.New("appointment id and medication id required")
	ErrMedicationIDRequired = errors.New("medication id required")
	ErrInvalidMedication    = errors.New("unknown medication")
	ErrReportRequired       = errors.New("appointment id and report type required")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrCauseNotFound        = errors.New("cause link not found")
)

var userMessages = []struct {
	err  error
	text string
}{
	{ErrCauseRequired, "Either cause_id or description is required"},
	{ErrInvalidCause, "Invalid cause_id. Must select from existing database records."},
	{ErrDuplicateCause, "This cause is already recorded for this appointment."},
	{ErrInvalidCauseKey, "Invalid cause id format. Expected 'appointment_id-cause_id'"},
	{ErrMedicationRequired, "appointment_id and medication_id required"},
	{ErrMedicationIDRequired, "medication_id is required"},
	{ErrInvalidMedication, "Invalid medication_id. Must select from existing database records."},
	{ErrReportRequired, "appointment_id and type required"},
	{ErrPrescriptionNotFound, "Prescription not found"},
	{ErrCauseNotFound, "Cause not found"},
}

// UserMessage returns the staff-facing text for err, deferring to the
// scheduling package for appointment errors.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.text
		}
	}
	return scheduling.UserMessage(err)
}
