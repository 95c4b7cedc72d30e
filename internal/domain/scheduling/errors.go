package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Booking rejections.
var (
	ErrUnknownPatient       = errors.New("unknown patient")
	ErrNoDoctorAvailable    = errors.New("no doctor available")
	ErrInvalidDateTime      = errors.New("invalid appointment date or time")
	ErrDailyLimitExceeded   = errors.New("daily appointment limit reached")
	ErrDuplicateBooking     = errors.New("patient already booked at this time")
	ErrSlotTaken            = errors.New("slot already booked")
	ErrNoScheduleForDate    = errors.New("no schedule config for date")
	ErrOutsideScheduleHours = errors.New("time outside schedule hours")
	ErrInvalidStatus        = errors.New("invalid appointment status")
)

var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidTimeFormat = errors.New("invalid time")
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrScheduleInUse     = errors.New("schedule has appointments")
	ErrScheduleNotFound  = errors.New("schedule config not found")

	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotConflict is returned by repositories when the (date, time)
	// unique index rejects a write.
	ErrSlotConflict = errors.New("appointment slot conflict")
)

// DailyLimitError reports the configured cap and matches
// ErrDailyLimitExceeded.
type DailyLimitError struct {
	Limit int
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily appointment limit of %d reached", e.Limit)
}

func (e *DailyLimitError) Is(target error) bool { return target == ErrDailyLimitExceeded }

// FieldError is a request body field that could not be decoded.
type FieldError struct {
	Field    string
	Expected string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("decode %s: expected %s", e.Field, e.Expected)
}

func typeFieldError(e *json.UnmarshalTypeError) *FieldError {
	t := e.Type
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	expected := "a " + t.String()
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
		expected = "a number"
	case reflect.String:
		expected = "a string"
	}
	return &FieldError{Field: e.Field, Expected: expected}
}

// userMessages is the text clinic staff see. Entries with detail keep the
// wrapped explanation after the sentinel, e.g. "Invalid schedule: buffer
// must not be negative".
var userMessages = []struct {
	err    error
	text   string
	detail bool
}{
	{ErrUnknownPatient, "Invalid patient_id. Patient does not exist.", false},
	{ErrNoDoctorAvailable, "No doctor is available to assign to this appointment.", false},
	{ErrInvalidDateTime, "Invalid date or time. Expected YYYY-MM-DD and HH:MM.", false},
	{ErrDuplicateBooking, "You already have an appointment for this time.", false},
	{ErrSlotTaken, "This appointment slot is already booked. Please select another time.", false},
	{ErrNoScheduleForDate, "No schedule configuration found for this date. Appointments can only be created from schedule configuration.", false},
	{ErrOutsideScheduleHours, "Selected time is outside the scheduled hours for this date.", false},
	{ErrInvalidStatus, "Invalid status. Expected Normal or Urgent.", false},
	{ErrInvalidDate, "Invalid date format", false},
	{ErrInvalidTimeFormat, "Invalid time format. Expected HH:MM", false},
	{ErrInvalidSchedule, "Invalid schedule", true},
	{ErrScheduleInUse, "Cannot delete schedule: appointments already exist for this date", false},
	{ErrScheduleNotFound, "Schedule config not found", false},
	{ErrAppointmentNotFound, "Appointment not found", false},
}

// UserMessage returns the staff-facing text for err. Unknown errors fall
// back to err.Error().
func UserMessage(err error) string {
	var limit *DailyLimitError
	var field *FieldError
	switch {
	case errors.As(err, &limit):
		return fmt.Sprintf("You have reached the maximum number of appointments for this day (%d).", limit.Limit)
	case errors.Is(err, ErrDailyLimitExceeded):
		return "You have reached the maximum number of appointments for this day."
	case errors.As(err, &field):
		return fmt.Sprintf("Invalid %s. Expected %s.", field.Field, field.Expected)
	}
	for _, m := range userMessages {
		if !errors.Is(err, m.err) {
			continue
		}
		if m.detail {
			if _, rest, ok := strings.Cut(err.Error(), m.err.Error()); ok && rest != "" {
				return m.text + rest
			}
		}
		return m.text
	}
	return err.Error()
}

var bookingReasons = []struct {
	err    error
	reason string
}{
	{ErrUnknownPatient, "unknown_patient"},
	{ErrNoDoctorAvailable, "no_doctor"},
	{ErrInvalidDateTime, "invalid_datetime"},
	{ErrInvalidStatus, "invalid_status"},
	{ErrDailyLimitExceeded, "daily_limit"},
	{ErrDuplicateBooking, "duplicate"},
	{ErrSlotTaken, "slot_taken"},
	{ErrNoScheduleForDate, "no_schedule"},
	{ErrOutsideScheduleHours, "outside_hours"},
}

// IsBookingRejection reports whether err is a user-correctable booking
// failure rather than a storage error.
func IsBookingRejection(err error) bool {
	return bookingReason(err) != ""
}

func bookingReason(err error) string {
	for _, r := range bookingReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

func bookingOutcome(err error) string {
	if err == nil {
		return "created"
	}
	if r := bookingReason(err); r != "" {
		return r
	}
	return "error"
}
