package identity

import (
	"errors"

	"github.com/clinic/clinic/pkg/calendar"
)

const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

type Patient struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Gender   string         `json:"gender"`
	DOB      *calendar.Date `json:"dob"`
	ContInfo *string        `json:"continfo"`
}

// PatientInput is the POST /patients body. dob accepts any supported date form.
type PatientInput struct {
	Name     string  `json:"name"`
	Gender   string  `json:"gender"`
	DOB      string  `json:"dob"`
	ContInfo *string `json:"continfo"`
}

// User is a staff account. Password hashes never leave the repository.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrNameRequired    = errors.New("patient name required")
	ErrInvalidGender   = errors.New("invalid gender")
	ErrInvalidDOB      = errors.New("invalid date of birth")
)

var userMessages = []struct {
	err  error
	text string
}{
	{ErrPatientNotFound, "Patient not found"},
	{ErrNameRequired, "Name is required"},
	{ErrInvalidGender, "Invalid gender. Expected Male, Female or Other."},
	{ErrInvalidDOB, "Invalid date of birth"},
}

// UserMessage returns the staff-facing text for err.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.text
		}
	}
	return err.Error()
}
