package visit

import (
	"time"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

// Cause links an appointment to a reason for the visit. Causes are shared
// reference rows; removing one from an appointment only drops the link.
type Cause struct {
	AppointmentID int64  `json:"appointment_id"`
	CauseID       int64  `json:"cause_id"`
	Description   string `json:"cause_description"`
}

// Prescription is a medication prescribed during an appointment.
type Prescription struct {
	ID            int64  `json:"id"`
	AppointmentID int64  `json:"appointment_id"`
	MedicationID  int64  `json:"medication_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Dose          string `json:"dose"`
	Delay         string `json:"delay"`
}

// Report is a document written for an appointment.
type Report struct {
	ID            int64     `json:"id"`
	AppointmentID int64     `json:"appointment_id"`
	Type          string    `json:"type"`
	Content       string    `json:"content"`
	Date          time.Time `json:"date"`
}

type Details struct {
	*scheduling.Appointment
	Causes        []*Cause        `json:"causes"`
	Prescriptions []*Prescription `json:"prescriptions"`
	Reports       []*Report       `json:"reports"`
}

// CauseInput names either an existing cause or free text for a new one.
type CauseInput struct {
	AppointmentID int64  `json:"appointment_id"`
	CauseID       int64  `json:"cause_id"`
	Description   string `json:"description"`
}

type PrescriptionInput struct {
	AppointmentID int64  `json:"appointment_id"`
	MedicationID  int64  `json:"medication_id"`
	Dose          string `json:"dose"`
	Delay         string `json:"delay"`
}

type ReportInput struct {
	AppointmentID int64  `json:"appointment_id"`
	Type          string `json:"type"`
	Content       string `json:"content"`
}
