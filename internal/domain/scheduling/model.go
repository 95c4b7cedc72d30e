package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/clinic/clinic/pkg/calendar"
)

const (
	StatusNormal = "Normal"
	StatusUrgent = "Urgent"
)

// ScheduleConfig is the bookable window for one date. Only one config exists
// per date; upserting the same date overwrites it in place.
type ScheduleConfig struct {
	ID           int64          `json:"id"`
	Date         calendar.Date  `json:"date"`
	StartTime    calendar.Clock `json:"starttime"`
	EndTime      calendar.Clock `json:"endtime"`
	SlotDuration int            `json:"time_interval"`
	Buffer       int            `json:"buffer"`
}

// ScheduleConfigInput is the raw POST /scheduleconfig body.
type ScheduleConfigInput struct {
	Date         string `json:"date"`
	StartTime    string `json:"starttime"`
	EndTime      string `json:"endtime"`
	SlotDuration int    `json:"time_interval"`
	Buffer       int    `json:"buffer"`
}

type Appointment struct {
	ID        int64          `json:"id"`
	PatientID int64          `json:"patient_id"`
	UserID    int64          `json:"user_id"`
	Date      calendar.Date  `json:"date"`
	Time      calendar.Clock `json:"time"`
	Status    string         `json:"status"`
	Note      *string        `json:"note"`
}

// BookingRequest carries date and time as received so that normalization
// failures surface as booking errors rather than decode errors.
type BookingRequest struct {
	PatientID int64   `json:"patient_id"`
	UserID    *int64  `json:"user_id"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Status    string  `json:"status"`
	Note      *string `json:"note"`
}

// UnmarshalJSON accepts patient_id and user_id as JSON numbers or numeric
// strings. Any other value for a field fails with a *FieldError naming it.
func (r *BookingRequest) UnmarshalJSON(data []byte) error {
	type plain BookingRequest
	var raw struct {
		plain
		PatientID json.RawMessage `json:"patient_id"`
		UserID    json.RawMessage `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return typeFieldError(typeErr)
		}
		return err
	}
	*r = BookingRequest(raw.plain)

	patientID, err := decodeID("patient_id", raw.PatientID)
	if err != nil {
		return err
	}
	if patientID != nil {
		r.PatientID = *patientID
	}
	r.UserID, err = decodeID("user_id", raw.UserID)
	return err
}

// decodeID reads an id sent as 3 or "3". Absent, null and "" give nil.
func decodeID(field string, raw json.RawMessage) (*int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return nil, nil
	}
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, &FieldError{Field: field, Expected: "a number"}
		}
		if text = strings.TrimSpace(text); text == "" {
			return nil, nil
		}
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, &FieldError{Field: field, Expected: "a number"}
	}
	return &id, nil
}

// Slot is one bookable start time produced from a ScheduleConfig.
type Slot struct {
	ConfigID int64          `json:"configId"`
	Date     calendar.Date  `json:"date"`
	Time     calendar.Clock `json:"time"`
	EndTime  calendar.Clock `json:"endTime"`
	Index    int            `json:"-"`
}

// Key is unique across configs, e.g. "12-3".
func (s Slot) Key() string { return fmt.Sprintf("%d-%d", s.ConfigID, s.Index) }

type AvailableSlot struct {
	ID string `json:"id"`
	Slot
	IsBooked bool `json:"isBooked"`
}
