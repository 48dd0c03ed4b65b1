// Package calendar owns the clinic's appointment document: parsing of
// human date phrases, availability checks and the flat JSON store.
package calendar

import (
	"strings"
	"time"
)

// Status values written to the document. Cancelled appointments are removed
// rather than flagged, so only StatusConfirmed is ever persisted.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Appointment is one persisted booking.
type Appointment struct {
	ID           string    `json:"id"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Duration     int       `json:"duration"`
	Reason       string    `json:"reason,omitempty"`
	DoctorName   string    `json:"doctor_name,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Overlaps reports whether [start, end) intersects the appointment.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && end.After(a.StartTime)
}

// NewAppointment carries the caller supplied fields for Create.
type NewAppointment struct {
	PatientName  string
	PatientPhone string
	Start        time.Time
	Duration     int // minutes; zero selects the clinic default
	Reason       string
	DoctorName   string
}

// AppointmentUpdate is a partial change. Nil fields are left as they are.
type AppointmentUpdate struct {
	Start      *time.Time
	DoctorName *string
	Reason     *string
}

// Empty reports whether the update carries no field at all.
func (u AppointmentUpdate) Empty() bool {
	return u.Start == nil && u.DoctorName == nil && u.Reason == nil
}

// NormalizePhone strips whitespace, dashes, dots and parentheses. A leading
// plus sign is kept.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
