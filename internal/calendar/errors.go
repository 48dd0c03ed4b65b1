package calendar

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrParse means a date or time phrase could not be understood.
	ErrParse = errors.New("calendar: could not parse date or time")
	// ErrConflict means the slot overlaps an existing appointment.
	ErrConflict = errors.New("calendar: time slot is already booked")
	// ErrClosed means the clinic does not open on that day.
	ErrClosed = errors.New("calendar: clinic closed")
	// ErrOutsideHours means the start is outside the day's opening hours.
	ErrOutsideHours = errors.New("calendar: outside working hours")
	// ErrPast means the start lies before now.
	ErrPast = errors.New("calendar: cannot book in the past")
	// ErrNotFound means no appointment has the requested id.
	ErrNotFound = errors.New("calendar: appointment not found")
)

// Reason codes reported with an availability verdict.
const (
	ReasonConflict     = "conflict"
	ReasonClosed       = "closed"
	ReasonOutsideHours = "outside_hours"
	ReasonPast         = "past"
)

// Availability is the verdict of CheckAvailability.
type Availability struct {
	Available bool
	Reason    string
	Message   string
	// ConflictingID is for internal use only and never shown to patients.
	ConflictingID   string
	ConflictingTime time.Time
}

// UnavailableError wraps a negative verdict so callers can use errors.Is
// against the sentinel that matches its reason.
type UnavailableError struct {
	Availability Availability
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("calendar: slot unavailable (%s): %s", e.Availability.Reason, e.Availability.Message)
}

// Is matches the sentinel for the verdict's reason.
func (e *UnavailableError) Is(target error) bool {
	switch e.Availability.Reason {
	case ReasonConflict:
		return target == ErrConflict
	case ReasonClosed:
		return target == ErrClosed
	case ReasonOutsideHours:
		return target == ErrOutsideHours
	case ReasonPast:
		return target == ErrPast
	}
	return false
}
