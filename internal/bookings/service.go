package bookings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medibook-assistant/internal/calendar"
	"github.com/wolfman30/medibook-assistant/internal/clinic"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

var bookingsTracer = otel.Tracer("medibook.internal.bookings")

// Defaults applied when the patient does not name a doctor or a reason.
const (
	DefaultDoctor = "Any available doctor"
	DefaultReason = "General consultation"
)

// Result reasons beyond the calendar availability reasons.
const (
	ReasonParseError    = "parse_error"
	ReasonMissingFields = "missing_fields"
	ReasonNotFound      = "not_found"
	ReasonNoUpcoming    = "no_upcoming"
	ReasonNoChanges     = "no_changes"
)

const (
	maxAlternatives = 3
	slotLayout      = "03:04 PM"
	whenLayout      = "Monday, January 2 at 03:04 PM"
)

// Calendar is the subset of the calendar store used by Service.
type Calendar interface {
	Now() time.Time
	Clinic() *clinic.Config
	Create(ctx context.Context, req calendar.NewAppointment) (calendar.Appointment, error)
	Update(ctx context.Context, id string, update calendar.AppointmentUpdate) (calendar.Appointment, error)
	Cancel(ctx context.Context, id string) (calendar.Appointment, error)
	ByPhone(ctx context.Context, phone string) ([]calendar.Appointment, error)
	AvailableSlots(ctx context.Context, day time.Time, durationMin int) ([]time.Time, error)
}

// Result is the structured outcome of a booking operation. Business-rule
// failures are reported here with Success=false; only unexpected faults are
// returned as errors.
type Result struct {
	Success         bool                   `json:"success"`
	Message         string                 `json:"message"`
	Reason          string                 `json:"reason,omitempty"`
	Appointment     *calendar.Appointment  `json:"appointment,omitempty"`
	Appointments    []calendar.Appointment `json:"appointments,omitempty"`
	ConflictingTime string                 `json:"conflicting_time,omitempty"`
	Alternatives    []string               `json:"alternatives,omitempty"`
	MissingFields   []string               `json:"missing_fields,omitempty"`
	UpcomingCount   int                    `json:"upcoming_count,omitempty"`
	Date            string                 `json:"date,omitempty"`
	Slots           []string               `json:"slots,omitempty"`
}

// BookRequest carries the fields collected for a new booking.
type BookRequest struct {
	PatientName  string
	PatientPhone string
	Date         string
	Time         string
	DoctorName   string
	Reason       string
}

// UpdateRequest selects an appointment by phone (and optionally id) and
// carries the requested changes. Empty fields are not changed.
type UpdateRequest struct {
	Phone         string
	AppointmentID string
	Date          string
	Time          string
	DoctorName    string
	Reason        string
}

// Service offers phone-oriented booking operations for callers that do not
// know appointment ids.
type Service struct {
	calendar Calendar
	logger   *logging.Logger
}

// NewService constructs a bookings service.
func NewService(cal Calendar, logger *logging.Logger) *Service {
	if cal == nil {
		panic("bookings: calendar required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{calendar: cal, logger: logger}
}

// Book parses the requested date and time and creates the appointment.
func (s *Service) Book(ctx context.Context, req BookRequest) (Result, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.book")
	defer span.End()

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"patient_name", req.PatientName},
		{"patient_phone", req.PatientPhone},
		{"date", req.Date},
		{"time", req.Time},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Result{
			Reason:        ReasonMissingFields,
			MissingFields: missing,
			Message:       "Still need: " + strings.Join(missing, ", "),
		}, nil
	}

	start, err := calendar.ParseDateTime(req.Date, req.Time, s.calendar.Now())
	if err != nil {
		return Result{
			Reason:  ReasonParseError,
			Message: fmt.Sprintf("Could not parse date/time: %s %s", req.Date, req.Time),
		}, nil
	}

	doctor := strings.TrimSpace(req.DoctorName)
	if doctor == "" {
		doctor = DefaultDoctor
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultReason
	}

	apt, err := s.calendar.Create(ctx, calendar.NewAppointment{
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		Start:        start,
		Reason:       reason,
		DoctorName:   doctor,
	})
	if err != nil {
		var unavailable *calendar.UnavailableError
		if errors.As(err, &unavailable) {
			return s.unavailable(ctx, unavailable.Availability, start), nil
		}
		span.RecordError(err)
		return Result{}, fmt.Errorf("bookings: book: %w", err)
	}

	span.SetAttributes(attribute.String("medibook.appointment_id", apt.ID))
	s.logger.Info("appointment booked", "appointment_id", apt.ID, "phone", logging.MaskPhone(apt.PatientPhone))
	return Result{
		Success:     true,
		Message:     "Appointment booked successfully",
		Appointment: &apt,
	}, nil
}

// View lists the phone's appointments, earliest first. No appointments is a
// successful, empty result.
func (s *Service) View(ctx context.Context, phone string) (Result, error) {
	appointments, err := s.calendar.ByPhone(ctx, phone)
	if err != nil {
		return Result{}, fmt.Errorf("bookings: view: %w", err)
	}
	if len(appointments) == 0 {
		return Result{
			Success:      true,
			Appointments: []calendar.Appointment{},
			Message:      "No appointments found for this phone number",
		}, nil
	}
	sort.SliceStable(appointments, func(i, j int) bool {
		return appointments[i].StartTime.Before(appointments[j].StartTime)
	})
	return Result{
		Success:      true,
		Appointments: appointments,
		Message:      fmt.Sprintf("Found %d appointment(s)", len(appointments)),
	}, nil
}

// CancelByPhone cancels the phone's earliest upcoming appointment, or the one
// named by appointmentID when given.
func (s *Service) CancelByPhone(ctx context.Context, phone, appointmentID string) (Result, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel_by_phone")
	defer span.End()

	target, upcoming, failure, err := s.selectUpcoming(ctx, phone, appointmentID, "No upcoming appointments found")
	if err != nil || failure != nil {
		return deref(failure), err
	}

	removed, err := s.calendar.Cancel(ctx, target.ID)
	if errors.Is(err, calendar.ErrNotFound) {
		return Result{Reason: ReasonNotFound, Message: "Appointment not found"}, nil
	}
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("bookings: cancel: %w", err)
	}

	s.logger.Info("appointment cancelled by phone", "appointment_id", removed.ID, "phone", logging.MaskPhone(phone))
	return Result{
		Success:       true,
		Message:       "Cancelled appointment on " + removed.StartTime.Format(whenLayout),
		Appointment:   &removed,
		UpcomingCount: upcoming,
	}, nil
}

// UpdateByPhone changes the phone's earliest upcoming appointment, or the one
// named by AppointmentID. A date-only change keeps the current time and a
// time-only change keeps the current date. A request that changes nothing is
// rejected.
func (s *Service) UpdateByPhone(ctx context.Context, req UpdateRequest) (Result, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.update_by_phone")
	defer span.End()

	target, upcoming, failure, err := s.selectUpcoming(ctx, req.Phone, req.AppointmentID, "No upcoming appointments found to modify")
	if err != nil || failure != nil {
		return deref(failure), err
	}

	date, clock := strings.TrimSpace(req.Date), strings.TrimSpace(req.Time)
	doctor, reason := strings.TrimSpace(req.DoctorName), strings.TrimSpace(req.Reason)
	if date == "" && clock == "" && doctor == "" && reason == "" {
		return Result{
			Reason:  ReasonNoChanges,
			Message: "No changes specified. Please provide new date, time, doctor, or reason.",
		}, nil
	}

	current := target.StartTime
	if date != "" && clock == "" {
		clock = current.Format("15:04")
	}
	if clock != "" && date == "" {
		date = current.Format("2006-01-02")
	}

	var update calendar.AppointmentUpdate
	var newStart time.Time
	if date != "" {
		newStart, err = calendar.ParseDateTime(date, clock, s.calendar.Now())
		if err != nil {
			return Result{
				Reason:  ReasonParseError,
				Message: fmt.Sprintf("Could not parse new date/time: %s %s", date, clock),
			}, nil
		}
		if !newStart.Equal(current) {
			update.Start = &newStart
		}
	}
	if doctor != "" && doctor != target.DoctorName {
		update.DoctorName = &doctor
	}
	if reason != "" && reason != target.Reason {
		update.Reason = &reason
	}
	if update.Empty() {
		return Result{
			Reason:      ReasonNoChanges,
			Message:     "Your appointment already has these details. Please provide a different date, time, doctor, or reason.",
			Appointment: &target,
		}, nil
	}

	updated, err := s.calendar.Update(ctx, target.ID, update)
	if err != nil {
		var unavailable *calendar.UnavailableError
		if errors.As(err, &unavailable) {
			res := s.unavailable(ctx, unavailable.Availability, newStart)
			res.UpcomingCount = upcoming
			return res, nil
		}
		if errors.Is(err, calendar.ErrNotFound) {
			return Result{Reason: ReasonNotFound, Message: "Appointment not found"}, nil
		}
		span.RecordError(err)
		return Result{}, fmt.Errorf("bookings: update: %w", err)
	}

	s.logger.Info("appointment updated by phone", "appointment_id", updated.ID, "phone", logging.MaskPhone(req.Phone))
	return Result{
		Success:       true,
		Message:       "Appointment updated successfully",
		Appointment:   &updated,
		UpcomingCount: upcoming,
	}, nil
}

// AvailableSlots resolves a date phrase and lists the open slot start times.
func (s *Service) AvailableSlots(ctx context.Context, dateText string) (Result, error) {
	day, err := calendar.ParseDate(dateText, s.calendar.Now())
	if err != nil {
		return Result{Reason: ReasonParseError, Message: "Could not parse date: " + dateText}, nil
	}
	slots, err := s.calendar.AvailableSlots(ctx, day, 0)
	if err != nil {
		return Result{}, fmt.Errorf("bookings: slots: %w", err)
	}
	formatted := make([]string, 0, len(slots))
	for _, slot := range slots {
		formatted = append(formatted, slot.Format(slotLayout))
	}
	return Result{
		Success: true,
		Date:    day.Format("Monday, January 02, 2006"),
		Slots:   formatted,
		Message: fmt.Sprintf("Found %d available slot(s)", len(formatted)),
	}, nil
}

// selectUpcoming picks the appointment to act on. A non-nil Result reports a
// business failure to hand back to the caller.
func (s *Service) selectUpcoming(ctx context.Context, phone, appointmentID, noneMessage string) (calendar.Appointment, int, *Result, error) {
	appointments, err := s.calendar.ByPhone(ctx, phone)
	if err != nil {
		return calendar.Appointment{}, 0, nil, fmt.Errorf("bookings: lookup: %w", err)
	}
	if len(appointments) == 0 {
		return calendar.Appointment{}, 0, &Result{
			Reason:  ReasonNotFound,
			Message: "No appointments found for this phone number",
		}, nil
	}

	now := s.calendar.Now()
	var upcoming []calendar.Appointment
	for _, apt := range appointments {
		if apt.StartTime.After(now) {
			upcoming = append(upcoming, apt)
		}
	}
	if len(upcoming) == 0 {
		return calendar.Appointment{}, 0, &Result{Reason: ReasonNoUpcoming, Message: noneMessage}, nil
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].StartTime.Before(upcoming[j].StartTime) })

	if id := strings.TrimSpace(appointmentID); id != "" {
		for _, apt := range upcoming {
			if apt.ID == id {
				return apt, len(upcoming), nil, nil
			}
		}
		return calendar.Appointment{}, 0, &Result{
			Reason:  ReasonNotFound,
			Message: "No upcoming appointment matches that reference",
		}, nil
	}
	return upcoming[0], len(upcoming), nil, nil
}

func (s *Service) unavailable(ctx context.Context, verdict calendar.Availability, requested time.Time) Result {
	res := Result{
		Reason:  verdict.Reason,
		Message: verdict.Message,
	}
	if verdict.Reason == calendar.ReasonConflict && !verdict.ConflictingTime.IsZero() {
		res.ConflictingTime = verdict.ConflictingTime.Format(slotLayout)
	}
	res.Alternatives = s.alternatives(ctx, requested)
	return res
}

// alternatives suggests up to three open slots: the ones closest to the
// requested time on the same day, else the first ones of the next open day
// within a week.
func (s *Service) alternatives(ctx context.Context, requested time.Time) []string {
	if requested.IsZero() {
		return nil
	}
	slots, err := s.calendar.AvailableSlots(ctx, requested, 0)
	if err != nil {
		s.logger.Warn("alternative slot lookup failed", "error", err)
		return nil
	}
	if len(slots) > 0 {
		sort.SliceStable(slots, func(i, j int) bool {
			return absDuration(slots[i].Sub(requested)) < absDuration(slots[j].Sub(requested))
		})
		return formatWhen(slots)
	}

	day := requested
	for i := 0; i < 7; i++ {
		next, ok := s.calendar.Clinic().NextOpenDay(day)
		if !ok {
			return nil
		}
		slots, err = s.calendar.AvailableSlots(ctx, next, 0)
		if err != nil {
			s.logger.Warn("alternative slot lookup failed", "error", err)
			return nil
		}
		if len(slots) > 0 {
			return formatWhen(slots)
		}
		day = next
	}
	return nil
}

func formatWhen(slots []time.Time) []string {
	if len(slots) > maxAlternatives {
		slots = slots[:maxAlternatives]
	}
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slot.Format(whenLayout))
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func deref(r *Result) Result {
	if r == nil {
		return Result{}
	}
	return *r
}
