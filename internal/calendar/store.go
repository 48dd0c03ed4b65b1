package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medibook-assistant/internal/clinic"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

var calendarTracer = otel.Tracer("medibook.internal.calendar")

// Store is the flat appointment document. Every operation loads the whole
// document, works on it and writes it back while holding one mutex, so the
// no-overlap invariant holds for a single process.
type Store struct {
	mu     sync.Mutex
	blob   Blob
	clinic *clinic.Config
	now    func() time.Time
	newID  func() string
	logger *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides appointment id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore constructs a calendar store.
func NewStore(blob Blob, clinicCfg *clinic.Config, logger *logging.Logger, opts ...Option) *Store {
	if blob == nil {
		panic("calendar: blob cannot be nil")
	}
	if clinicCfg == nil {
		clinicCfg = clinic.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		blob:   blob,
		clinic: clinicCfg,
		now:    time.Now,
		newID:  func() string { return uuid.NewString()[:8] },
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clinic returns the clinic settings the store enforces.
func (s *Store) Clinic() *clinic.Config {
	return s.clinic
}

// Now returns the current time in the clinic timezone.
func (s *Store) Now() time.Time {
	return s.now().In(s.clinic.Location())
}

// CheckAvailability reports whether [start, start+duration) can be booked.
// The appointment excludeID is ignored during the conflict scan.
// Reasons are checked in order: conflict, closed, outside hours, past.
func (s *Store) CheckAvailability(ctx context.Context, start time.Time, durationMin int, excludeID string) (Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		return Availability{}, err
	}
	return s.check(appointments, start, s.duration(durationMin), excludeID), nil
}

func (s *Store) check(appointments []Appointment, start time.Time, durationMin int, excludeID string) Availability {
	start = start.In(s.clinic.Location())
	end := start.Add(time.Duration(durationMin) * time.Minute)

	for _, apt := range appointments {
		if excludeID != "" && apt.ID == excludeID {
			continue
		}
		if apt.Overlaps(start, end) {
			return Availability{
				Reason:          ReasonConflict,
				Message:         "Time slot is already booked",
				ConflictingID:   apt.ID,
				ConflictingTime: apt.StartTime.In(s.clinic.Location()),
			}
		}
	}

	hours := s.clinic.BusinessHours.GetHoursForDay(start.Weekday())
	if hours == nil {
		return Availability{
			Reason:  ReasonClosed,
			Message: fmt.Sprintf("Clinic closed on %s", start.Weekday()),
		}
	}
	if !s.clinic.IsOpenAt(start) {
		return Availability{
			Reason:  ReasonOutsideHours,
			Message: fmt.Sprintf("Outside working hours (%s-%s)", hours.Open, hours.Close),
		}
	}

	if start.Before(s.Now()) {
		return Availability{
			Reason:  ReasonPast,
			Message: "Cannot book in the past",
		}
	}
	return Availability{Available: true, Message: "Available"}
}

// Create books a new appointment. A negative verdict is returned as
// *UnavailableError.
func (s *Store) Create(ctx context.Context, req NewAppointment) (Appointment, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.create")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}

	duration := s.duration(req.Duration)
	start := req.Start.In(s.clinic.Location())
	if verdict := s.check(appointments, start, duration, ""); !verdict.Available {
		return Appointment{}, &UnavailableError{Availability: verdict}
	}

	apt := Appointment{
		ID:           s.newID(),
		PatientName:  strings.TrimSpace(req.PatientName),
		PatientPhone: NormalizePhone(req.PatientPhone),
		StartTime:    start,
		EndTime:      start.Add(time.Duration(duration) * time.Minute),
		Duration:     duration,
		Reason:       req.Reason,
		DoctorName:   req.DoctorName,
		Status:       StatusConfirmed,
		CreatedAt:    s.Now(),
	}
	appointments = append(appointments, apt)
	if err := s.save(ctx, appointments); err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}

	span.SetAttributes(attribute.String("medibook.appointment_id", apt.ID))
	s.logger.Info("appointment created",
		"appointment_id", apt.ID,
		"phone", logging.MaskPhone(apt.PatientPhone),
		"start", apt.StartTime.Format(time.RFC3339),
	)
	return apt, nil
}

// Update applies a partial change. A new start is checked against every
// other appointment; the appointment itself never conflicts with its old slot.
func (s *Store) Update(ctx context.Context, id string, update AppointmentUpdate) (Appointment, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.update")
	defer span.End()
	span.SetAttributes(attribute.String("medibook.appointment_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	idx := indexOf(appointments, id)
	if idx < 0 {
		return Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	apt := appointments[idx]

	if update.Start != nil {
		start := update.Start.In(s.clinic.Location())
		duration := s.duration(apt.Duration)
		if verdict := s.check(appointments, start, duration, id); !verdict.Available {
			return Appointment{}, &UnavailableError{Availability: verdict}
		}
		apt.StartTime = start
		apt.EndTime = start.Add(time.Duration(duration) * time.Minute)
		apt.Duration = duration
	}
	if update.DoctorName != nil {
		apt.DoctorName = *update.DoctorName
	}
	if update.Reason != nil {
		apt.Reason = *update.Reason
	}

	appointments[idx] = apt
	if err := s.save(ctx, appointments); err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	s.logger.Info("appointment updated", "appointment_id", id, "start", apt.StartTime.Format(time.RFC3339))
	return apt, nil
}

// Cancel removes the appointment from the document and returns it.
func (s *Store) Cancel(ctx context.Context, id string) (Appointment, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("medibook.appointment_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	idx := indexOf(appointments, id)
	if idx < 0 {
		return Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := appointments[idx]
	removed.Status = StatusCancelled
	appointments = append(appointments[:idx], appointments[idx+1:]...)

	if err := s.save(ctx, appointments); err != nil {
		span.RecordError(err)
		return Appointment{}, err
	}
	s.logger.Info("appointment cancelled", "appointment_id", id)
	return removed, nil
}

// Get returns one appointment by id.
func (s *Store) Get(ctx context.Context, id string) (Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		return Appointment{}, err
	}
	idx := indexOf(appointments, id)
	if idx < 0 {
		return Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return appointments[idx], nil
}

// ByPhone lists the appointments of one phone number, earliest first.
func (s *Store) ByPhone(ctx context.Context, phone string) ([]Appointment, error) {
	phone = NormalizePhone(phone)
	return s.filter(ctx, func(a Appointment) bool {
		return NormalizePhone(a.PatientPhone) == phone
	})
}

// All lists every appointment, earliest first.
func (s *Store) All(ctx context.Context) ([]Appointment, error) {
	return s.filter(ctx, func(Appointment) bool { return true })
}

// OnDay lists the appointments whose start falls on day's calendar date in
// clinic time.
func (s *Store) OnDay(ctx context.Context, day time.Time) ([]Appointment, error) {
	loc := s.clinic.Location()
	y, m, d := day.In(loc).Date()
	return s.filter(ctx, func(a Appointment) bool {
		ay, am, ad := a.StartTime.In(loc).Date()
		return ay == y && am == m && ad == d
	})
}

// AvailableSlots steps through day's opening hours in duration increments and
// returns every start that passes CheckAvailability.
func (s *Store) AvailableSlots(ctx context.Context, day time.Time, durationMin int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opens, closes, ok := s.clinic.HoursOn(day)
	if !ok {
		return nil, nil
	}
	appointments, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	duration := s.duration(durationMin)
	step := time.Duration(duration) * time.Minute

	var slots []time.Time
	for cur := opens; cur.Before(closes); cur = cur.Add(step) {
		if s.check(appointments, cur, duration, "").Available {
			slots = append(slots, cur)
		}
	}
	return slots, nil
}

// PurgePast deletes appointments that ended before now and returns how many
// were removed.
func (s *Store) PurgePast(ctx context.Context) (int, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.purge_past")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	now := s.Now()
	kept := appointments[:0]
	for _, apt := range appointments {
		if apt.EndTime.After(now) {
			kept = append(kept, apt)
		}
	}
	removed := len(appointments) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(ctx, kept); err != nil {
		span.RecordError(err)
		return 0, err
	}
	s.logger.Info("past appointments purged", "removed", removed)
	return removed, nil
}

func (s *Store) filter(ctx context.Context, keep func(Appointment) bool) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointments, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Appointment, 0, len(appointments))
	for _, apt := range appointments {
		if keep(apt) {
			out = append(out, apt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) duration(minutes int) int {
	if minutes <= 0 {
		return s.clinic.AppointmentDuration
	}
	return minutes
}

func (s *Store) load(ctx context.Context) ([]Appointment, error) {
	data, err := s.blob.Read(ctx)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Appointment{}, nil
	}
	var appointments []Appointment
	if err := json.Unmarshal(data, &appointments); err != nil {
		return nil, fmt.Errorf("calendar: decode appointments: %w", err)
	}
	loc := s.clinic.Location()
	for i := range appointments {
		appointments[i].StartTime = appointments[i].StartTime.In(loc)
		appointments[i].EndTime = appointments[i].EndTime.In(loc)
		appointments[i].CreatedAt = appointments[i].CreatedAt.In(loc)
	}
	return appointments, nil
}

func (s *Store) save(ctx context.Context, appointments []Appointment) error {
	if appointments == nil {
		appointments = []Appointment{}
	}
	data, err := json.MarshalIndent(appointments, "", "  ")
	if err != nil {
		return fmt.Errorf("calendar: encode appointments: %w", err)
	}
	return s.blob.Write(ctx, data)
}

func indexOf(appointments []Appointment, id string) int {
	for i, apt := range appointments {
		if apt.ID == id {
			return i
		}
	}
	return -1
}
