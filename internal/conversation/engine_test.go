package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medibook-assistant/internal/bookings"
	"github.com/wolfman30/medibook-assistant/internal/calendar"
	"github.com/wolfman30/medibook-assistant/internal/clinic"
	"github.com/wolfman30/medibook-assistant/internal/notify"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// scriptedExtractor returns the entities registered for a message.
type scriptedExtractor struct {
	mu        sync.Mutex
	byMessage map[string]Entities
	err       error
	calls     int
}

func (s *scriptedExtractor) Extract(_ context.Context, req ExtractionRequest) (Entities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Entities{}, s.err
	}
	return s.byMessage[req.Message], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.BookingEvent
}

func (r *recordingNotifier) Publish(evt notify.BookingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

type stubResponder struct {
	reply string
	err   error
	seen  []TurnContext
}

func (s *stubResponder) Respond(_ context.Context, tc TurnContext) (string, error) {
	s.seen = append(s.seen, tc)
	return s.reply, s.err
}

type brokenBookings struct{ err error }

func (b brokenBookings) Book(context.Context, bookings.BookRequest) (bookings.Result, error) {
	return bookings.Result{}, b.err
}
func (b brokenBookings) View(context.Context, string) (bookings.Result, error) {
	return bookings.Result{}, b.err
}
func (b brokenBookings) CancelByPhone(context.Context, string, string) (bookings.Result, error) {
	return bookings.Result{}, b.err
}
func (b brokenBookings) UpdateByPhone(context.Context, bookings.UpdateRequest) (bookings.Result, error) {
	return bookings.Result{}, b.err
}

type engineFixture struct {
	engine    *Engine
	sessions  *MemorySessionStore
	store     *calendar.Store
	svc       *bookings.Service
	extractor *scriptedExtractor
	notifier  *recordingNotifier
}

const testPhone = "0555123456"

// newEngineFixture pins the clock to Monday 19 January 2026 08:00 clinic time.
func newEngineFixture(t *testing.T, responder Responder) *engineFixture {
	t.Helper()
	if _, err := time.LoadLocation("Africa/Algiers"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cfg := clinic.DefaultConfig()
	now := time.Date(2026, 1, 19, 8, 0, 0, 0, cfg.Location())
	clock := func() time.Time { return now }
	store := calendar.NewStore(
		calendar.NewFileBlob(filepath.Join(t.TempDir(), "appointments.json")),
		cfg, logging.Discard(), calendar.WithClock(clock),
	)
	svc := bookings.NewService(store, logging.Discard())
	if responder == nil {
		responder = NewTemplateResponder()
	}
	f := &engineFixture{
		sessions:  NewMemorySessionStore(time.Hour, 100),
		store:     store,
		svc:       svc,
		extractor: &scriptedExtractor{byMessage: map[string]Entities{}},
		notifier:  &recordingNotifier{},
	}
	f.engine = NewEngine(EngineConfig{
		Bookings:   svc,
		Sessions:   f.sessions,
		Extractor:  f.extractor,
		Responder:  responder,
		Directory:  store,
		Notifier:   f.notifier,
		Logger:     logging.Discard(),
		ClinicName: "Test Clinic",
		Clock:      clock,
	})
	return f
}

func (f *engineFixture) say(t *testing.T, message string, extracted Entities) TurnResult {
	t.Helper()
	f.extractor.byMessage[message] = extracted
	out, err := f.engine.HandleMessage(context.Background(), "s1", message)
	require.NoError(t, err)
	return out
}

func (f *engineFixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	return s
}

func (f *engineFixture) book(t *testing.T, name, phone, date, clock string) calendar.Appointment {
	t.Helper()
	res, err := f.svc.Book(context.Background(), bookings.BookRequest{
		PatientName: name, PatientPhone: phone, Date: date, Time: clock,
	})
	require.NoError(t, err)
	require.Truef(t, res.Success, "booking failed: %s", res.Message)
	return *res.Appointment
}

func TestEngine_BookingFlow(t *testing.T) {
	f := newEngineFixture(t, nil)

	out := f.say(t, "hello", Entities{})
	assert.Equal(t, IntentGreet, out.Intent)
	assert.Equal(t, "Hello! Welcome to Test Clinic. How may I assist you today?", out.Response)

	out = f.say(t, "I want to book an appointment", Entities{})
	assert.Equal(t, IntentBook, out.Intent)
	assert.Contains(t, out.Response, "To book your appointment, please provide")
	assert.Equal(t, ActionBook, f.session(t).PendingAction)

	// No keyword: the pending booking carries the intent.
	out = f.say(t, "My name is Ahmed Benali, 0555123456", Entities{PatientName: "Ahmed Benali", PatientPhone: testPhone})
	assert.Equal(t, IntentBook, out.Intent)
	assert.Equal(t, "Ahmed Benali", out.Entities.PatientName)

	out = f.say(t, "tomorrow at 10am", Entities{Date: "tomorrow", Time: "10am"})
	assert.Equal(t, IntentBook, out.Intent)
	assert.Contains(t, out.Response, "Shall I book it?")
	assert.Equal(t, ActionBook, f.session(t).AwaitingConfirmation)
	assert.Nil(t, out.ActionResult)

	out = f.say(t, "yes", Entities{})
	assert.Equal(t, IntentBook, out.Intent)
	require.NotNil(t, out.ActionResult)
	require.True(t, out.ActionResult.Success)
	assert.Equal(t, "✅ Your appointment is booked for Tuesday, January 20, 2026 at 10:00 AM with Any available doctor. Is there anything else I can help you with?", out.Response)
	assert.True(t, out.Entities.IsEmpty())

	s := f.session(t)
	assert.Equal(t, ActionNone, s.AwaitingConfirmation)
	assert.Equal(t, ActionNone, s.PendingAction)
	assert.True(t, s.Entities.IsEmpty())
	assert.Len(t, s.History, maxHistory)

	all, err := f.store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Ahmed Benali", all[0].PatientName)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.EventBooked, f.notifier.events[0].Kind)
	assert.Equal(t, all[0].ID, f.notifier.events[0].Appointment.ID)
}

func TestEngine_CancelAsksForPhoneThenConfirms(t *testing.T) {
	f := newEngineFixture(t, nil)
	apt := f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")

	out := f.say(t, "cancel my appointment", Entities{})
	assert.Equal(t, IntentCancel, out.Intent)
	assert.Equal(t, cancelNeedPhone, out.Response)

	out = f.say(t, "0555123456", Entities{PatientPhone: testPhone})
	assert.Equal(t, IntentCancel, out.Intent)
	assert.Contains(t, out.Response, "Are you sure you want to cancel this appointment?")
	assert.Contains(t, out.Response, "Wednesday, January 21, 2026")
	assert.NotContains(t, out.Response, apt.ID)
	assert.Equal(t, ActionCancel, f.session(t).AwaitingConfirmation)

	// A yes wins even when the message also reads as another request.
	out = f.say(t, "yes, book another", Entities{})
	assert.Equal(t, IntentCancel, out.Intent)
	require.NotNil(t, out.ActionResult)
	assert.True(t, out.ActionResult.Success)
	assert.True(t, strings.HasPrefix(out.Response, "✅ Your appointment has been cancelled"))

	left, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, left)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.EventCancelled, f.notifier.events[0].Kind)
}

func TestEngine_CancelWithoutAppointments(t *testing.T) {
	f := newEngineFixture(t, nil)

	out := f.say(t, "cancel my appointment, phone 0555123456", Entities{PatientPhone: testPhone})
	assert.Equal(t, IntentCancel, out.Intent)
	require.NotNil(t, out.ActionResult)
	assert.Equal(t, bookings.ReasonNotFound, out.ActionResult.Reason)
	assert.Contains(t, out.Response, "No appointments found for phone number 0555123456")

	s := f.session(t)
	assert.Equal(t, ActionNone, s.AwaitingConfirmation)
	assert.Equal(t, ActionNone, s.PendingAction)
}

func TestEngine_DeclineAbortsAction(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")

	f.say(t, "cancel my appointment", Entities{PatientPhone: testPhone})
	out := f.say(t, "no", Entities{})

	assert.Equal(t, IntentConfirmationCancelled, out.Intent)
	assert.Equal(t, "Okay, I've cancelled the cancel operation. Is there anything else I can help you with?", out.Response)
	s := f.session(t)
	assert.Equal(t, ActionNone, s.AwaitingConfirmation)
	assert.Equal(t, ActionNone, s.PendingAction)

	left, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, left, 1)
	assert.Empty(t, f.notifier.events)
}

func TestEngine_EditFlowKeepsDateForTimeOnlyChange(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")

	out := f.say(t, "I want to change my appointment", Entities{PatientPhone: testPhone})
	assert.Equal(t, IntentEdit, out.Intent)
	assert.Contains(t, out.Response, "What would you like to change?")
	assert.Equal(t, EditStageShownAppointment, f.session(t).EditStage)

	out = f.say(t, "3pm please", Entities{Time: "3pm"})
	assert.Equal(t, IntentEdit, out.Intent)
	assert.Contains(t, out.Response, "time 3pm")
	s := f.session(t)
	assert.Equal(t, ActionEdit, s.AwaitingConfirmation)
	assert.Equal(t, EditStageAwaitingFinalConfirmation, s.EditStage)

	out = f.say(t, "yes", Entities{})
	require.NotNil(t, out.ActionResult)
	require.Truef(t, out.ActionResult.Success, "update failed: %s", out.ActionResult.Message)
	assert.Equal(t, "2026-01-21 15:00", out.ActionResult.Appointment.StartTime.Format("2006-01-02 15:04"))
	assert.Contains(t, out.Response, "Your appointment has been updated for Wednesday, January 21, 2026 at 03:00 PM")

	s = f.session(t)
	assert.Equal(t, EditStageNone, s.EditStage)
	assert.True(t, s.Entities.IsEmpty())
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.EventUpdated, f.notifier.events[0].Kind)
}

func TestEngine_EditNeedsDetails(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")

	f.say(t, "I want to change my appointment", Entities{PatientPhone: testPhone})
	out := f.say(t, "hmm", Entities{})

	assert.Equal(t, editNeedDetails, out.Response)
	assert.Equal(t, EditStageCollectingChanges, f.session(t).EditStage)
}

func TestEngine_ViewListsAppointments(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")
	f.book(t, "Ahmed Benali", testPhone, "friday", "9am")

	out := f.say(t, "show my appointments", Entities{PatientPhone: testPhone})
	assert.Equal(t, IntentView, out.Intent)
	require.NotNil(t, out.ActionResult)
	assert.Len(t, out.ActionResult.Appointments, 2)
	assert.Contains(t, out.Response, "You have 2 appointment(s):")
	assert.Equal(t, ActionNone, f.session(t).PendingAction)
}

func TestEngine_ExtractionFailureLeavesSessionUntouched(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.say(t, "I want to book an appointment", Entities{PatientName: "Ahmed Benali"})
	before := f.session(t)

	f.extractor.err = errors.New("model unavailable")
	out, err := f.engine.HandleMessage(context.Background(), "s1", "tomorrow at 10am")
	require.NoError(t, err)

	assert.Equal(t, apologyReply, out.Response)
	assert.Equal(t, "Ahmed Benali", out.Entities.PatientName)
	after := f.session(t)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, before.Entities, after.Entities)
}

func TestEngine_ResponderFailureBeforeActionApologizes(t *testing.T) {
	f := newEngineFixture(t, &stubResponder{err: errors.New("timeout")})

	out := f.say(t, "I want to book an appointment", Entities{PatientName: "Ahmed Benali"})
	assert.Equal(t, apologyReply, out.Response)

	_, err := f.sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_ResponderFailureAfterActionUsesTemplate(t *testing.T) {
	f := newEngineFixture(t, &stubResponder{err: errors.New("timeout")})
	seeded := NewSession("s1")
	seeded.Entities = Entities{PatientName: "Ahmed Benali", PatientPhone: testPhone, Date: "tomorrow", Time: "10am"}
	seeded.PendingAction = ActionBook
	seeded.AwaitingConfirmation = ActionBook
	require.NoError(t, f.sessions.Save(context.Background(), seeded))

	out := f.say(t, "yes", Entities{})
	require.NotNil(t, out.ActionResult)
	assert.True(t, out.ActionResult.Success)
	assert.True(t, strings.HasPrefix(out.Response, "✅ Your appointment is booked"))

	s := f.session(t)
	assert.Equal(t, ActionNone, s.AwaitingConfirmation)
	assert.True(t, s.Entities.IsEmpty())
	assert.Len(t, s.History, 2)
}

func TestEngine_StoreFaultReportsTechnicalError(t *testing.T) {
	sessions := NewMemorySessionStore(0, 0)
	engine := NewEngine(EngineConfig{
		Bookings:  brokenBookings{err: errors.New("disk full")},
		Sessions:  sessions,
		Extractor: &scriptedExtractor{byMessage: map[string]Entities{"show my appointments": {PatientPhone: testPhone}}},
		Responder: NewTemplateResponder(),
		Logger:    logging.Discard(),
	})

	out, err := engine.HandleMessage(context.Background(), "s1", "show my appointments")
	require.NoError(t, err)
	assert.Equal(t, technicalErrorReply, out.Response)
	assert.Equal(t, IntentView, out.Intent)
	_, err = sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_GoodbyeEndsSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.say(t, "I want to book an appointment", Entities{PatientName: "Ahmed Benali"})

	out := f.say(t, "thanks, bye", Entities{})
	assert.Equal(t, IntentGoodbye, out.Intent)
	assert.Equal(t, "Thank you for choosing Test Clinic. Take care and stay healthy!", out.Response)
	assert.True(t, out.Entities.IsEmpty())

	_, err := f.sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_HelpAndGreetSkipExtraction(t *testing.T) {
	f := newEngineFixture(t, nil)

	out := f.say(t, "help", Entities{})
	assert.Equal(t, IntentHelp, out.Intent)
	assert.Equal(t, helpReply, out.Response)
	f.say(t, "bonjour", Entities{})
	assert.Zero(t, f.extractor.calls)
}

func TestEngine_GuardReplacesOtherPatientNames(t *testing.T) {
	responder := &stubResponder{reply: "Sorry, Karim Ziani already has Wednesday at 11."}
	f := newEngineFixture(t, responder)
	f.book(t, "Karim Ziani", "0666000000", "wednesday", "11am")

	out := f.say(t, "show my appointments", Entities{PatientName: "Ahmed Benali", PatientPhone: testPhone})
	assert.Equal(t, "Sorry, another patient already has Wednesday at 11.", out.Response)

	require.Len(t, responder.seen, 1)
	assert.Equal(t, IntentView, responder.seen[0].Intent)
}

func TestEngine_ClearSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.say(t, "I want to book an appointment", Entities{})
	require.NoError(t, f.engine.ClearSession(context.Background(), "s1"))

	_, err := f.sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_History(t *testing.T) {
	f := newEngineFixture(t, nil)

	empty, err := f.engine.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	f.say(t, "hello", Entities{})
	history, err := f.engine.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
}

func TestEngine_SessionsAndClearAll(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.say(t, "hello", Entities{})

	summaries, err := f.engine.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "s1", summaries[0].SessionID)
	assert.Equal(t, 2, summaries[0].MessageCount)
	assert.Equal(t, "Hello! Welcome to Test Clinic. How may I assist yo...", summaries[0].LastMessage)

	n, err := f.engine.ClearAllSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	summaries, err = f.engine.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "مرحبا...", preview("مرحبا بكم", 5))
}

func TestSelectTarget(t *testing.T) {
	now := time.Date(2026, 1, 19, 8, 0, 0, 0, time.UTC)
	apts := []calendar.Appointment{
		{ID: "past", StartTime: now.Add(-time.Hour)},
		{ID: "late", StartTime: now.Add(48 * time.Hour)},
		{ID: "soon", StartTime: now.Add(2 * time.Hour)},
	}

	got, n := selectTarget(apts, now, "")
	require.NotNil(t, got)
	assert.Equal(t, "soon", got.ID)
	assert.Equal(t, 2, n)

	got, _ = selectTarget(apts, now, "late")
	assert.Equal(t, "late", got.ID)

	got, _ = selectTarget(apts, now, "past")
	assert.Equal(t, "soon", got.ID)

	got, n = selectTarget(apts[:1], now, "")
	assert.Nil(t, got)
	assert.Zero(t, n)
}

func TestNewEngine_PanicsWithoutCollaborators(t *testing.T) {
	assert.Panics(t, func() { NewEngine(EngineConfig{}) })
}

func TestEngine_ConfirmedEditWithoutRealChangeAsksAgain(t *testing.T) {
	f := newEngineFixture(t, nil)
	apt := f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")

	seeded := NewSession("s1")
	seeded.Entities = Entities{PatientName: "Ahmed Benali", PatientPhone: testPhone, Date: "null", Time: "not specified"}
	seeded.PendingAction = ActionEdit
	seeded.AwaitingConfirmation = ActionEdit
	seeded.EditStage = EditStageAwaitingFinalConfirmation
	require.NoError(t, f.sessions.Save(context.Background(), seeded))

	out := f.say(t, "yes", Entities{})
	assert.Equal(t, IntentEdit, out.Intent)
	assert.Equal(t, editChangesPrompt, out.Response)
	assert.Nil(t, out.ActionResult)

	s := f.session(t)
	assert.Equal(t, EditStageCollectingChanges, s.EditStage)
	assert.Equal(t, ActionNone, s.AwaitingConfirmation)

	all, err := f.store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, apt.StartTime, all[0].StartTime)
	assert.Empty(t, f.notifier.events)
}

func TestEngine_CancelWithOnlyPastAppointments(t *testing.T) {
	f := newEngineFixture(t, nil)
	past := f.book(t, "Ahmed Benali", testPhone, "wednesday", "11am")

	// Move the clock past the appointment.
	later := NewEngine(EngineConfig{
		Bookings:   f.svc,
		Sessions:   f.sessions,
		Extractor:  f.extractor,
		Responder:  NewTemplateResponder(),
		Directory:  f.store,
		Notifier:   f.notifier,
		Logger:     logging.Discard(),
		ClinicName: "Test Clinic",
		Clock:      func() time.Time { return past.StartTime.Add(24 * time.Hour) },
	})
	f.engine = later

	out := f.say(t, "cancel my appointment, phone 0555123456", Entities{PatientPhone: testPhone})
	require.NotNil(t, out.ActionResult)
	assert.Equal(t, bookings.ReasonNoUpcoming, out.ActionResult.Reason)
	assert.Contains(t, out.Response, "No upcoming appointments found for phone number 0555123456")
	assert.NotContains(t, out.Response, "No appointments found")
	assert.Equal(t, ActionNone, f.session(t).AwaitingConfirmation)
}

// flakySessionStore fails Save while failSave is set.
type flakySessionStore struct {
	*MemorySessionStore
	failSave bool
}

func (s *flakySessionStore) Save(ctx context.Context, session *Session) error {
	if s.failSave {
		return errors.New("session store unavailable")
	}
	return s.MemorySessionStore.Save(ctx, session)
}

func TestEngine_SaveFailureAfterBookingDisarmsConfirmation(t *testing.T) {
	f := newEngineFixture(t, nil)
	sessions := &flakySessionStore{MemorySessionStore: f.sessions}
	f.engine = NewEngine(EngineConfig{
		Bookings:   f.svc,
		Sessions:   sessions,
		Extractor:  f.extractor,
		Responder:  NewTemplateResponder(),
		Directory:  f.store,
		Notifier:   f.notifier,
		Logger:     logging.Discard(),
		ClinicName: "Test Clinic",
		Clock:      func() time.Time { return time.Date(2026, 1, 19, 8, 0, 0, 0, clinic.DefaultConfig().Location()) },
	})

	seeded := NewSession("s1")
	seeded.Entities = Entities{PatientName: "Ahmed Benali", PatientPhone: testPhone, Date: "tomorrow", Time: "10am"}
	seeded.PendingAction = ActionBook
	seeded.AwaitingConfirmation = ActionBook
	require.NoError(t, f.sessions.Save(context.Background(), seeded))

	sessions.failSave = true
	out := f.say(t, "yes", Entities{})
	require.NotNil(t, out.ActionResult)
	assert.True(t, out.ActionResult.Success)
	assert.True(t, strings.HasPrefix(out.Response, "✅ Your appointment is booked"))

	_, err := f.sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sessions.failSave = false
	f.say(t, "yes", Entities{})

	all, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, f.notifier.events, 1)
}

func TestEngine_SaveFailureWithoutChangeIsReturned(t *testing.T) {
	f := newEngineFixture(t, nil)
	sessions := &flakySessionStore{MemorySessionStore: f.sessions, failSave: true}
	f.engine = NewEngine(EngineConfig{
		Bookings:  f.svc,
		Sessions:  sessions,
		Extractor: f.extractor,
		Responder: NewTemplateResponder(),
		Logger:    logging.Discard(),
	})

	_, err := f.engine.HandleMessage(context.Background(), "s1", "hello")
	assert.ErrorContains(t, err, "session store unavailable")
}
