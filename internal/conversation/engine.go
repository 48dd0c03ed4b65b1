package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medibook-assistant/internal/bookings"
	"github.com/wolfman30/medibook-assistant/internal/calendar"
	"github.com/wolfman30/medibook-assistant/internal/notify"
	"github.com/wolfman30/medibook-assistant/internal/observability/metrics"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

var engineTracer = otel.Tracer("medibook.internal.conversation")

const defaultLLMTimeout = 20 * time.Second

// Bookings is the appointment service the engine drives.
type Bookings interface {
	Book(ctx context.Context, req bookings.BookRequest) (bookings.Result, error)
	View(ctx context.Context, phone string) (bookings.Result, error)
	CancelByPhone(ctx context.Context, phone, appointmentID string) (bookings.Result, error)
	UpdateByPhone(ctx context.Context, req bookings.UpdateRequest) (bookings.Result, error)
}

// PatientDirectory lists stored appointments so replies can be checked for
// other patients' names.
type PatientDirectory interface {
	All(ctx context.Context) ([]calendar.Appointment, error)
}

// Notifier receives completed booking changes.
type Notifier interface {
	Publish(evt notify.BookingEvent)
}

// EngineConfig wires an Engine. Bookings, Sessions, Extractor and Responder
// are required.
type EngineConfig struct {
	Bookings   Bookings
	Sessions   SessionStore
	Locker     SessionLocker
	Extractor  EntityExtractor
	Responder  Responder
	Directory  PatientDirectory
	Notifier   Notifier
	Metrics    *metrics.ConversationMetrics
	Logger     *logging.Logger
	ClinicName string
	LLMTimeout time.Duration
	Clock      func() time.Time
}

// Engine runs the booking dialogue one turn at a time.
type Engine struct {
	bookings   Bookings
	sessions   SessionStore
	locker     SessionLocker
	extractor  EntityExtractor
	responder  Responder
	directory  PatientDirectory
	notifier   Notifier
	metrics    *metrics.ConversationMetrics
	logger     *logging.Logger
	clinicName string
	llmTimeout time.Duration
	now        func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Bookings == nil {
		panic("conversation: bookings service cannot be nil")
	}
	if cfg.Sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if cfg.Extractor == nil {
		panic("conversation: entity extractor cannot be nil")
	}
	if cfg.Responder == nil {
		panic("conversation: responder cannot be nil")
	}
	if cfg.Locker == nil {
		cfg.Locker = NewKeyedMutex()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "MediBook Clinic"
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		bookings:   cfg.Bookings,
		sessions:   cfg.Sessions,
		locker:     cfg.Locker,
		extractor:  cfg.Extractor,
		responder:  cfg.Responder,
		directory:  cfg.Directory,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		clinicName: cfg.ClinicName,
		llmTimeout: cfg.LLMTimeout,
		now:        cfg.Clock,
	}
}

// TurnResult is the reply to one message.
type TurnResult struct {
	Response     string           `json:"response"`
	Intent       Intent           `json:"intent"`
	Entities     Entities         `json:"entities"`
	ActionResult *bookings.Result `json:"action_result,omitempty"`
}

// errUpstream marks an extraction or response failure that ends the turn with
// an apology and leaves the stored session as it was.
var errUpstream = errors.New("conversation: upstream failure")

// errTechnical marks an unexpected appointment store fault.
var errTechnical = errors.New("conversation: appointment store fault")

// turn is the working state of one message. It owns a copy of the session
// that is saved only when the turn commits.
type turn struct {
	sessionID string
	message   string
	session   *Session

	intent   Intent
	reply    string
	result   *bookings.Result
	executed bool
	target   *calendar.Appointment
	mutated  bool
	ended    bool
}

// HandleMessage runs one turn for sessionID. Errors are returned only for
// session storage or locking faults; every other failure is answered.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, message string) (TurnResult, error) {
	ctx, span := engineTracer.Start(ctx, "conversation.turn")
	defer span.End()
	span.SetAttributes(attribute.String("medibook.session_id", sessionID))

	var out TurnResult
	err := e.locker.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		stored, err := e.sessions.Get(ctx, sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			stored = NewSession(sessionID)
		} else if err != nil {
			return err
		}

		t := &turn{sessionID: sessionID, message: message, session: stored.Clone()}
		runErr := e.run(ctx, t)
		span.SetAttributes(attribute.String("medibook.intent", string(t.intent)))

		switch {
		case errors.Is(runErr, errUpstream):
			e.metrics.ObserveTurn(string(t.intent), "apology")
			out = TurnResult{Response: apologyReply, Intent: t.intent, Entities: stored.Entities}
			return nil
		case errors.Is(runErr, errTechnical):
			span.RecordError(runErr)
			e.metrics.ObserveTurn(string(t.intent), "technical_error")
			out = TurnResult{Response: technicalErrorReply, Intent: t.intent, Entities: stored.Entities}
			return nil
		case runErr != nil:
			return runErr
		}

		if t.ended {
			if err := e.sessions.Delete(ctx, sessionID); err != nil {
				return err
			}
		} else if err := e.sessions.Save(ctx, t.session); err != nil {
			if !t.mutated {
				return err
			}
			// The stored session still holds the confirmation that was just
			// carried out, so another yes would repeat it.
			e.logger.Error("session save failed after appointment change", "session_id", sessionID, "error", err)
			if delErr := e.sessions.Delete(ctx, sessionID); delErr != nil {
				return errors.Join(err, delErr)
			}
			t.ended = true
		}

		e.metrics.ObserveTurn(string(t.intent), "ok")
		out = TurnResult{Response: t.reply, Intent: t.intent, Entities: t.session.Entities, ActionResult: t.result}
		if t.ended {
			out.Entities = Entities{}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.logger.Error("conversation turn failed", "session_id", sessionID, "error", err)
		return TurnResult{}, fmt.Errorf("conversation: handle message: %w", err)
	}

	e.logger.Info("conversation turn",
		"session_id", sessionID,
		"intent", string(out.Intent),
		"action_result", out.ActionResult != nil,
	)
	return out, nil
}

// ClearSession forgets sessionID.
func (e *Engine) ClearSession(ctx context.Context, sessionID string) error {
	return e.locker.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		return e.sessions.Delete(ctx, sessionID)
	})
}

// History returns the stored exchanges of sessionID. An unknown or expired
// session has an empty history.
func (e *Engine) History(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	if s.History == nil {
		return []ChatMessage{}, nil
	}
	return s.History, nil
}

// SessionSummary describes one live session for staff tooling.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastIntent   Intent    `json:"last_intent,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const lastMessagePreview = 50

// Sessions summarizes every live session, most recent first.
func (e *Engine) Sessions(ctx context.Context) ([]SessionSummary, error) {
	sessions, err := e.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: list sessions: %w", err)
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary := SessionSummary{
			SessionID:    s.ID,
			MessageCount: len(s.History),
			LastIntent:   s.LastIntent,
			UpdatedAt:    s.UpdatedAt,
		}
		if n := len(s.History); n > 0 {
			summary.LastMessage = preview(s.History[n-1].Content, lastMessagePreview)
		}
		out = append(out, summary)
	}
	return out, nil
}

// ClearAllSessions drops every session. Turns already running keep their
// working copy and may save it again.
func (e *Engine) ClearAllSessions(ctx context.Context) (int, error) {
	n, err := e.sessions.DeleteAll(ctx)
	if err != nil {
		return n, fmt.Errorf("conversation: clear sessions: %w", err)
	}
	e.logger.Info("all sessions cleared", "count", n)
	return n, nil
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func (e *Engine) run(ctx context.Context, t *turn) error {
	s := t.session

	if s.AwaitingConfirmation != ActionNone {
		switch ClassifyConfirmation(t.message) {
		case ConfirmationAffirmative:
			return e.confirm(ctx, t)
		case ConfirmationNegative:
			action := s.AwaitingConfirmation
			s.clearFlow()
			t.intent = IntentConfirmationCancelled
			t.reply = abortReply(action)
			s.AppendExchange(t.message, t.reply)
			return nil
		}
	}

	if s.EditStage.collecting() {
		return e.collectEdit(ctx, t)
	}

	intent := Detect(t.message, s.Context())
	if intent == IntentUnclear && s.PendingAction != ActionNone {
		intent = Intent(s.PendingAction)
	}
	t.intent = intent
	s.LastIntent = intent

	switch intent {
	case IntentGreet:
		return e.canned(t, greetingReply(e.clinicName))
	case IntentHelp:
		return e.canned(t, helpReply)
	case IntentGoodbye:
		t.reply = goodbyeReply(e.clinicName)
		t.ended = true
		return nil
	}

	if intent.RequiresLLM() {
		if err := e.extractInto(ctx, t, intent); err != nil {
			return err
		}
	}

	if err := e.prepare(ctx, t); err != nil {
		return err
	}
	return e.respond(ctx, t)
}

// confirm executes the action the session was waiting on.
func (e *Engine) confirm(ctx context.Context, t *turn) error {
	s := t.session
	action := s.AwaitingConfirmation
	t.intent = Intent(action)
	phone := s.Entities.PatientPhone

	var (
		res bookings.Result
		err error
		ran bool
	)
	switch action {
	case ActionCancel:
		if phone != "" {
			res, err = e.bookings.CancelByPhone(ctx, phone, s.Entities.AppointmentID)
			ran = true
		}
		s.AwaitingConfirmation = ActionNone
		s.PendingAction = ActionNone
	case ActionEdit:
		if phone == "" {
			s.AwaitingConfirmation = ActionNone
			break
		}
		if !s.Entities.HasRealChange() {
			s.AwaitingConfirmation = ActionNone
			s.EditStage = EditStageCollectingChanges
			return e.canned(t, editChangesPrompt)
		}
		res, err = e.bookings.UpdateByPhone(ctx, bookings.UpdateRequest{
			Phone:         phone,
			AppointmentID: s.Entities.AppointmentID,
			Date:          s.Entities.Date,
			Time:          s.Entities.Time,
			DoctorName:    s.Entities.DoctorName,
			Reason:        s.Entities.Reason,
		})
		ran = true
		s.clearFlow()
	case ActionBook:
		res, err = e.bookings.Book(ctx, bookings.BookRequest{
			PatientName:  s.Entities.PatientName,
			PatientPhone: phone,
			Date:         s.Entities.Date,
			Time:         s.Entities.Time,
			DoctorName:   s.Entities.DoctorName,
			Reason:       s.Entities.Reason,
		})
		ran = true
		s.AwaitingConfirmation = ActionNone
		s.PendingAction = ActionNone
	default:
		s.AwaitingConfirmation = ActionNone
	}
	if err != nil {
		e.logger.Error("booking action failed", "session_id", t.sessionID, "action", string(action), "error", err)
		return fmt.Errorf("%w: %v", errTechnical, err)
	}

	if ran {
		t.result = &res
		t.executed = true
		t.mutated = res.Success
		e.metrics.ObserveAction(string(action), res.Success)
	}

	if err := e.respond(ctx, t); err != nil {
		return err
	}

	if ran && res.Success {
		s.Entities = Entities{}
		s.EditStage = EditStageNone
		e.publish(action, res)
	}
	return nil
}

// collectEdit reads the requested change while an edit is in progress.
func (e *Engine) collectEdit(ctx context.Context, t *turn) error {
	s := t.session
	t.intent = IntentEdit
	s.LastIntent = IntentEdit
	if s.EditStage == EditStageShownAppointment {
		s.EditStage = EditStageCollectingChanges
	}

	if err := e.extractInto(ctx, t, IntentEdit); err != nil {
		return err
	}

	if !s.Entities.HasRealChange() {
		return e.canned(t, editNeedDetails)
	}
	s.AwaitingConfirmation = ActionEdit
	s.EditStage = EditStageAwaitingFinalConfirmation
	return e.respond(ctx, t)
}

// prepare runs the intent's action logic before the reply is phrased.
func (e *Engine) prepare(ctx context.Context, t *turn) error {
	s := t.session
	phone := s.Entities.PatientPhone

	switch t.intent {
	case IntentBook:
		s.PendingAction = ActionBook
		if len(s.Entities.MissingForBooking()) == 0 && s.AwaitingConfirmation == ActionNone {
			s.AwaitingConfirmation = ActionBook
		}

	case IntentView:
		s.PendingAction = ActionView
		if phone == "" {
			return nil
		}
		res, err := e.bookings.View(ctx, phone)
		if err != nil {
			return fmt.Errorf("%w: %v", errTechnical, err)
		}
		t.result = &res
		s.PendingAction = ActionNone

	case IntentEdit:
		s.PendingAction = ActionEdit
		if phone == "" || s.AwaitingConfirmation != ActionNone || s.EditStage != EditStageNone {
			return nil
		}
		found, err := e.lookupTarget(ctx, t, phone)
		if err != nil || !found {
			return err
		}
		s.EditStage = EditStageShownAppointment

	case IntentCancel:
		s.PendingAction = ActionCancel
		if phone == "" || s.AwaitingConfirmation != ActionNone {
			return nil
		}
		found, err := e.lookupTarget(ctx, t, phone)
		if err != nil || !found {
			return err
		}
		s.AwaitingConfirmation = ActionCancel
	}
	return nil
}

// lookupTarget loads the phone's appointments and picks the one a cancel or
// edit would act on. When there is none it records the failure and drops the
// pending action.
func (e *Engine) lookupTarget(ctx context.Context, t *turn, phone string) (bool, error) {
	res, err := e.bookings.View(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTechnical, err)
	}
	target, upcoming := selectTarget(res.Appointments, e.now(), t.session.Entities.AppointmentID)
	if target == nil {
		t.result = &bookings.Result{
			Reason:  bookings.ReasonNotFound,
			Message: "No appointments found for phone number " + phone,
		}
		if len(res.Appointments) > 0 {
			t.result.Reason = bookings.ReasonNoUpcoming
			t.result.Message = "No upcoming appointments found for phone number " + phone
		}
		t.session.PendingAction = ActionNone
		return false, nil
	}
	if target.ID != t.session.Entities.AppointmentID {
		// An unknown id would make the confirmed action miss the appointment
		// shown here.
		t.session.Entities.AppointmentID = ""
	}
	res.UpcomingCount = upcoming
	t.result = &res
	t.target = target
	return true, nil
}

// selectTarget returns the upcoming appointment matching id, or else the
// earliest one starting after now, and the number of upcoming appointments.
func selectTarget(appointments []calendar.Appointment, now time.Time, id string) (*calendar.Appointment, int) {
	var earliest, byID *calendar.Appointment
	upcoming := 0
	for i := range appointments {
		apt := &appointments[i]
		if !apt.StartTime.After(now) {
			continue
		}
		upcoming++
		if id != "" && apt.ID == id {
			byID = apt
		}
		if earliest == nil || apt.StartTime.Before(earliest.StartTime) {
			earliest = apt
		}
	}
	if byID != nil {
		return byID, upcoming
	}
	return earliest, upcoming
}

func (e *Engine) extractInto(ctx context.Context, t *turn, intent Intent) error {
	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	started := time.Now()
	extracted, err := e.extractor.Extract(llmCtx, ExtractionRequest{
		Message: t.message,
		Intent:  intent,
		History: t.session.History,
		Known:   t.session.Entities,
	})
	e.metrics.ObserveLLMLatency("extract", time.Since(started).Seconds())
	if err != nil {
		e.metrics.ObserveUpstreamFailure("extract")
		e.logger.Warn("entity extraction failed", "session_id", t.sessionID, "error", err)
		return fmt.Errorf("%w: %v", errUpstream, err)
	}
	t.session.Entities = t.session.Entities.Merge(extracted)
	return nil
}

// respond phrases the reply and records the exchange. When the responder
// fails after a write succeeded the reply falls back to a template so the
// committed change is still reported.
func (e *Engine) respond(ctx context.Context, t *turn) error {
	s := t.session
	tc := TurnContext{
		Message:              t.message,
		Intent:               t.intent,
		Entities:             s.Entities,
		Result:               t.result,
		Executed:             t.executed,
		Target:               t.target,
		AwaitingConfirmation: s.AwaitingConfirmation,
		PendingAction:        s.PendingAction,
		EditStage:            s.EditStage,
		History:              s.History,
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()
	started := time.Now()
	reply, err := e.responder.Respond(llmCtx, tc)
	e.metrics.ObserveLLMLatency("respond", time.Since(started).Seconds())
	if err != nil {
		e.metrics.ObserveUpstreamFailure("respond")
		e.logger.Warn("response generation failed", "session_id", t.sessionID, "mutated", t.mutated, "error", err)
		if !t.mutated {
			return fmt.Errorf("%w: %v", errUpstream, err)
		}
		reply = templateReply(tc)
	}

	t.reply = e.guard(ctx, reply, tc)
	s.AppendExchange(t.message, t.reply)
	return nil
}

// guard strips appointment ids and other patients' names from reply.
func (e *Engine) guard(ctx context.Context, reply string, tc TurnContext) string {
	gc := GuardContext{AllowedNames: []string{tc.Entities.PatientName}}
	addAppointment := func(apt calendar.Appointment) {
		gc.AppointmentIDs = append(gc.AppointmentIDs, apt.ID)
		gc.AllowedNames = append(gc.AllowedNames, apt.PatientName)
	}
	if tc.Result != nil {
		for _, apt := range tc.Result.Appointments {
			addAppointment(apt)
		}
		if tc.Result.Appointment != nil {
			addAppointment(*tc.Result.Appointment)
		}
	}
	if tc.Target != nil {
		addAppointment(*tc.Target)
	}
	if e.directory != nil {
		all, err := e.directory.All(ctx)
		if err != nil {
			e.logger.Warn("patient directory unavailable for reply guard", "error", err)
		}
		for _, apt := range all {
			gc.KnownNames = append(gc.KnownNames, apt.PatientName)
		}
	}

	scan := ScanOutputForLeaks(reply, gc)
	if !scan.Leaked {
		return reply
	}
	e.logger.Warn("reply guard fired", "reasons", scan.Reasons)
	if scan.Sanitized != "" {
		return scan.Sanitized
	}
	return templateReply(tc)
}

// canned answers with a fixed reply and records the exchange.
func (e *Engine) canned(t *turn, reply string) error {
	t.reply = reply
	t.session.AppendExchange(t.message, reply)
	return nil
}

func (e *Engine) publish(action Action, res bookings.Result) {
	if e.notifier == nil || res.Appointment == nil {
		return
	}
	var kind notify.EventKind
	switch action {
	case ActionBook:
		kind = notify.EventBooked
	case ActionEdit:
		kind = notify.EventUpdated
	case ActionCancel:
		kind = notify.EventCancelled
	default:
		return
	}
	e.notifier.Publish(notify.BookingEvent{Kind: kind, Appointment: *res.Appointment})
}
