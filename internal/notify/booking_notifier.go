package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/medibook-assistant/internal/calendar"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// EventKind names what happened to an appointment.
type EventKind string

const (
	EventBooked    EventKind = "booked"
	EventUpdated   EventKind = "updated"
	EventCancelled EventKind = "cancelled"
)

// BookingEvent is one appointment change staff should hear about.
type BookingEvent struct {
	Kind        EventKind
	Appointment calendar.Appointment
}

const sendTimeout = 15 * time.Second

// BookingNotifier e-mails clinic staff about booking changes. Publish never
// blocks the caller and failures are only logged.
type BookingNotifier struct {
	email      EmailSender
	recipients []string
	clinicName string
	logger     *logging.Logger
	wg         sync.WaitGroup
}

// NewBookingNotifier returns nil when there is no sender or no recipient, and
// a nil notifier ignores every event.
func NewBookingNotifier(email EmailSender, recipients []string, clinicName string, logger *logging.Logger) *BookingNotifier {
	if email == nil || len(recipients) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if clinicName == "" {
		clinicName = "MediBook Clinic"
	}
	return &BookingNotifier{email: email, recipients: recipients, clinicName: clinicName, logger: logger}
}

// Publish sends evt in the background.
func (n *BookingNotifier) Publish(evt BookingEvent) {
	if n == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.Notify(ctx, evt); err != nil {
			n.logger.Warn("notify: booking notification failed", "error", err, "kind", string(evt.Kind), "appointment_id", evt.Appointment.ID)
		}
	}()
}

// Wait blocks until every published event has been handled.
func (n *BookingNotifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// Notify sends evt as one message addressed to every recipient.
func (n *BookingNotifier) Notify(ctx context.Context, evt BookingEvent) error {
	if n == nil {
		return nil
	}
	msg := n.render(evt)
	msg.To = n.recipients
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: %s notice for %s: %w", evt.Kind, evt.Appointment.ID, err)
	}
	return nil
}

func (n *BookingNotifier) render(evt BookingEvent) EmailMessage {
	apt := evt.Appointment
	var title string
	switch evt.Kind {
	case EventBooked:
		title = "New appointment"
	case EventUpdated:
		title = "Appointment changed"
	case EventCancelled:
		title = "Appointment cancelled"
	default:
		title = "Appointment " + string(evt.Kind)
	}
	when := apt.StartTime.Format("Monday, January 2, 2006 at 3:04 PM")

	var body strings.Builder
	fmt.Fprintf(&body, "%s at %s\n\n", title, n.clinicName)
	fmt.Fprintf(&body, "Patient: %s\n", apt.PatientName)
	fmt.Fprintf(&body, "Phone: %s\n", apt.PatientPhone)
	fmt.Fprintf(&body, "When: %s (%d min)\n", when, apt.Duration)
	if apt.DoctorName != "" {
		fmt.Fprintf(&body, "Doctor: %s\n", apt.DoctorName)
	}
	if apt.Reason != "" {
		fmt.Fprintf(&body, "Reason: %s\n", apt.Reason)
	}
	fmt.Fprintf(&body, "Reference: %s\n", apt.ID)

	return EmailMessage{
		Subject: fmt.Sprintf("%s - %s, %s", title, apt.PatientName, when),
		Body:    body.String(),
		Event:   evt.Kind,
	}
}
