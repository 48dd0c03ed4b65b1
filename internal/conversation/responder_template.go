package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/medibook-assistant/internal/bookings"
)

// Fixed replies that never go through a model.
const (
	apologyReply        = "I apologize, but I'm having trouble processing your request. Please try again."
	technicalErrorReply = "Sorry, something went wrong on our side while handling your appointment. Please try again in a moment."
	editChangesPrompt   = "Great! What would you like to change? Please provide the new date, time, doctor, or reason."
	editNeedDetails     = "I need more details. Please provide the new date and time (e.g., '21 january 2026 at 10am'), or specify the doctor or reason."
	cancelNeedPhone     = "To cancel your appointment, I'll need your phone number please."
	editNeedPhone       = "To modify your appointment, please provide your phone number."
	viewNeedPhone       = "To look up your appointments, please provide your phone number."
	helpReply           = "I can assist you with:\n\n• Book a new appointment\n• View your appointments\n• Modify an appointment\n• Cancel an appointment\n\nWhat would you like to do?"
)

func greetingReply(clinicName string) string {
	return fmt.Sprintf("Hello! Welcome to %s. How may I assist you today?", clinicName)
}

func goodbyeReply(clinicName string) string {
	return fmt.Sprintf("Thank you for choosing %s. Take care and stay healthy!", clinicName)
}

func abortReply(action Action) string {
	return fmt.Sprintf("Okay, I've cancelled the %s operation. Is there anything else I can help you with?", action)
}

// TemplateResponder phrases replies without a model. The engine uses it when
// an action has already run and the model fails, and it serves as the only
// responder when no provider is configured.
type TemplateResponder struct{}

func NewTemplateResponder() TemplateResponder {
	return TemplateResponder{}
}

func (TemplateResponder) Respond(_ context.Context, tc TurnContext) (string, error) {
	return templateReply(tc), nil
}

func templateReply(tc TurnContext) string {
	if res := tc.Result; res != nil && !res.Success {
		var b strings.Builder
		fmt.Fprintf(&b, "I couldn't complete that: %s.", strings.TrimSuffix(res.Message, "."))
		if len(res.Alternatives) > 0 {
			fmt.Fprintf(&b, " Available alternatives: %s.", strings.Join(res.Alternatives, "; "))
		}
		if len(res.MissingFields) > 0 {
			fmt.Fprintf(&b, " Please provide %s.", strings.Join(humanFields(res.MissingFields), ", "))
		}
		return b.String()
	}

	if res := tc.Result; res != nil && tc.Executed {
		var b strings.Builder
		switch tc.Intent {
		case IntentBook:
			b.WriteString("✅ Your appointment is booked")
		case IntentEdit:
			b.WriteString("✅ Your appointment has been updated")
		case IntentCancel:
			b.WriteString("✅ Your appointment has been cancelled")
		default:
			b.WriteString("✅ Done")
		}
		if res.Appointment != nil {
			fmt.Fprintf(&b, " for %s", describeWhen(*res.Appointment))
			if tc.Intent != IntentCancel && res.Appointment.DoctorName != "" {
				fmt.Fprintf(&b, " with %s", res.Appointment.DoctorName)
			}
		}
		b.WriteString(".")
		if res.UpcomingCount > 1 {
			fmt.Fprintf(&b, " You had %d upcoming appointments; I used the earliest one.", res.UpcomingCount)
		}
		b.WriteString(" Is there anything else I can help you with?")
		return b.String()
	}

	switch tc.Intent {
	case IntentView:
		if tc.Result != nil {
			if len(tc.Result.Appointments) == 0 {
				return "You have no appointments with us."
			}
			lines := []string{fmt.Sprintf("You have %d appointment(s):", len(tc.Result.Appointments))}
			for _, apt := range tc.Result.Appointments {
				lines = append(lines, fmt.Sprintf("• %s with %s (%s)", describeWhen(apt), orNotSpecified(apt.DoctorName), orNotSpecified(apt.Reason)))
			}
			return strings.Join(lines, "\n")
		}
		return viewNeedPhone
	case IntentCancel:
		if tc.Target != nil && tc.AwaitingConfirmation == ActionCancel {
			return "I found your appointment:\n" + bulletLines(appointmentLines(*tc.Target)) +
				"\n\nAre you sure you want to cancel this appointment? (yes/no)"
		}
		if tc.Entities.PatientPhone == "" {
			return cancelNeedPhone
		}
	case IntentEdit:
		if tc.AwaitingConfirmation == ActionEdit {
			return "Please confirm the change to your appointment: " + describeChanges(tc.Entities) + ". Shall I proceed? (yes/no)"
		}
		if tc.Target != nil {
			return "I found your appointment:\n" + bulletLines(appointmentLines(*tc.Target)) +
				"\n\nWhat would you like to change? You can update the date, time, doctor, or reason for your visit."
		}
		if tc.Entities.PatientPhone == "" {
			return editNeedPhone
		}
	case IntentBook:
		if tc.AwaitingConfirmation == ActionBook {
			e := tc.Entities
			return fmt.Sprintf("Please confirm your booking:\n• Patient: %s\n• Phone: %s\n• Date: %s\n• Time: %s\n• Doctor: %s\n• Reason: %s\n\nShall I book it? (yes/no)",
				e.PatientName, e.PatientPhone, e.Date, e.Time, orDefault(e.DoctorName, bookings.DefaultDoctor), orDefault(e.Reason, bookings.DefaultReason))
		}
		if missing := tc.Entities.MissingForBooking(); len(missing) > 0 {
			return "To book your appointment, please provide " + strings.Join(humanFields(missing), ", ") + "."
		}
	}
	return "Could you tell me a bit more? I can book, view, modify or cancel appointments."
}

func describeChanges(e Entities) string {
	var parts []string
	if e.Date != "" {
		parts = append(parts, "date "+e.Date)
	}
	if e.Time != "" {
		parts = append(parts, "time "+e.Time)
	}
	if e.DoctorName != "" {
		parts = append(parts, "doctor "+e.DoctorName)
	}
	if e.Reason != "" {
		parts = append(parts, "reason "+e.Reason)
	}
	return strings.Join(parts, ", ")
}

func bulletLines(lines []string) string {
	return "• " + strings.Join(lines, "\n• ")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
