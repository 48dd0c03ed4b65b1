package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/medibook-assistant/internal/bookings"
	"github.com/wolfman30/medibook-assistant/internal/calendar"
)

// TurnContext is everything a responder needs to phrase one reply. Executed
// is true when Result comes from running a confirmed action rather than from
// a lookup. Target is the appointment a pending cancel or edit will act on.
type TurnContext struct {
	Message              string
	Intent               Intent
	Entities             Entities
	Result               *bookings.Result
	Executed             bool
	Target               *calendar.Appointment
	AwaitingConfirmation Action
	PendingAction        Action
	EditStage            EditStage
	History              []ChatMessage
}

// Responder turns a TurnContext into the assistant's reply.
type Responder interface {
	Respond(ctx context.Context, tc TurnContext) (string, error)
}

const (
	responseHistoryTurns = 5
	responseTemperature  = 0.7
	responseMaxTokens    = 400

	displayDate = "Monday, January 2, 2006"
	displayTime = "03:04 PM"
)

const responseSystemPrompt = `You are %[1]s's booking assistant.

CANCEL APPOINTMENT FLOW:
1. User says "cancel" → Ask for phone number
2. User provides phone → Show the appointment details, then ask "Are you sure you want to cancel this appointment? (yes/no)"
3. User says "yes" → Confirm the cancellation
4. User says "no" → Drop the operation

EDIT APPOINTMENT FLOW:
1. User says "edit" → Ask for phone number
2. User provides phone → Show the appointment and ask what to change (date, time, doctor, reason)
3. User provides changes → Summarize them and ask for confirmation
4. User says "yes" → Confirm the update

BOOKING FLOW:
1. User says "book" → Ask for: name, phone, date, time, doctor (optional), reason (optional)
2. Collect all required info
3. Summarize and ask for confirmation
4. User confirms → Confirm the booking

VIEW APPOINTMENTS:
When the user provides a phone number for viewing, list their appointments clearly.

ABSOLUTE RULES:
- NEVER say "processing" or "retrieving"; just ask for what you need
- NEVER ask for information that is already collected
- NEVER mention appointment IDs or the names of other patients
- ALWAYS show appointment details before asking for cancel confirmation
- ALWAYS be clear, brief and direct
- Reply in the language the user writes in`

// LLMResponder phrases replies with a language model.
type LLMResponder struct {
	client     LLMClient
	model      string
	clinicName string
}

func NewLLMResponder(client LLMClient, model, clinicName string) *LLMResponder {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if strings.TrimSpace(clinicName) == "" {
		clinicName = "MediBook Clinic"
	}
	return &LLMResponder{client: client, model: model, clinicName: clinicName}
}

func (r *LLMResponder) Respond(ctx context.Context, tc TurnContext) (string, error) {
	messages := append([]ChatMessage(nil), lastTurns(tc.History, responseHistoryTurns)...)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: BuildTurnPrompt(tc)})

	resp, err := r.client.Complete(ctx, LLMRequest{
		Purpose:     PurposeRespond,
		Format:      FormatText,
		Model:       r.model,
		System:      fmt.Sprintf(responseSystemPrompt, r.clinicName),
		Messages:    messages,
		MaxTokens:   responseMaxTokens,
		Temperature: responseTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: response generation: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("conversation: response generation returned no text")
	}
	return resp.Text, nil
}

// BuildTurnPrompt renders tc as the instruction block sent to the model.
func BuildTurnPrompt(tc TurnContext) string {
	collected, _ := json.Marshal(tc.Entities)
	parts := []string{
		fmt.Sprintf("User's message: %q", tc.Message),
		fmt.Sprintf("Intent: %s", tc.Intent),
		fmt.Sprintf("\nCollected data: %s", collected),
	}

	if res := tc.Result; res != nil {
		if res.Success {
			parts = append(parts, successNotes(tc)...)
		} else {
			parts = append(parts, fmt.Sprintf("\nERROR: %s", res.Message))
			if len(res.Alternatives) > 0 {
				parts = append(parts, "Offer these alternatives: "+strings.Join(res.Alternatives, "; "))
			}
			if len(res.MissingFields) > 0 {
				parts = append(parts, "Ask for: "+strings.Join(humanFields(res.MissingFields), ", "))
			}
		}
	}

	if tc.AwaitingConfirmation != ActionNone {
		parts = append(parts, fmt.Sprintf("\nAWAITING CONFIRMATION for: %s", tc.AwaitingConfirmation))
		switch tc.AwaitingConfirmation {
		case ActionBook:
			parts = append(parts, "Summarize the booking details and ask the user to confirm (yes/no).")
		case ActionEdit:
			parts = append(parts, "Summarize the requested changes and ask the user to confirm (yes/no).")
		}
	}

	if tc.PendingAction != ActionNone && tc.AwaitingConfirmation == ActionNone {
		parts = append(parts, fmt.Sprintf("\nPENDING ACTION: %s", tc.PendingAction))
		if tc.Entities.PatientPhone == "" {
			switch tc.PendingAction {
			case ActionCancel:
				parts = append(parts, "Ask for phone number to proceed with cancellation.")
			case ActionEdit:
				parts = append(parts, "Ask for phone number to proceed with edit.")
			case ActionView:
				parts = append(parts, "Ask for phone number to look up the appointments.")
			}
		}
		if tc.PendingAction == ActionBook {
			if missing := tc.Entities.MissingForBooking(); len(missing) > 0 {
				parts = append(parts, "Still needed: "+strings.Join(humanFields(missing), ", "))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func successNotes(tc TurnContext) []string {
	res := tc.Result
	var notes []string
	if tc.Executed {
		switch tc.Intent {
		case IntentCancel:
			notes = append(notes, "\nCANCELLATION SUCCESSFUL")
			if res.Appointment != nil {
				notes = append(notes, "Cancelled: "+describeWhen(*res.Appointment))
			}
			notes = append(notes, "Confirm the cancellation and ask if they need anything else.")
		case IntentEdit:
			notes = append(notes, "\nUPDATE SUCCESSFUL")
			if res.Appointment != nil {
				notes = append(notes, appointmentLines(*res.Appointment)...)
			}
			notes = append(notes, "Confirm the update to the user.")
		case IntentBook:
			notes = append(notes, "\nBOOKING SUCCESSFUL")
			if res.Appointment != nil {
				notes = append(notes, appointmentLines(*res.Appointment)...)
			}
		}
		if res.UpcomingCount > 1 {
			notes = append(notes, fmt.Sprintf("The patient had %d upcoming appointments; the earliest one was used. Mention this.", res.UpcomingCount))
		}
		return notes
	}

	switch {
	case tc.Intent == IntentView:
		notes = append(notes, fmt.Sprintf("\nFOUND %d APPOINTMENTS", len(res.Appointments)))
		for _, apt := range res.Appointments {
			notes = append(notes, fmt.Sprintf("  - %s on %s", apt.PatientName, describeWhen(apt)))
		}
	case tc.Intent == IntentCancel && tc.Target != nil:
		notes = append(notes, "\nFOUND APPOINTMENT TO CANCEL:")
		notes = append(notes, appointmentLines(*tc.Target)...)
		notes = append(notes, "\nShow these details and ask: 'Are you sure you want to cancel this appointment? (yes/no)'")
	case tc.Intent == IntentEdit && tc.Target != nil:
		notes = append(notes, "\nFOUND APPOINTMENT TO EDIT:")
		notes = append(notes, appointmentLines(*tc.Target)...)
		notes = append(notes, "\nShow these details and ask: 'What would you like to change? (date, time, doctor, or reason)'")
	}
	if upcoming := countUpcomingNote(res); upcoming != "" {
		notes = append(notes, upcoming)
	}
	return notes
}

func countUpcomingNote(res *bookings.Result) string {
	if res.UpcomingCount > 1 {
		return fmt.Sprintf("The patient has %d upcoming appointments; the earliest one is selected.", res.UpcomingCount)
	}
	return ""
}

func appointmentLines(apt calendar.Appointment) []string {
	return []string{
		"Patient: " + apt.PatientName,
		"Date: " + apt.StartTime.Format(displayDate),
		"Time: " + apt.StartTime.Format(displayTime),
		"Doctor: " + orNotSpecified(apt.DoctorName),
		"Reason: " + orNotSpecified(apt.Reason),
	}
}

func describeWhen(apt calendar.Appointment) string {
	return apt.StartTime.Format(displayDate) + " at " + apt.StartTime.Format(displayTime)
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}

var fieldLabels = map[string]string{
	"patient_name":  "your full name",
	"patient_phone": "your phone number",
	"date":          "the date",
	"time":          "the time",
}

func humanFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if label, ok := fieldLabels[f]; ok {
			out = append(out, label)
		} else {
			out = append(out, strings.ReplaceAll(f, "_", " "))
		}
	}
	return out
}
