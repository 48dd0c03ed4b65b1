package conversation

import (
	"strings"
	"unicode"
)

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentGreet   Intent = "greet"
	IntentBook    Intent = "book"
	IntentEdit    Intent = "edit"
	IntentCancel  Intent = "cancel"
	IntentView    Intent = "view"
	IntentGoodbye Intent = "goodbye"
	IntentHelp    Intent = "help"
	IntentUnclear Intent = "unclear"

	// IntentConfirmationCancelled labels the reply to a declined confirmation.
	// Detect never returns it.
	IntentConfirmationCancelled Intent = "confirmation_cancelled"
)

// RequiresLLM reports whether entity extraction runs for the intent.
func (i Intent) RequiresLLM() bool {
	switch i {
	case IntentBook, IntentEdit, IntentCancel, IntentView, IntentUnclear:
		return true
	}
	return false
}

// RequiresTools reports whether the intent may touch the appointment book.
func (i Intent) RequiresTools() bool {
	switch i {
	case IntentBook, IntentEdit, IntentCancel, IntentView:
		return true
	}
	return false
}

// SessionContext is the slice of session state the detector looks at.
type SessionContext struct {
	EditStage            EditStage
	PendingAction        Action
	AwaitingConfirmation Action
}

type intentKeywords struct {
	intent   Intent
	keywords []string
}

// intentTable is scanned in order; the first intent with a matching keyword
// wins. Bare "appointment"/"rendez-vous" are left out of the book list so
// that "cancel my appointment" reaches the cancel entry.
var intentTable = []intentKeywords{
	{IntentGreet, []string{
		"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
		"bonjour", "bonsoir", "salut", "salam", "salam alaikum", "assalamu alaikum", "marhaba",
		"مرحبا", "اهلا", "السلام عليكم",
	}},
	{IntentBook, []string{
		"book", "schedule", "make", "reserve", "an appointment", "new appointment",
		"réserver", "reserver", "prendre", "un rendez-vous", "prendre rendez-vous", "rdv",
		"hjez", "nhjez", "maw3id", "احجز", "حجز", "موعد جديد",
	}},
	{IntentEdit, []string{
		"change", "modify", "reschedule", "update", "edit", "move",
		"changer", "modifier", "déplacer", "deplacer", "reporter",
		"beddel", "تغيير", "تعديل",
	}},
	{IntentCancel, []string{
		"cancel", "delete", "remove", "annuler", "supprimer",
		"elghi", "إلغاء", "الغاء", "الغي", "ألغي",
	}},
	{IntentView, []string{
		"view", "show", "list", "my appointments", "check",
		"voir", "afficher", "mes rendez-vous", "mes rdv",
		"mawa3idi", "عرض", "مواعيدي",
	}},
	{IntentGoodbye, []string{
		"bye", "goodbye", "bye bye", "see you", "thanks", "thank you",
		"au revoir", "merci", "beslama", "shukran",
		"مع السلامة", "شكرا",
	}},
	{IntentHelp, []string{
		"help", "what can you do", "options", "aide", "comment",
		"مساعدة", "ساعدني",
	}},
}

// editExitWords let a user leave an edit in progress.
var editExitWords = []string{"cancel", "bye", "goodbye", "stop", "quit", "exit", "annuler", "إلغاء"}

// Detect classifies message. While an edit is in progress every message is
// treated as part of the edit unless it carries an exit word.
func Detect(message string, sc SessionContext) Intent {
	text := normalizeMessage(message)

	if sc.EditStage.Active() && !containsAny(text, editExitWords) {
		return IntentEdit
	}

	for _, entry := range intentTable {
		if containsAny(text, entry.keywords) {
			return entry.intent
		}
	}
	return IntentUnclear
}

// Confirmation is the yes/no reading of a reply to a confirmation prompt.
type Confirmation int

const (
	ConfirmationNone Confirmation = iota
	ConfirmationAffirmative
	ConfirmationNegative
)

var (
	affirmativeWords = []string{
		"yes", "confirm", "ok", "okay", "correct", "right", "yep", "yeah", "oui", "si",
		"good", "sure", "proceed", "confirmed", "go ahead", "do it", "absolutely",
		"d'accord", "wah", "ih", "نعم", "ايه", "أكيد",
	}
	// negatedPhrases read as no even though they contain a yes word.
	negatedPhrases = []string{
		"absolutely not", "do not", "don't do it", "dont do it", "not ok", "not okay",
	}
	negativeWords = []string{
		"no", "cancel", "nope", "nah", "stop", "non", "don't", "dont", "لا",
	}
)

// ClassifyConfirmation reads message as a yes or a no. A message that
// contains both reads as yes, unless the yes word is itself negated.
func ClassifyConfirmation(message string) Confirmation {
	text := normalizeMessage(message)
	switch {
	case containsAny(text, negatedPhrases):
		return ConfirmationNegative
	case containsAny(text, affirmativeWords):
		return ConfirmationAffirmative
	case containsAny(text, negativeWords):
		return ConfirmationNegative
	default:
		return ConfirmationNone
	}
}

// normalizeMessage lowercases message, turns punctuation into spaces and
// pads the result so whole words can be found with " word ".
func normalizeMessage(message string) string {
	lowered := strings.ToLower(strings.ReplaceAll(message, "’", "'"))
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || r == '\'' || r == '-' {
			return r
		}
		return ' '
	}, lowered)
	return " " + strings.Join(strings.Fields(cleaned), " ") + " "
}

func containsAny(normalized string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(normalized, " "+phrase+" ") {
			return true
		}
	}
	return false
}
