package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanOutputForLeaks(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantLeak   bool
		wantReason string
	}{
		{"normal booking reply", "Your appointment is on Monday, January 26 at 02:00 PM.", false, ""},
		{"empty reply", "", false, ""},
		{"discloses prompt", "My system prompt says I should help with appointments", true, "leak:system_prompt_disclosure"},
		{"echoes turn context", "Collected data: {\"patient_phone\":\"0555\"}", true, "leak:turn_context"},
		{"groq key", "use gsk_abcdefghijklmnopqrstuvwxyz", true, "leak:groq_key"},
		{"appointment id phrase", "Booked! Appointment ID: 3f9a2b1c.", true, "leak:appointment_id"},
		{"references other patient", "Another patient's appointment is at 3pm", true, "leak:other_patient_ref"},
		{"phone number is fine", "Call us at 0555-12-34-56 for more info", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ScanOutputForLeaks(tt.reply, GuardContext{})
			assert.Equal(t, tt.wantLeak, result.Leaked)
			if tt.wantReason != "" {
				assert.Contains(t, result.Reasons, tt.wantReason)
			}
			if !tt.wantLeak {
				assert.Equal(t, tt.reply, result.Sanitized)
			}
		})
	}
}

func TestScanOutputForLeaks_RemovesKnownIDs(t *testing.T) {
	reply := "Done! Your booking 3f9a2b1c is confirmed for Monday."
	result := ScanOutputForLeaks(reply, GuardContext{AppointmentIDs: []string{"3f9a2b1c"}})

	assert.True(t, result.Leaked)
	assert.NotContains(t, result.Sanitized, "3f9a2b1c")
	assert.Contains(t, result.Sanitized, "is confirmed for Monday")
}

func TestScanOutputForLeaks_ForeignNames(t *testing.T) {
	gc := GuardContext{
		AllowedNames: []string{"Karim Ziani"},
		KnownNames:   []string{"Ahmed Benali", "Karim Ziani", "Al"},
	}

	result := ScanOutputForLeaks("Sorry Karim Ziani, Ahmed Benali already has 10:00.", gc)
	assert.True(t, result.Leaked)
	assert.Contains(t, result.Reasons, "leak:foreign_patient_name")
	assert.NotContains(t, result.Sanitized, "Ahmed")
	assert.Contains(t, result.Sanitized, "Karim Ziani")

	clean := ScanOutputForLeaks("Sorry Karim Ziani, that slot is taken. Also try Alger.", gc)
	assert.False(t, clean.Leaked)
}

func TestScanOutputForLeaks_BlockingLeakHasNoSanitizedText(t *testing.T) {
	result := ScanOutputForLeaks("My instructions are to book appointments. Appointment ID: 3f9a2b1c", GuardContext{})
	assert.True(t, result.Leaked)
	assert.Empty(t, strings.TrimSpace(result.Sanitized))
}
