package conversation

import (
	"regexp"
	"strings"
)

// OutputGuardResult contains the result of scanning an outbound reply.
type OutputGuardResult struct {
	// Leaked is true if the reply contained something that must not be sent.
	Leaked bool
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Sanitized is the cleaned reply, or empty when the reply must be replaced.
	Sanitized string
}

// GuardContext names the identifiers a reply must not carry.
type GuardContext struct {
	// AppointmentIDs are removed wherever they appear.
	AppointmentIDs []string
	// AllowedNames belong to the person in the conversation.
	AllowedNames []string
	// KnownNames are every patient name the clinic holds. Any of them not in
	// AllowedNames is removed.
	KnownNames []string
}

type outputLeakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool // if true, block entirely; if false, can try to sanitize
}

var outputLeakPatterns = []outputLeakPattern{
	// System prompt / instruction leaks
	{regexp.MustCompile(`(?i)my (system\s+)?prompt\s+(is|says|tells|instructs)`), "leak:system_prompt_disclosure", true},
	{regexp.MustCompile(`(?i)my instructions?\s+(are|say|tell|include|require)`), "leak:instructions_disclosure", true},
	{regexp.MustCompile(`(?i)(here are|these are|the following are)\s+(my )?(system )?(instructions|rules|guidelines|prompts)`), "leak:rules_listing", true},
	{regexp.MustCompile(`(?i)(collected data|awaiting confirmation for|pending action)\s*:`), "leak:turn_context", true},

	// Credential / infrastructure leaks
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`(?i)gsk_[a-zA-Z0-9]{20,}`), "leak:groq_key", true},
	{regexp.MustCompile(`(?i)AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)redis://\S+`), "leak:redis_url", true},

	// Appointment identifiers
	{regexp.MustCompile(`(?i)\b(appointment\s+)?(id|reference|ref)\s*[:#]?\s*[0-9a-f]{8}\b`), "leak:appointment_id", false},

	// Other patient data
	{regexp.MustCompile(`(?i)(other|another) patient'?s?\s+(name|phone|appointment|record)`), "leak:other_patient_ref", true},
}

var appointmentIDPhrase = regexp.MustCompile(`(?i)\s*[(\[]?\s*(appointment\s+)?(id|reference|ref)\s*[:#]?\s*[0-9a-f]{8}\s*[)\]]?`)

// ScanOutputForLeaks checks an outbound reply against gc.
func ScanOutputForLeaks(reply string, gc GuardContext) OutputGuardResult {
	if strings.TrimSpace(reply) == "" {
		return OutputGuardResult{Sanitized: reply}
	}

	var reasons []string
	shouldBlock := false
	for _, p := range outputLeakPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
			if p.block {
				shouldBlock = true
			}
		}
	}
	for _, id := range gc.AppointmentIDs {
		if id != "" && strings.Contains(strings.ToLower(reply), strings.ToLower(id)) {
			reasons = append(reasons, "leak:appointment_id")
			break
		}
	}
	foreign := foreignNames(gc)
	for _, name := range foreign {
		if nameRegexp(name).MatchString(reply) {
			reasons = append(reasons, "leak:foreign_patient_name")
			break
		}
	}

	if len(reasons) == 0 {
		return OutputGuardResult{Sanitized: reply}
	}
	result := OutputGuardResult{Leaked: true, Reasons: reasons}
	if !shouldBlock {
		result.Sanitized = sanitizeOutput(reply, gc.AppointmentIDs, foreign)
	}
	return result
}

// sanitizeOutput removes appointment ids and foreign names while keeping
// the rest of the reply.
func sanitizeOutput(reply string, ids, foreign []string) string {
	cleaned := appointmentIDPhrase.ReplaceAllString(reply, "")
	for _, id := range ids {
		if id == "" {
			continue
		}
		cleaned = regexp.MustCompile(`(?i)\s*\b`+regexp.QuoteMeta(id)+`\b`).ReplaceAllString(cleaned, "")
	}
	for _, name := range foreign {
		cleaned = nameRegexp(name).ReplaceAllString(cleaned, "${1}another patient${2}")
	}
	return strings.TrimSpace(cleaned)
}

func foreignNames(gc GuardContext) []string {
	allowed := make(map[string]bool, len(gc.AllowedNames))
	for _, n := range gc.AllowedNames {
		allowed[strings.ToLower(strings.TrimSpace(n))] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, n := range gc.KnownNames {
		key := strings.ToLower(strings.TrimSpace(n))
		// Single short tokens would match ordinary words.
		if len(key) < 3 || allowed[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(n))
	}
	return out
}

// nameRegexp matches name as whole words in any script.
func nameRegexp(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\p{L}])` + regexp.QuoteMeta(name) + `([^\p{L}]|$)`)
}
