package conversation

import (
	"context"
	"regexp"
	"strings"
)

var (
	localPhonePattern  = regexp.MustCompile(`\+?\d[\d\s().-]{7,15}\d`)
	localTimePattern   = regexp.MustCompile(`(?i)\b(\d{1,2}(?::|\.|h)\d{2}|\d{1,2}\s*(?:a\.?m\.?|p\.?m\.?)|\d{1,2}h|noon|midday|midi)(?:\s|$|[,.!?])`)
	localAtHourPattern = regexp.MustCompile(`(?i)(?:^|\s)(?:at|à)\s+(\d{1,2})\b`)
	localDatePattern   = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|\d{1,2}(?:st|nd|rd|th|er)?\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec|janv|févr|fevr|mars|avr|mai|juin|juil|août|aout|sept|déc)[a-zéû]*(?:\s+\d{4})?)\b`)
	localDoctorPattern = regexp.MustCompile(`(?i)\b(?:dr\.?|doctor|docteur)\s+([a-zà-ÿ][a-zà-ÿ'-]+)`)
	localNamePattern   = regexp.MustCompile(`(?i)(?:my name is|name is|je m'appelle|i am|i'm|je suis)\s+([a-zà-ÿ]{2,}(?:\s+[a-zà-ÿ]{2,})?)`)
	localReasonPattern = regexp.MustCompile(`(?i)\bfor (?:a |an |my )?(check-?up|consultation|follow-?up|control|vaccination|blood test|covid test|dental [a-z]+|[a-z]+ pain)\b`)
)

var localDayWords = []string{
	"today", "tomorrow", "day after tomorrow", "aujourd'hui", "demain", "après-demain",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche",
	"اليوم", "غدا",
}

// nameStopWords are words the name pattern must not capture.
var nameStopWords = map[string]bool{
	"the": true, "is": true, "am": true, "are": true, "my": true, "your": true,
	"book": true, "appointment": true, "name": true, "phone": true, "number": true,
	"here": true, "looking": true, "calling": true, "trying": true, "sorry": true,
	"available": true, "free": true, "not": true, "going": true, "interested": true, "fine": true,
}

// LocalExtractor is a best-effort regular expression extractor used when the
// model is unavailable. It reads only the current message.
type LocalExtractor struct{}

func NewLocalExtractor() LocalExtractor {
	return LocalExtractor{}
}

func (LocalExtractor) Extract(_ context.Context, req ExtractionRequest) (Entities, error) {
	msg := strings.TrimSpace(req.Message)
	var out Entities

	if m := localPhonePattern.FindString(msg); m != "" {
		out.PatientPhone = strings.TrimSpace(m)
	}
	// Strip the phone so its digits are not read as a time or date.
	rest := msg
	if out.PatientPhone != "" {
		rest = strings.Replace(rest, out.PatientPhone, " ", 1)
	}

	if m := localDatePattern.FindStringSubmatch(rest); m != nil {
		out.Date = m[1]
	} else {
		normalized := normalizeMessage(rest)
		for _, day := range localDayWords {
			if strings.Contains(normalized, " "+day+" ") {
				out.Date = day
				break
			}
		}
	}

	dateless := rest
	if out.Date != "" {
		dateless = replaceFold(dateless, out.Date)
	}
	if m := localTimePattern.FindStringSubmatch(dateless); m != nil {
		out.Time = strings.TrimSpace(m[1])
	} else if m := localAtHourPattern.FindStringSubmatch(dateless); m != nil {
		out.Time = m[1]
	}

	if m := localDoctorPattern.FindStringSubmatch(msg); m != nil {
		out.DoctorName = "Dr. " + titleWord(m[1])
	}
	if m := localNamePattern.FindStringSubmatch(msg); m != nil {
		if name := cleanName(m[1]); name != "" {
			out.PatientName = name
		}
	}
	if m := localReasonPattern.FindStringSubmatch(msg); m != nil {
		out.Reason = strings.ToLower(m[1])
	}
	return out.Clean(), nil
}

func cleanName(raw string) string {
	words := strings.Fields(raw)
	kept := words[:0]
	for _, w := range words {
		if nameStopWords[strings.ToLower(w)] {
			break
		}
		kept = append(kept, titleWord(w))
	}
	return strings.Join(kept, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	runes := []rune(strings.ToLower(w))
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

func replaceFold(s, sub string) string {
	idx := strings.Index(strings.ToLower(s), strings.ToLower(sub))
	if idx < 0 {
		return s
	}
	return s[:idx] + " " + s[idx+len(sub):]
}
