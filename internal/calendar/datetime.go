package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDays = map[string]int{
	"today":       0,
	"aujourd'hui": 0,
	"aujourdhui":  0,
	"اليوم":       0,
	"tomorrow":    1,
	"tomorow":     1,
	"tommorow":    1,
	"tommorrow":   1,
	"demain":      1,
	"غدا":         1,
	"غداً":        1,
	"yesterday":   -1,
	"hier":        -1,
	"أمس":         -1,
	"امس":         -1,

	"day after tomorrow": 2,
	"après-demain":       2,
	"apres-demain":       2,
	"après demain":       2,
	"apres demain":       2,
}

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
	"lundi":     time.Monday,
	"mardi":     time.Tuesday,
	"mercredi":  time.Wednesday,
	"jeudi":     time.Thursday,
	"vendredi":  time.Friday,
	"samedi":    time.Saturday,
	"dimanche":  time.Sunday,
	"الاثنين":   time.Monday,
	"الإثنين":   time.Monday,
	"الثلاثاء":  time.Tuesday,
	"الأربعاء":  time.Wednesday,
	"الاربعاء":  time.Wednesday,
	"الخميس":    time.Thursday,
	"الجمعة":    time.Friday,
	"السبت":     time.Saturday,
	"الأحد":     time.Sunday,
	"الاحد":     time.Sunday,
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January, "januray": time.January, "janury": time.January, "janvier": time.January,
	"february": time.February, "feb": time.February, "febuary": time.February, "feburary": time.February, "février": time.February, "fevrier": time.February,
	"march": time.March, "mar": time.March, "mars": time.March,
	"april": time.April, "apr": time.April, "apirl": time.April, "avril": time.April,
	"may": time.May, "mai": time.May,
	"june": time.June, "jun": time.June, "juin": time.June,
	"july": time.July, "jul": time.July, "juillet": time.July,
	"august": time.August, "aug": time.August, "août": time.August, "aout": time.August,
	"september": time.September, "sep": time.September, "sept": time.September, "septembre": time.September,
	"october": time.October, "oct": time.October, "ocotber": time.October, "otober": time.October, "octobre": time.October,
	"november": time.November, "nov": time.November, "novmber": time.November, "novembre": time.November,
	"december": time.December, "dec": time.December, "decemeber": time.December, "decembre": time.December,
	"décembre": time.December, "decmber": time.December, "decembe": time.December,
}

// Numeric layouts tried when the phrase is not relative, a weekday or
// "day month [year]". Day-first wins over month-first.
var dateLayouts = []string{"2006-01-02", "2/1/2006", "1/2/2006", "2-1-2006"}

var (
	ordinalRe  = regexp.MustCompile(`^(\d{1,2})(st|nd|rd|th|er|e|ème)$`)
	ampmRe     = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)$`)
	hourHRe    = regexp.MustCompile(`^(\d{1,2})h(?::?(\d{2}))?$`)
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	bareHourRe = regexp.MustCompile(`^\d{1,2}$`)
)

// ParseDateTime combines ParseDate and ParseTime. The result is in now's
// location, which callers set to the clinic timezone.
func ParseDateTime(dateText, timeText string, now time.Time) (time.Time, error) {
	day, err := ParseDate(dateText, now)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ParseTime(timeText)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), nil
}

// ParseDate resolves a date phrase to midnight of that day in now's location.
// A bare weekday means its next occurrence strictly after today. A missing
// year defaults to now's year even when the date has already passed.
func ParseDate(dateText string, now time.Time) (time.Time, error) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	text := normalizeDatePhrase(dateText)
	if text == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrParse)
	}

	if offset, ok := relativeDays[text]; ok {
		return today.AddDate(0, 0, offset), nil
	}

	if wd, ok := weekdayNames[stripWeekdayQualifiers(text)]; ok {
		ahead := int(wd) - int(today.Weekday())
		if ahead <= 0 {
			ahead += 7
		}
		return today.AddDate(0, 0, ahead), nil
	}

	if d, ok, err := parseDayMonth(text, today); ok || err != nil {
		return d, err
	}

	raw := strings.TrimSpace(dateText)
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", ErrParse, dateText)
}

func normalizeDatePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.TrimRight(s, " .,!?")
	return strings.Join(strings.Fields(s), " ")
}

func stripWeekdayQualifiers(s string) string {
	for _, prefix := range []string{"next ", "this ", "coming ", "le ", "ce ", "يوم "} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, suffix := range []string{" prochain", " prochaine", " qui vient", " القادم"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}

// parseDayMonth handles "21 january 2026", "january 21st", "le 3 mars".
// ok is false when the phrase does not carry both a day and a month.
func parseDayMonth(text string, today time.Time) (time.Time, bool, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == ',' })
	day, year := 0, today.Year()
	var month time.Month
	for _, tok := range tokens {
		if m := ordinalRe.FindStringSubmatch(tok); m != nil {
			tok = m[1]
		}
		if n, err := strconv.Atoi(tok); err == nil {
			switch {
			case n >= 1 && n <= 31:
				day = n
			case n > 1000:
				year = n
			}
			continue
		}
		if m, ok := monthNames[tok]; ok {
			month = m
		}
	}
	if day == 0 || month == 0 {
		return time.Time{}, false, nil
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, today.Location())
	if d.Day() != day || d.Month() != month {
		return time.Time{}, true, fmt.Errorf("%w: %d %s %d does not exist", ErrParse, day, month, year)
	}
	return d, true, nil
}

// ParseTime reads a time phrase into a 24-hour clock reading.
//
// Accepted: "10am", "2:30 pm", "2 p.m.", "14h", "14h30", "14:30", "14.30",
// "noon", "midi", and a bare hour where 1-6 means afternoon, 7-11 morning
// and 12-23 is taken as written.
func ParseTime(timeText string) (hour, minute int, err error) {
	s := strings.ToLower(strings.TrimSpace(timeText))
	s = strings.ReplaceAll(s, "a.m.", "am")
	s = strings.ReplaceAll(s, "p.m.", "pm")
	s = strings.ReplaceAll(s, "a.m", "am")
	s = strings.ReplaceAll(s, "p.m", "pm")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ".", ":")

	switch s {
	case "noon", "midday", "midi", "12noon":
		return 12, 0, nil
	case "":
		return 0, 0, fmt.Errorf("%w: empty time", ErrParse)
	}

	if m := ampmRe.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, 0, fmt.Errorf("%w: time %q", ErrParse, timeText)
		}
		switch {
		case m[3] == "pm" && hour != 12:
			hour += 12
		case m[3] == "am" && hour == 12:
			hour = 0
		}
		return hour, minute, nil
	}

	m := hourHRe.FindStringSubmatch(s)
	if m == nil {
		m = clockRe.FindStringSubmatch(s)
	}
	if m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 23 || minute > 59 {
			return 0, 0, fmt.Errorf("%w: time %q", ErrParse, timeText)
		}
		return hour, minute, nil
	}

	if bareHourRe.MatchString(s) {
		hour, _ = strconv.Atoi(s)
		switch {
		case hour >= 1 && hour <= 6:
			return hour + 12, 0, nil
		case hour >= 7 && hour <= 23:
			return hour, 0, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: time %q", ErrParse, timeText)
}
