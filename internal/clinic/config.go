// Package clinic provides clinic-specific configuration: name, timezone,
// appointment length and weekly opening hours.
package clinic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayHours represents the opening hours for a single day.
// Nil means the clinic is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// Minutes returns the open and close times as minutes past midnight.
func (d *DayHours) Minutes() (opens, closes int, err error) {
	openTime, err := time.Parse("15:04", d.Open)
	if err != nil {
		return 0, 0, fmt.Errorf("clinic: invalid open time %q: %w", d.Open, err)
	}
	closeTime, err := time.Parse("15:04", d.Close)
	if err != nil {
		return 0, 0, fmt.Errorf("clinic: invalid close time %q: %w", d.Close, err)
	}
	opens = openTime.Hour()*60 + openTime.Minute()
	closes = closeTime.Hour()*60 + closeTime.Minute()
	if closes <= opens {
		return 0, 0, fmt.Errorf("clinic: close %s is not after open %s", d.Close, d.Open)
	}
	return opens, closes, nil
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// GetHoursForDay returns the hours for a given weekday (0=Sunday, 6=Saturday).
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// HasAnyHours returns true if at least one day has business hours configured.
func (b *BusinessHours) HasAnyHours() bool {
	return b.Sunday != nil || b.Monday != nil || b.Tuesday != nil ||
		b.Wednesday != nil || b.Thursday != nil || b.Friday != nil || b.Saturday != nil
}

// ParseBusinessHours decodes a JSON object keyed by lowercase day name.
// Days that are missing or null are closed.
func ParseBusinessHours(raw string) (BusinessHours, error) {
	var hours BusinessHours
	if err := json.Unmarshal([]byte(raw), &hours); err != nil {
		return BusinessHours{}, fmt.Errorf("clinic: decode business hours: %w", err)
	}
	if !hours.HasAnyHours() {
		return BusinessHours{}, fmt.Errorf("clinic: business hours define no open day")
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if h := hours.GetHoursForDay(d); h != nil {
			if _, _, err := h.Minutes(); err != nil {
				return BusinessHours{}, fmt.Errorf("clinic: %s: %w", strings.ToLower(d.String()), err)
			}
		}
	}
	return hours, nil
}

// DefaultBusinessHours is Monday to Friday 09:00-18:00, Saturday 09:00-14:00,
// closed on Sunday.
func DefaultBusinessHours() BusinessHours {
	weekday := func() *DayHours { return &DayHours{Open: "09:00", Close: "18:00"} }
	return BusinessHours{
		Monday:    weekday(),
		Tuesday:   weekday(),
		Wednesday: weekday(),
		Thursday:  weekday(),
		Friday:    weekday(),
		Saturday:  &DayHours{Open: "09:00", Close: "14:00"},
	}
}

// Config holds clinic-specific configuration.
type Config struct {
	Name                string        `json:"name"`
	Timezone            string        `json:"timezone"` // e.g., "Africa/Algiers"
	AppointmentDuration int           `json:"appointment_duration"`
	BusinessHours       BusinessHours `json:"business_hours"`

	loc *time.Location
}

// DefaultConfig returns the MediBook defaults.
func DefaultConfig() *Config {
	cfg, err := New("MediBook Clinic", "Africa/Algiers", 30, "")
	if err != nil {
		// tzdata missing; keep the clinic usable in UTC
		return &Config{
			Name:                "MediBook Clinic",
			Timezone:            "UTC",
			AppointmentDuration: 30,
			BusinessHours:       DefaultBusinessHours(),
			loc:                 time.UTC,
		}
	}
	return cfg
}

// New builds a clinic config. An empty hoursJSON selects the default week.
func New(name, timezone string, durationMinutes int, hoursJSON string) (*Config, error) {
	if strings.TrimSpace(name) == "" {
		name = "MediBook Clinic"
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("clinic: appointment duration must be positive, got %d", durationMinutes)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic: load timezone %q: %w", timezone, err)
	}
	hours := DefaultBusinessHours()
	if strings.TrimSpace(hoursJSON) != "" {
		hours, err = ParseBusinessHours(hoursJSON)
		if err != nil {
			return nil, err
		}
	}
	return &Config{
		Name:                name,
		Timezone:            timezone,
		AppointmentDuration: durationMinutes,
		BusinessHours:       hours,
		loc:                 loc,
	}, nil
}

// Location returns the clinic timezone.
func (c *Config) Location() *time.Location {
	if c.loc != nil {
		return c.loc
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration returns the default appointment length.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.AppointmentDuration) * time.Minute
}

// HoursOn returns the opening and closing instants for the calendar day of t
// in clinic time. ok is false when the clinic is closed that day.
func (c *Config) HoursOn(t time.Time) (opens, closes time.Time, ok bool) {
	loc := c.Location()
	local := t.In(loc)
	hours := c.BusinessHours.GetHoursForDay(local.Weekday())
	if hours == nil {
		return time.Time{}, time.Time{}, false
	}
	openMin, closeMin, err := hours.Minutes()
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(openMin) * time.Minute), midnight.Add(time.Duration(closeMin) * time.Minute), true
}

// IsOpenAt checks if the clinic is open at the given time.
func (c *Config) IsOpenAt(t time.Time) bool {
	local := t.In(c.Location())
	hours := c.BusinessHours.GetHoursForDay(local.Weekday())
	if hours == nil {
		return false
	}
	openMinutes, closeMinutes, err := hours.Minutes()
	if err != nil {
		return false
	}
	current := local.Hour()*60 + local.Minute()
	return current >= openMinutes && current < closeMinutes
}

// NextOpenDay returns the first day strictly after t (within a week) on which
// the clinic opens, at midnight clinic time.
func (c *Config) NextOpenDay(t time.Time) (time.Time, bool) {
	loc := c.Location()
	local := t.In(loc)
	for i := 1; i <= 7; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+i, 0, 0, 0, 0, loc)
		if c.BusinessHours.GetHoursForDay(day.Weekday()) != nil {
			return day, true
		}
	}
	return time.Time{}, false
}

// HoursSummary renders the week for prompts and help text, e.g.
// "Monday: 09:00-18:00, ..., Sunday: closed".
func (c *Config) HoursSummary() string {
	days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		h := c.BusinessHours.GetHoursForDay(d)
		if h == nil {
			parts = append(parts, d.String()+": closed")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s-%s", d, h.Open, h.Close))
	}
	return strings.Join(parts, ", ")
}
