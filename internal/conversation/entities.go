package conversation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entities are the booking fields collected over a conversation. An empty
// string means the field has not been captured.
type Entities struct {
	PatientName   string `json:"patient_name,omitempty"`
	PatientPhone  string `json:"patient_phone,omitempty"`
	Date          string `json:"date,omitempty"`
	Time          string `json:"time,omitempty"`
	DoctorName    string `json:"doctor_name,omitempty"`
	Reason        string `json:"reason,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// placeholderValues are answers a model gives when it has nothing to report.
var placeholderValues = map[string]bool{
	"null": true, "none": true, "nil": true, "n/a": true, "na": true,
	"unknown": true, "not provided": true, "not specified": true, "undefined": true,
}

// isPlaceholder reports whether value carries no information for field.
func isPlaceholder(field, value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || placeholderValues[v] {
		return true
	}
	name := strings.ReplaceAll(field, "_", " ")
	return v == field || v == name || v == strings.TrimPrefix(name, "patient ")
}

func cleanField(field, value string) string {
	if isPlaceholder(field, value) {
		return ""
	}
	return strings.TrimSpace(value)
}

// Clean drops placeholder values.
func (e Entities) Clean() Entities {
	return Entities{
		PatientName:   cleanField("patient_name", e.PatientName),
		PatientPhone:  cleanField("patient_phone", e.PatientPhone),
		Date:          cleanField("date", e.Date),
		Time:          cleanField("time", e.Time),
		DoctorName:    cleanField("doctor_name", e.DoctorName),
		Reason:        cleanField("reason", e.Reason),
		AppointmentID: cleanField("appointment_id", e.AppointmentID),
	}
}

// Merge returns e with every real value from update applied on top.
func (e Entities) Merge(update Entities) Entities {
	u := update.Clean()
	pick := func(current, next string) string {
		if next != "" {
			return next
		}
		return current
	}
	return Entities{
		PatientName:   pick(e.PatientName, u.PatientName),
		PatientPhone:  pick(e.PatientPhone, u.PatientPhone),
		Date:          pick(e.Date, u.Date),
		Time:          pick(e.Time, u.Time),
		DoctorName:    pick(e.DoctorName, u.DoctorName),
		Reason:        pick(e.Reason, u.Reason),
		AppointmentID: pick(e.AppointmentID, u.AppointmentID),
	}
}

// IsEmpty reports whether no field is set.
func (e Entities) IsEmpty() bool {
	return e == Entities{}
}

// MissingForBooking lists the required booking fields not yet captured.
func (e Entities) MissingForBooking() []string {
	var missing []string
	if e.PatientName == "" {
		missing = append(missing, "patient_name")
	}
	if e.PatientPhone == "" {
		missing = append(missing, "patient_phone")
	}
	if e.Date == "" {
		missing = append(missing, "date")
	}
	if e.Time == "" {
		missing = append(missing, "time")
	}
	return missing
}

// HasRealChange reports whether an edit has something to apply.
func (e Entities) HasRealChange() bool {
	c := e.Clean()
	return c.Date != "" || c.Time != "" || c.DoctorName != "" || c.Reason != ""
}

// entitiesFromJSON decodes a model's JSON object. Non-string scalars such
// as a phone written as a number are converted to text and unknown keys are
// ignored.
func entitiesFromJSON(data []byte) (Entities, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entities{}, err
	}
	get := func(key string) string {
		switch v := raw[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool, nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	return Entities{
		PatientName:   get("patient_name"),
		PatientPhone:  get("patient_phone"),
		Date:          get("date"),
		Time:          get("time"),
		DoctorName:    get("doctor_name"),
		Reason:        get("reason"),
		AppointmentID: get("appointment_id"),
	}.Clean(), nil
}
