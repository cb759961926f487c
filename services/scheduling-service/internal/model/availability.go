package model

import "time"

// DateFormat is the wire and storage format for doctor-local calendar dates.
const DateFormat = "2006-01-02"

// WeeklyWindow is one recurring working interval on a weekday, expressed in
// minutes from local midnight in the doctor's timezone. A doctor may have any
// number of windows per weekday; overlapping windows are unioned before use.
type WeeklyWindow struct {
	DoctorID    string       `json:"doctor_id"`
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

type OverrideKind string

const (
	OverrideDayOff      OverrideKind = "day_off"
	OverrideCustomHours OverrideKind = "custom_hours"
)

// Override is a date-specific exception. It fully replaces the weekly template
// for its date; at most one override exists per (doctor, date). Past overrides
// are retained for audit.
type Override struct {
	DoctorID    string       `json:"doctor_id"`
	Date        string       `json:"date"` // DateFormat, doctor-local
	Kind        OverrideKind `json:"kind"`
	StartMinute int          `json:"start_minute"` // custom_hours only
	EndMinute   int          `json:"end_minute"`   // custom_hours only
}

// Doctor is the directory projection the engine reads; profile data lives
// elsewhere in the platform.
type Doctor struct {
	ID       string
	ClinicID string
	Timezone string
	Active   bool
}

// Service duration drives slot granularity for a booking request. PayAtClinic
// services skip the payment gate and book directly as scheduled.
type Service struct {
	ID              string
	ClinicID        string
	Name            string
	DurationMinutes int
	PayAtClinic     bool
}

// Location resolves the doctor's IANA timezone, falling back to UTC.
func (d Doctor) Location() *time.Location {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil || d.Timezone == "" {
		return time.UTC
	}
	return loc
}
