package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time in minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses a HH:MM time string (24-hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid time format %q: expected HH:MM", s)
	}

	hour, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}

	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour out of range in %q", s)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute out of range in %q", s)
	}

	return TimeOfDay(hour*60 + minute), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) AddMinutes(m int) TimeOfDay {
	return t + TimeOfDay(m)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date is a calendar date with no time or zone component.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t: t}, nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

func (d Date) Weekday() time.Weekday { return d.t.Weekday() }

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

func (d Date) String() string { return d.t.Format(dateLayout) }

// At returns the instant at which wall clock tod occurs on d in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	y, m, day := d.t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc).Add(time.Duration(tod) * time.Minute)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Interval is a half-open range [Start, End) of wall-clock minutes.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Overlaps reports whether the two ranges share any minute. Adjacent ranges
// (a.End == b.Start) and empty ranges never overlap.
func (a Interval) Overlaps(b Interval) bool {
	if a.Start >= a.End || b.Start >= b.End {
		return false
	}
	return a.Start < b.End && b.Start < a.End
}

// Within reports whether a lies entirely inside b.
func (a Interval) Within(b Interval) bool {
	return a.Start >= b.Start && a.End <= b.End
}

// Window is one active weekly availability range of a doctor.
type Window struct {
	DoctorID  uuid.UUID    `json:"doctor_id"`
	DayOfWeek time.Weekday `json:"day_of_week"`
	Start     TimeOfDay    `json:"start_time"`
	End       TimeOfDay    `json:"end_time"`
}

func (w Window) Interval() Interval { return Interval{Start: w.Start, End: w.End} }

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

var knownStatuses = map[Status]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, knownStatuses[st]
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// BlocksSlot reports whether an appointment in this status occupies its
// interval.
func (s Status) BlocksSlot() bool {
	return s != StatusCancelled
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "CONSULTATION"
	TypeFollowUp     AppointmentType = "FOLLOW_UP"
	TypeCheckup      AppointmentType = "CHECKUP"
	TypeEmergency    AppointmentType = "EMERGENCY"
	TypeProcedure    AppointmentType = "PROCEDURE"
)

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	FirstName       *string         `db:"first_name" json:"first_name,omitempty"`
	LastName        *string         `db:"last_name" json:"last_name,omitempty"`
	DoctorID        uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	BookedBy        uuid.UUID       `db:"booked_by" json:"booked_by"`
	Date            Date            `db:"appointment_date" json:"date"`
	Time            TimeOfDay       `db:"start_time" json:"time"`
	DurationMinutes int             `db:"duration_minutes" json:"duration_minutes"`
	Type            AppointmentType `db:"appointment_type" json:"type"`
	Status          Status          `db:"status" json:"status"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	Symptoms        *string         `db:"symptoms" json:"symptoms,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.Time, End: a.Time.AddMinutes(a.DurationMinutes)}
}

// BookingResult is the outcome of a successful booking.
type BookingResult struct {
	Appointment    *Appointment `json:"appointment"`
	PatientCreated bool         `json:"patient_created"`
}
