package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingMode decides whether a specialty is served from generated slots.
type BookingMode string

const (
	BookingModeSlot    BookingMode = "SLOT"
	BookingModeRequest BookingMode = "REQUEST"
	BookingModeWalkIn  BookingMode = "WALKIN"
)

func (m BookingMode) Valid() bool {
	switch m {
	case BookingModeSlot, BookingModeRequest, BookingModeWalkIn:
		return true
	}
	return false
}

type Specialty struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	BookingMode BookingMode `db:"booking_mode" json:"booking_mode"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

type Doctor struct {
	ID            uuid.UUID `db:"id" json:"id"`
	FullName      string    `db:"full_name" json:"full_name"`
	LicenseNumber *string   `db:"license_number" json:"license_number,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type RuleType string

const (
	RuleWeekly RuleType = "WEEKLY"
	RuleOneOff RuleType = "ONE_OFF"
)

// Clock is a wall-clock time of day in minutes since midnight. It encodes as
// "HH:MM" in JSON.
type Clock int

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ScheduleRule is a WEEKLY or ONE_OFF availability definition. DaysMask has
// bit (d-1) set for ISO weekday d (1=Monday..7=Sunday). For ONE_OFF rules
// DateStart is the only applicable date. A nil DoctorID means any doctor of
// the specialty.
type ScheduleRule struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	SpecialtyID uuid.UUID  `db:"specialty_id" json:"specialty_id"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Type        RuleType   `db:"type" json:"type"`
	DaysMask    int        `db:"days_mask" json:"days_mask"`
	DateStart   time.Time  `db:"date_start" json:"date_start"`
	DateEnd     *time.Time `db:"date_end" json:"date_end,omitempty"`
	TimeStart   Clock      `db:"time_start" json:"time_start"`
	TimeEnd     Clock      `db:"time_end" json:"time_end"`
	SlotMinutes int        `db:"slot_minutes" json:"slot_minutes"`
	Capacity    int        `db:"capacity" json:"capacity"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`

	// Exception is the override for the date being resolved, if any. It is
	// filled by ScheduleRepository.FindApplicable only.
	Exception *ScheduleException `json:"exception,omitempty"`
}

// Applies reports whether the rule can produce slots on date for a request
// scoped to doctorID. Closure exceptions are not considered here.
func (r *ScheduleRule) Applies(specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time) bool {
	if !r.Active || r.SpecialtyID != specialtyID {
		return false
	}
	if r.DoctorID != nil && (doctorID == nil || *r.DoctorID != *doctorID) {
		return false
	}
	date = DateOf(date)
	switch r.Type {
	case RuleWeekly:
		if r.DaysMask&(1<<(ISOWeekday(date)-1)) == 0 {
			return false
		}
		if date.Before(DateOf(r.DateStart)) {
			return false
		}
		return r.DateEnd == nil || !date.After(DateOf(*r.DateEnd))
	case RuleOneOff:
		return DateOf(r.DateStart).Equal(date)
	}
	return false
}

// Window returns the effective [start, end) minutes for the resolved date.
func (r *ScheduleRule) Window() (start, end Clock) {
	start, end = r.TimeStart, r.TimeEnd
	if ex := r.Exception; ex != nil {
		if ex.TimeStart != nil {
			start = *ex.TimeStart
		}
		if ex.TimeEnd != nil {
			end = *ex.TimeEnd
		}
	}
	return start, end
}

// Closed reports whether the resolved date's exception cancels the rule.
func (r *ScheduleRule) Closed() bool {
	return r.Exception != nil && r.Exception.IsClosed
}

type ScheduleException struct {
	ScheduleID uuid.UUID `db:"schedule_id" json:"schedule_id"`
	TheDate    time.Time `db:"the_date" json:"the_date"`
	IsClosed   bool      `db:"is_closed" json:"is_closed"`
	TimeStart  *Clock    `db:"ex_time_start" json:"ex_time_start,omitempty"`
	TimeEnd    *Clock    `db:"ex_time_end" json:"ex_time_end,omitempty"`
}

type Status string

const (
	StatusBooked    Status = "booked"
	StatusConfirmed Status = "confirmed"
	StatusCheckedIn Status = "checked_in"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusBooked:    {StatusConfirmed, StatusCheckedIn, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn: {StatusCancelled},
}

// Active appointments occupy slot capacity.
func (s Status) Active() bool {
	return s == StatusBooked || s == StatusConfirmed || s == StatusCheckedIn
}

func (s Status) Valid() bool {
	return s.Active() || s == StatusCancelled
}

// CanTransition reports whether from -> to is allowed. Cancelled is terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Patient struct {
	Name string `json:"name"`
	DNI  string `json:"dni"`
	// Birthdate is YYYY-MM-DD.
	Birthdate *string `json:"birthdate,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	SpecialtyID uuid.UUID  `db:"specialty_id" json:"specialty_id"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Patient     Patient    `json:"patient"`
	Start       time.Time  `db:"start_dt" json:"start"`
	End         time.Time  `db:"end_dt" json:"end"`
	// ApptDate is the calendar date of Start in the clinic time zone.
	ApptDate    time.Time  `db:"appt_date" json:"appt_date"`
	Status      Status     `db:"status" json:"status"`
	CreatedBy   *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// Overlaps uses half-open intervals: touching ranges do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Slot is a derived bookable window.
type Slot struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Capacity   int        `json:"capacity"`
	Taken      int        `json:"taken"`
	Available  int        `json:"available"`
	DoctorID   *uuid.UUID `json:"doctor_id,omitempty"`
	ScheduleID uuid.UUID  `json:"schedule_id"`
}

// AvailableCount sums Available over slots.
func AvailableCount(slots []Slot) int {
	n := 0
	for _, s := range slots {
		n += s.Available
	}
	return n
}

type AppointmentFilter struct {
	SpecialtyID *uuid.UUID
	DoctorID    *uuid.UUID
	PatientDNI  string
	Date        *time.Time
	Status      Status
}

const dateLayout = "2006-01-02"

// DateOf truncates t to its calendar date, returned as midnight UTC. Date-only
// values are always carried in this form.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

// At returns the instant on calendar date d at clock c in loc.
func At(d time.Time, c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), int(c)/60, int(c)%60, 0, 0, loc)
}
