package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Catalog administers specialties, doctors, schedule rules and exceptions,
// and serves appointment reads.
type Catalog struct {
	specialties  SpecialtyRepository
	doctors      DoctorRepository
	schedules    ScheduleRepository
	appointments AppointmentRepository
}

func NewCatalog(specialties SpecialtyRepository, doctors DoctorRepository, schedules ScheduleRepository, appointments AppointmentRepository) *Catalog {
	return &Catalog{specialties: specialties, doctors: doctors, schedules: schedules, appointments: appointments}
}

func lookupError(what string, id uuid.UUID, err error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return newError(KindNotFound, "%s %s not found", what, id)
	}
	return infraError("load "+what, err)
}

// -- Specialty --

func (s *Catalog) CreateSpecialty(ctx context.Context, sp *Specialty) error {
	sp.Name = strings.TrimSpace(sp.Name)
	if sp.Name == "" {
		return newError(KindInvalidRequest, "name is required")
	}
	if !sp.BookingMode.Valid() {
		return newError(KindInvalidRequest, "booking_mode must be SLOT, REQUEST or WALKIN")
	}
	if err := s.specialties.Create(ctx, sp); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return newError(KindInvalidRequest, "specialty %q already exists", sp.Name)
		}
		return infraError("create specialty", err)
	}
	return nil
}

func (s *Catalog) GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	sp, err := s.specialties.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("specialty", id, err)
	}
	return sp, nil
}

func (s *Catalog) ListSpecialties(ctx context.Context, limit, offset int) ([]*Specialty, int, error) {
	items, total, err := s.specialties.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, infraError("list specialties", err)
	}
	return items, total, nil
}

// -- Doctor --

func (s *Catalog) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.FullName = strings.TrimSpace(d.FullName)
	if d.FullName == "" {
		return newError(KindInvalidRequest, "full_name is required")
	}
	if err := s.doctors.Create(ctx, d); err != nil {
		return infraError("create doctor", err)
	}
	return nil
}

func (s *Catalog) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("doctor", id, err)
	}
	return d, nil
}

func (s *Catalog) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	items, total, err := s.doctors.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, infraError("list doctors", err)
	}
	return items, total, nil
}

// -- Schedule --

func validateRule(r *ScheduleRule) error {
	switch {
	case r.SpecialtyID == uuid.Nil:
		return newError(KindInvalidRequest, "specialty_id is required")
	case r.Type != RuleWeekly && r.Type != RuleOneOff:
		return newError(KindInvalidRequest, "type must be WEEKLY or ONE_OFF")
	case r.SlotMinutes <= 0:
		return newError(KindInvalidRequest, "slot_minutes must be positive")
	case r.Capacity < 1:
		return newError(KindInvalidRequest, "capacity must be at least 1")
	case r.TimeStart < 0 || r.TimeEnd > 24*60 || r.TimeStart >= r.TimeEnd:
		return newError(KindInvalidRequest, "time_start must be before time_end")
	case r.DateStart.IsZero():
		return newError(KindInvalidRequest, "date_start is required")
	case r.DateEnd != nil && DateOf(*r.DateEnd).Before(DateOf(r.DateStart)):
		return newError(KindInvalidRequest, "date_end must not be before date_start")
	}
	if r.Type == RuleWeekly && (r.DaysMask < 1 || r.DaysMask > 127) {
		return newError(KindInvalidRequest, "days_mask must be between 1 and 127")
	}
	return nil
}

// CreateSchedule validates and stores a new active rule. ONE_OFF rules ignore
// days_mask and date_end.
func (s *Catalog) CreateSchedule(ctx context.Context, r *ScheduleRule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	if r.Type == RuleOneOff {
		r.DaysMask, r.DateEnd = 0, nil
	}
	r.DateStart = DateOf(r.DateStart)
	if r.DateEnd != nil {
		end := DateOf(*r.DateEnd)
		r.DateEnd = &end
	}
	if _, err := s.specialties.GetByID(ctx, r.SpecialtyID); err != nil {
		return lookupError("specialty", r.SpecialtyID, err)
	}
	if r.DoctorID != nil {
		if _, err := s.doctors.GetByID(ctx, *r.DoctorID); err != nil {
			return lookupError("doctor", *r.DoctorID, err)
		}
	}
	r.Active = true
	r.Exception = nil
	if err := s.schedules.Create(ctx, r); err != nil {
		return infraError("create schedule", err)
	}
	return nil
}

func (s *Catalog) GetSchedule(ctx context.Context, id uuid.UUID) (*ScheduleRule, error) {
	r, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("schedule", id, err)
	}
	return r, nil
}

func (s *Catalog) ListSchedules(ctx context.Context, specialtyID *uuid.UUID, limit, offset int) ([]*ScheduleRule, int, error) {
	items, total, err := s.schedules.List(ctx, specialtyID, limit, offset)
	if err != nil {
		return nil, 0, infraError("list schedules", err)
	}
	return items, total, nil
}

// DeactivateSchedule stops a rule from producing slots. Existing appointments
// are kept.
func (s *Catalog) DeactivateSchedule(ctx context.Context, id uuid.UUID) error {
	if err := s.schedules.SetActive(ctx, id, false); err != nil {
		return lookupError("schedule", id, err)
	}
	return nil
}

// PutException creates or replaces the override of a rule on one date. An
// open exception must replace both times.
func (s *Catalog) PutException(ctx context.Context, ex *ScheduleException) error {
	if ex.TheDate.IsZero() {
		return newError(KindInvalidRequest, "date is required")
	}
	if ex.IsClosed {
		ex.TimeStart, ex.TimeEnd = nil, nil
	} else {
		if ex.TimeStart == nil || ex.TimeEnd == nil {
			return newError(KindInvalidRequest, "ex_time_start and ex_time_end are required unless is_closed")
		}
		if *ex.TimeStart >= *ex.TimeEnd {
			return newError(KindInvalidRequest, "ex_time_start must be before ex_time_end")
		}
	}
	if err := s.schedules.UpsertException(ctx, ex); err != nil {
		return lookupError("schedule", ex.ScheduleID, err)
	}
	return nil
}

func (s *Catalog) DeleteException(ctx context.Context, scheduleID uuid.UUID, date time.Time) error {
	if err := s.schedules.DeleteException(ctx, scheduleID, date); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return newError(KindNotFound, "no exception for schedule %s on %s", scheduleID, DateOf(date).Format(dateLayout))
		}
		return infraError("delete exception", err)
	}
	return nil
}

// -- Appointment --

func (s *Catalog) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("appointment", id, err)
	}
	return a, nil
}

func (s *Catalog) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, newError(KindInvalidRequest, "unknown status %q", f.Status)
	}
	items, total, err := s.appointments.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, infraError("list appointments", err)
	}
	return items, total, nil
}
