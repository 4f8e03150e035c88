package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Signals returned by repositories. The booking transaction maps the two
// constraint signals to PatientConflict and DoctorConflict.
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateName   = errors.New("name already exists")
	ErrPatientDayTaken = errors.New("patient already has an active appointment that day")
	ErrDoctorOverlap   = errors.New("doctor already has an overlapping active appointment")
)

type SpecialtyRepository interface {
	Create(ctx context.Context, s *Specialty) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error)
	List(ctx context.Context, limit, offset int) ([]*Specialty, int, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}

type ScheduleRepository interface {
	Create(ctx context.Context, r *ScheduleRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleRule, error)
	List(ctx context.Context, specialtyID *uuid.UUID, limit, offset int) ([]*ScheduleRule, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// FindApplicable returns the active rules matching the specialty, doctor
	// scope, date and weekday, in creation order, with that date's exception
	// attached. Closed rules are included; the generator skips them.
	FindApplicable(ctx context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time, weekday int) ([]*ScheduleRule, error)
	UpsertException(ctx context.Context, ex *ScheduleException) error
	DeleteException(ctx context.Context, scheduleID uuid.UUID, date time.Time) error
}

type AppointmentRepository interface {
	// Insert fails with ErrPatientDayTaken or ErrDoctorOverlap when the new
	// row would break either invariant.
	Insert(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindActive returns active appointments of the specialty on date,
	// restricted to doctorID when it is set.
	FindActive(ctx context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time) ([]*Appointment, error)
	HasActiveForPatient(ctx context.Context, dni string, date time.Time) (bool, error)
	HasDoctorOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)
	// UpdateStatus moves id from -> to only if it is still in from. It
	// returns false when the row was not in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
}
