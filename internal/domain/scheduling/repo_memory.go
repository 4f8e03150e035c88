package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every repository in process memory behind one mutex.
// Insert checks the patient-day and doctor-overlap invariants under the same
// lock that writes the row, which stands in for the Postgres constraints.
type MemoryStore struct {
	mu           sync.RWMutex
	specialties  []*Specialty
	doctors      []*Doctor
	rules        []*ScheduleRule
	exceptions   map[exceptionKey]*ScheduleException
	appointments []*Appointment
}

type exceptionKey struct {
	scheduleID uuid.UUID
	date       time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{exceptions: make(map[exceptionKey]*ScheduleException)}
}

func (m *MemoryStore) Specialties() SpecialtyRepository { return memSpecialties{m} }
func (m *MemoryStore) Doctors() DoctorRepository { return memDoctors{m} }
func (m *MemoryStore) Schedules() ScheduleRepository { return memSchedules{m} }
func (m *MemoryStore) Appointments() AppointmentRepository { return memAppointments{m} }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

// -- Specialties --

type memSpecialties struct{ m *MemoryStore }

func (r memSpecialties) Create(_ context.Context, s *Specialty) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.specialties {
		if strings.EqualFold(existing.Name, s.Name) {
			return ErrDuplicateName
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	r.m.specialties = append(r.m.specialties, clone(s))
	return nil
}

func (r memSpecialties) GetByID(_ context.Context, id uuid.UUID) (*Specialty, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, s := range r.m.specialties {
		if s.ID == id {
			return clone(s), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r memSpecialties) List(_ context.Context, limit, offset int) ([]*Specialty, int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	sorted := append([]*Specialty(nil), r.m.specialties...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var out []*Specialty
	for _, s := range page(sorted, limit, offset) {
		out = append(out, clone(s))
	}
	return out, len(sorted), nil
}

// -- Doctors --

type memDoctors struct{ m *MemoryStore }

func (r memDoctors) Create(_ context.Context, d *Doctor) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	r.m.doctors = append(r.m.doctors, clone(d))
	return nil
}

func (r memDoctors) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, d := range r.m.doctors {
		if d.ID == id {
			return clone(d), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r memDoctors) List(_ context.Context, limit, offset int) ([]*Doctor, int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*Doctor
	for _, d := range page(r.m.doctors, limit, offset) {
		out = append(out, clone(d))
	}
	return out, len(r.m.doctors), nil
}

// -- Schedules --

type memSchedules struct{ m *MemoryStore }

func (r memSchedules) Create(_ context.Context, rule *ScheduleRule) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	rule.CreatedAt = time.Now()
	c := clone(rule)
	c.Exception = nil
	r.m.rules = append(r.m.rules, c)
	return nil
}

func (r memSchedules) GetByID(_ context.Context, id uuid.UUID) (*ScheduleRule, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, rule := range r.m.rules {
		if rule.ID == id {
			return clone(rule), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r memSchedules) List(_ context.Context, specialtyID *uuid.UUID, limit, offset int) ([]*ScheduleRule, int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var matched []*ScheduleRule
	for _, rule := range r.m.rules {
		if specialtyID == nil || rule.SpecialtyID == *specialtyID {
			matched = append(matched, rule)
		}
	}
	var out []*ScheduleRule
	for _, rule := range page(matched, limit, offset) {
		out = append(out, clone(rule))
	}
	return out, len(matched), nil
}

func (r memSchedules) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, rule := range r.m.rules {
		if rule.ID == id {
			rule.Active = active
			return nil
		}
	}
	return ErrRecordNotFound
}

func (r memSchedules) FindApplicable(_ context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time, _ int) ([]*ScheduleRule, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	date = DateOf(date)
	var out []*ScheduleRule
	for _, rule := range r.m.rules {
		if !rule.Applies(specialtyID, doctorID, date) {
			continue
		}
		c := clone(rule)
		if ex, ok := r.m.exceptions[exceptionKey{rule.ID, date}]; ok {
			c.Exception = clone(ex)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r memSchedules) UpsertException(_ context.Context, ex *ScheduleException) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	found := false
	for _, rule := range r.m.rules {
		if rule.ID == ex.ScheduleID {
			found = true
			break
		}
	}
	if !found {
		return ErrRecordNotFound
	}
	ex.TheDate = DateOf(ex.TheDate)
	r.m.exceptions[exceptionKey{ex.ScheduleID, ex.TheDate}] = clone(ex)
	return nil
}

func (r memSchedules) DeleteException(_ context.Context, scheduleID uuid.UUID, date time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := exceptionKey{scheduleID, DateOf(date)}
	if _, ok := r.m.exceptions[key]; !ok {
		return ErrRecordNotFound
	}
	delete(r.m.exceptions, key)
	return nil
}

// -- Appointments --

type memAppointments struct{ m *MemoryStore }

func (r memAppointments) Insert(_ context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a.ApptDate = DateOf(a.ApptDate)
	if a.Status.Active() {
		for _, other := range r.m.appointments {
			if !other.Status.Active() {
				continue
			}
			if other.Patient.DNI == a.Patient.DNI && other.ApptDate.Equal(a.ApptDate) {
				return ErrPatientDayTaken
			}
			if a.DoctorID != nil && other.DoctorID != nil && *other.DoctorID == *a.DoctorID &&
				Overlaps(other.Start, other.End, a.Start, a.End) {
				return ErrDoctorOverlap
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.m.appointments = append(r.m.appointments, clone(a))
	return nil
}

func (r memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, a := range r.m.appointments {
		if a.ID == id {
			return clone(a), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (r memAppointments) FindActive(_ context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time) ([]*Appointment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	date = DateOf(date)
	var out []*Appointment
	for _, a := range r.m.appointments {
		if !a.Status.Active() || a.SpecialtyID != specialtyID || !a.ApptDate.Equal(date) {
			continue
		}
		if doctorID != nil && (a.DoctorID == nil || *a.DoctorID != *doctorID) {
			continue
		}
		out = append(out, clone(a))
	}
	return out, nil
}

func (r memAppointments) HasActiveForPatient(_ context.Context, dni string, date time.Time) (bool, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	date = DateOf(date)
	for _, a := range r.m.appointments {
		if a.Status.Active() && a.Patient.DNI == dni && a.ApptDate.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (r memAppointments) HasDoctorOverlap(_ context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, a := range r.m.appointments {
		if a.Status.Active() && a.DoctorID != nil && *a.DoctorID == doctorID && Overlaps(a.Start, a.End, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r memAppointments) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.appointments {
		if a.ID != id {
			continue
		}
		if a.Status != from {
			return false, nil
		}
		a.Status = to
		if to == StatusCancelled {
			t := at
			a.CancelledAt = &t
		}
		return true, nil
	}
	return false, nil
}

func (r memAppointments) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var matched []*Appointment
	for _, a := range r.m.appointments {
		if f.SpecialtyID != nil && a.SpecialtyID != *f.SpecialtyID {
			continue
		}
		if f.DoctorID != nil && (a.DoctorID == nil || *a.DoctorID != *f.DoctorID) {
			continue
		}
		if f.PatientDNI != "" && a.Patient.DNI != f.PatientDNI {
			continue
		}
		if f.Date != nil && !a.ApptDate.Equal(DateOf(*f.Date)) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Start.Before(matched[j].Start) })
	var out []*Appointment
	for _, a := range page(matched, limit, offset) {
		out = append(out, clone(a))
	}
	return out, len(matched), nil
}
