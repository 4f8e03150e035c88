package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// testDay is a Monday.
	testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	testNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
)

type fixture struct {
	store    *MemoryStore
	resolver *Resolver
	booker   *Booker
	catalog  *Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	return newFixtureWith(t, store, store.Appointments())
}

// newFixtureWith lets tests wrap the appointment repository the booker
// writes through.
func newFixtureWith(t *testing.T, store *MemoryStore, appointments AppointmentRepository) *fixture {
	t.Helper()
	resolver := NewResolver(store.Specialties(), store.Doctors(), store.Schedules(), appointments, time.UTC, nil)
	booker := NewBooker(resolver, appointments, zerolog.Nop(), nil).
		WithClock(func() time.Time { return testNow })
	return &fixture{
		store:    store,
		resolver: resolver,
		booker:   booker,
		catalog:  NewCatalog(store.Specialties(), store.Doctors(), store.Schedules(), appointments),
	}
}

func (f *fixture) specialty(t *testing.T, name string, mode BookingMode) *Specialty {
	t.Helper()
	sp := &Specialty{Name: name, BookingMode: mode}
	if err := f.store.Specialties().Create(context.Background(), sp); err != nil {
		t.Fatalf("create specialty: %v", err)
	}
	return sp
}

func (f *fixture) doctor(t *testing.T, name string) *Doctor {
	t.Helper()
	d := &Doctor{FullName: name, Active: true}
	if err := f.store.Doctors().Create(context.Background(), d); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return d
}

// weekly adds an every-day WEEKLY rule starting a month before testDay.
func (f *fixture) weekly(t *testing.T, specialtyID uuid.UUID, doctorID *uuid.UUID, start, end string, minutes, capacity int) *ScheduleRule {
	t.Helper()
	r := &ScheduleRule{
		SpecialtyID: specialtyID,
		DoctorID:    doctorID,
		Type:        RuleWeekly,
		DaysMask:    127,
		DateStart:   testDay.AddDate(0, 0, -30),
		TimeStart:   mustClock(t, start),
		TimeEnd:     mustClock(t, end),
		SlotMinutes: minutes,
		Capacity:    capacity,
		Active:      true,
	}
	if err := f.store.Schedules().Create(context.Background(), r); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func (f *fixture) book(t *testing.T, specialtyID uuid.UUID, doctorID *uuid.UUID, dni, start, end string) *Appointment {
	t.Helper()
	appt, err := f.booker.CreateAppointment(context.Background(), bookingRequest(t, specialtyID, doctorID, dni, start, end))
	if err != nil {
		t.Fatalf("book %s-%s: %v", start, end, err)
	}
	return appt
}

func bookingRequest(t *testing.T, specialtyID uuid.UUID, doctorID *uuid.UUID, dni, start, end string) BookingRequest {
	t.Helper()
	return BookingRequest{
		SpecialtyID: specialtyID,
		DoctorID:    doctorID,
		Patient:     Patient{Name: "Patient " + dni, DNI: dni},
		Start:       at(t, testDay, start),
		End:         at(t, testDay, end),
	}
}

func mustClock(t *testing.T, s string) Clock {
	t.Helper()
	c, err := ParseClock(s)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func at(t *testing.T, day time.Time, hhmm string) time.Time {
	t.Helper()
	return At(day, mustClock(t, hhmm), time.UTC)
}

func ptr[T any](v T) *T { return &v }
