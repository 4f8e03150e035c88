package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBooking(nil)
	m.ObserveAvailability(ErrNotFound, 0)
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	store := NewMemoryStore()
	f := newFixtureWith(t, store, store.Appointments())
	f.resolver = NewResolver(store.Specialties(), store.Doctors(), store.Schedules(), store.Appointments(), time.UTC, m)
	f.booker = NewBooker(f.resolver, store.Appointments(), zerolog.Nop(), m).
		WithClock(func() time.Time { return testNow })

	sp := f.specialty(t, "Cardiology", BookingModeSlot)
	f.weekly(t, sp.ID, nil, "09:00", "10:00", 30, 1)
	f.book(t, sp.ID, nil, "1", "09:00", "09:30")
	if _, err := f.booker.CreateAppointment(context.Background(), bookingRequest(t, sp.ID, nil, "1", "09:30", "10:00")); err == nil {
		t.Fatal("expected patient conflict")
	}

	if got := testutil.ToFloat64(m.bookingAttempts.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok bookings = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.bookingAttempts.WithLabelValues(string(KindPatientConflict))); got != 1 {
		t.Errorf("patient_conflict bookings = %v, want 1", got)
	}
	// Each booking attempt resolves availability once.
	if got := testutil.ToFloat64(m.availabilityQueries.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok availability queries = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.availabilitySlots); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}
