package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newRule(t *testing.T, start, end string, minutes, capacity int) *ScheduleRule {
	t.Helper()
	return &ScheduleRule{
		ID:          uuid.New(),
		SpecialtyID: uuid.New(),
		Type:        RuleWeekly,
		DaysMask:    127,
		DateStart:   testDay,
		TimeStart:   mustClock(t, start),
		TimeEnd:     mustClock(t, end),
		SlotMinutes: minutes,
		Capacity:    capacity,
		Active:      true,
	}
}

func activeAt(t *testing.T, doctorID *uuid.UUID, start, end string) *Appointment {
	t.Helper()
	return &Appointment{
		ID:       uuid.New(),
		DoctorID: doctorID,
		Start:    at(t, testDay, start),
		End:      at(t, testDay, end),
		ApptDate: testDay,
		Status:   StatusBooked,
	}
}

func TestGenerateSlots_MorningWindow(t *testing.T) {
	rule := newRule(t, "09:00", "12:00", 30, 2)
	slots := GenerateSlots(rule, testDay, time.UTC, nil)
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}
	for i, s := range slots {
		wantStart := at(t, testDay, "09:00").Add(time.Duration(i*30) * time.Minute)
		if !s.Start.Equal(wantStart) {
			t.Errorf("slot %d: start %s, want %s", i, s.Start, wantStart)
		}
		if s.End.Sub(s.Start) != 30*time.Minute {
			t.Errorf("slot %d: length %s", i, s.End.Sub(s.Start))
		}
		if s.Capacity != 2 || s.Taken != 0 || s.Available != 2 {
			t.Errorf("slot %d: capacity/taken/available = %d/%d/%d", i, s.Capacity, s.Taken, s.Available)
		}
		if s.ScheduleID != rule.ID {
			t.Errorf("slot %d: schedule id %s, want %s", i, s.ScheduleID, rule.ID)
		}
	}
}

func TestGenerateSlots_LastStepOvershootsWindow(t *testing.T) {
	rule := newRule(t, "09:00", "10:00", 25, 1)
	slots := GenerateSlots(rule, testDay, time.UTC, nil)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	last := slots[2]
	if !last.Start.Equal(at(t, testDay, "09:50")) || !last.End.Equal(at(t, testDay, "10:15")) {
		t.Errorf("last slot %s-%s, want 09:50-10:15", last.Start, last.End)
	}
}

func TestGenerateSlots_CapacityAccounting(t *testing.T) {
	rule := newRule(t, "09:00", "12:00", 30, 2)
	active := []*Appointment{activeAt(t, nil, "10:00", "10:30")}

	slots := GenerateSlots(rule, testDay, time.UTC, active)
	for i, s := range slots {
		wantTaken := 0
		if i == 2 {
			wantTaken = 1
		}
		if s.Taken != wantTaken || s.Available != 2-wantTaken {
			t.Errorf("slot %d: taken/available = %d/%d, want %d/%d", i, s.Taken, s.Available, wantTaken, 2-wantTaken)
		}
	}
}

func TestGenerateSlots_OverlapBoundary(t *testing.T) {
	rule := newRule(t, "09:00", "09:30", 30, 1)

	touching := GenerateSlots(rule, testDay, time.UTC, []*Appointment{activeAt(t, nil, "09:30", "10:00")})
	if touching[0].Taken != 0 {
		t.Errorf("touching appointment counted: taken=%d", touching[0].Taken)
	}

	overlapping := GenerateSlots(rule, testDay, time.UTC, []*Appointment{activeAt(t, nil, "09:15", "09:45")})
	if overlapping[0].Taken != 1 || overlapping[0].Available != 0 {
		t.Errorf("overlapping appointment: taken/available = %d/%d", overlapping[0].Taken, overlapping[0].Available)
	}
}

func TestGenerateSlots_AvailableNeverNegative(t *testing.T) {
	rule := newRule(t, "09:00", "09:30", 30, 1)
	active := []*Appointment{
		activeAt(t, nil, "09:00", "09:30"),
		activeAt(t, nil, "09:10", "09:20"),
	}
	slots := GenerateSlots(rule, testDay, time.UTC, active)
	if slots[0].Taken != 2 || slots[0].Available != 0 {
		t.Errorf("taken/available = %d/%d, want 2/0", slots[0].Taken, slots[0].Available)
	}
}

func TestGenerateSlots_DoctorRuleCountsOnlyItsDoctor(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()
	active := []*Appointment{
		activeAt(t, &docB, "09:00", "09:30"),
		activeAt(t, nil, "09:00", "09:30"),
	}

	rule := newRule(t, "09:00", "09:30", 30, 3)
	rule.DoctorID = &docA
	if got := GenerateSlots(rule, testDay, time.UTC, active)[0]; got.Taken != 0 {
		t.Errorf("doctor rule counted other appointments: taken=%d", got.Taken)
	}
	if got := GenerateSlots(rule, testDay, time.UTC, active)[0]; got.DoctorID == nil || *got.DoctorID != docA {
		t.Errorf("slot doctor = %v, want %s", got.DoctorID, docA)
	}

	wide := newRule(t, "09:00", "09:30", 30, 3)
	if got := GenerateSlots(wide, testDay, time.UTC, active)[0]; got.Taken != 2 {
		t.Errorf("specialty-wide rule taken=%d, want 2", got.Taken)
	}
}

func TestGenerateSlots_ClosedException(t *testing.T) {
	rule := newRule(t, "09:00", "12:00", 30, 2)
	rule.Exception = &ScheduleException{ScheduleID: rule.ID, TheDate: testDay, IsClosed: true}
	if slots := GenerateSlots(rule, testDay, time.UTC, nil); len(slots) != 0 {
		t.Errorf("expected no slots on closed date, got %d", len(slots))
	}
}

func TestGenerateSlots_ExceptionOverridesWindow(t *testing.T) {
	rule := newRule(t, "09:00", "12:00", 30, 2)
	rule.Exception = &ScheduleException{
		ScheduleID: rule.ID,
		TheDate:    testDay,
		TimeStart:  ptr(mustClock(t, "10:00")),
		TimeEnd:    ptr(mustClock(t, "11:00")),
	}
	slots := GenerateSlots(rule, testDay, time.UTC, nil)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(t, testDay, "10:00")) {
		t.Errorf("first slot starts %s, want 10:00", slots[0].Start)
	}
}

func TestGenerateSlots_PartialOverride(t *testing.T) {
	rule := newRule(t, "09:00", "12:00", 60, 1)
	rule.Exception = &ScheduleException{ScheduleID: rule.ID, TheDate: testDay, TimeEnd: ptr(mustClock(t, "10:00"))}
	slots := GenerateSlots(rule, testDay, time.UTC, nil)
	if len(slots) != 1 || !slots[0].Start.Equal(at(t, testDay, "09:00")) {
		t.Errorf("expected single 09:00 slot, got %+v", slots)
	}
}

func TestGenerateSlots_NonPositiveStep(t *testing.T) {
	rule := newRule(t, "09:00", "12:00", 0, 2)
	if slots := GenerateSlots(rule, testDay, time.UTC, nil); slots != nil {
		t.Errorf("expected nil for zero slot length, got %d slots", len(slots))
	}
}

func TestGenerateSlots_ClinicTimeZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	rule := newRule(t, "09:00", "10:00", 30, 1)
	slots := GenerateSlots(rule, testDay, loc, nil)
	want := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	if !slots[0].Start.Equal(want) {
		t.Errorf("start %s, want %s", slots[0].Start, want)
	}
	if slots[0].Start.UTC().Hour() != 12 {
		t.Errorf("expected 12:00 UTC, got %s", slots[0].Start.UTC())
	}
}
