package scheduling

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := newError(KindDoctorConflict, "slot already taken")
	if !errors.Is(err, ErrDoctorConflict) {
		t.Error("expected match on kind")
	}
	if errors.Is(err, ErrPatientConflict) {
		t.Error("matched a different kind")
	}
	wrapped := fmt.Errorf("booking: %w", err)
	if !errors.Is(wrapped, ErrDoctorConflict) || KindOf(wrapped) != KindDoctorConflict {
		t.Error("kind lost through wrapping")
	}
}

func TestInfraError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := infraError("load specialty", cause)
	if !errors.Is(err, ErrInfrastructure) || !errors.Is(err, cause) {
		t.Fatalf("expected infrastructure error wrapping cause, got %v", err)
	}
	if err.Error() != "infrastructure_failure: load specialty: dial tcp: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}

	classified := newError(KindNotFound, "doctor not found")
	if got := infraError("load doctor", classified); got != error(classified) {
		t.Errorf("classified error was rewrapped: %v", got)
	}
	if KindOf(cause) != KindInfrastructure {
		t.Errorf("unclassified errors should report infrastructure, got %s", KindOf(cause))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusBooked, StatusConfirmed, true},
		{StatusBooked, StatusCheckedIn, true},
		{StatusBooked, StatusCancelled, true},
		{StatusConfirmed, StatusCheckedIn, true},
		{StatusConfirmed, StatusBooked, false},
		{StatusCheckedIn, StatusCancelled, true},
		{StatusCheckedIn, StatusConfirmed, false},
		{StatusCancelled, StatusBooked, false},
		{StatusCancelled, StatusCancelled, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil || c != 570 || c.String() != "09:30" {
		t.Fatalf("ParseClock(09:30) = %d %v", c, err)
	}
	if _, err := ParseClock("9.30"); err == nil {
		t.Error("expected error for malformed clock")
	}
	var decoded Clock
	if err := decoded.UnmarshalJSON([]byte(`"14:05"`)); err != nil || decoded != 845 {
		t.Errorf("UnmarshalJSON = %d %v", decoded, err)
	}
}

func TestISOWeekday(t *testing.T) {
	if got := ISOWeekday(testDay); got != 1 {
		t.Errorf("Monday = %d", got)
	}
	if got := ISOWeekday(testDay.AddDate(0, 0, 6)); got != 7 {
		t.Errorf("Sunday = %d", got)
	}
}
