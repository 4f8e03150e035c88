package scheduling

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidBookingMode Kind = "invalid_booking_mode"
	KindSlotNotAvailable   Kind = "slot_not_available"
	KindPatientConflict    Kind = "patient_conflict"
	KindDoctorConflict     Kind = "doctor_conflict"
	KindInfrastructure     Kind = "infrastructure_failure"
	KindInvalidRequest     Kind = "invalid_request"
	KindInvalidTransition  Kind = "invalid_transition"
)

// Error carries a machine-readable Kind and a human-readable Reason.
// errors.Is matches any two Errors of the same Kind, so callers compare
// against the package sentinels.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidBookingMode = &Error{Kind: KindInvalidBookingMode}
	ErrSlotNotAvailable   = &Error{Kind: KindSlotNotAvailable}
	ErrPatientConflict    = &Error{Kind: KindPatientConflict}
	ErrDoctorConflict     = &Error{Kind: KindDoctorConflict}
	ErrInfrastructure     = &Error{Kind: KindInfrastructure}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// infraError wraps a store failure. Errors already classified pass through.
func infraError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInfrastructure, Reason: op, Err: err}
}

// KindOf returns the Kind of err, or KindInfrastructure for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}
