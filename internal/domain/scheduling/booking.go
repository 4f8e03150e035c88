package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type BookingRequest struct {
	SpecialtyID uuid.UUID
	DoctorID    *uuid.UUID
	Patient     Patient
	Start       time.Time
	End         time.Time
	CreatedBy   *string
}

// Booker creates appointments and moves them through their status lifecycle.
//
// Availability, patient-day and doctor-overlap checks run first so callers get
// a specific reason, but they take no locks. The store's constraints on Insert
// decide concurrent attempts: exactly one wins and the loser gets the matching
// conflict.
type Booker struct {
	resolver     *Resolver
	appointments AppointmentRepository
	logger       zerolog.Logger
	metrics      *Metrics
	now          func() time.Time
}

func NewBooker(resolver *Resolver, appointments AppointmentRepository, logger zerolog.Logger, metrics *Metrics) *Booker {
	return &Booker{
		resolver:     resolver,
		appointments: appointments,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
	}
}

// WithClock replaces the clock used for the future-start check and
// cancellation timestamps.
func (b *Booker) WithClock(now func() time.Time) *Booker {
	b.now = now
	return b
}

func (b *Booker) validate(req *BookingRequest) error {
	req.Patient.Name = strings.TrimSpace(req.Patient.Name)
	req.Patient.DNI = strings.TrimSpace(req.Patient.DNI)
	switch {
	case req.SpecialtyID == uuid.Nil:
		return newError(KindInvalidRequest, "specialty_id is required")
	case req.Patient.Name == "":
		return newError(KindInvalidRequest, "patient name is required")
	case req.Patient.DNI == "":
		return newError(KindInvalidRequest, "patient dni is required")
	case req.Start.IsZero() || req.End.IsZero():
		return newError(KindInvalidRequest, "start and end are required")
	case !req.Start.Before(req.End):
		return newError(KindInvalidRequest, "start must be before end")
	case !req.Start.After(b.now()):
		return newError(KindInvalidRequest, "start must be in the future")
	}
	if req.Patient.Birthdate != nil {
		if _, err := ParseDate(*req.Patient.Birthdate); err != nil {
			return newError(KindInvalidRequest, "patient birthdate: %v", err)
		}
	}
	return nil
}

// CreateAppointment books req's exact window if a generated slot still has
// room, then inserts it as booked.
func (b *Booker) CreateAppointment(ctx context.Context, req BookingRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.create_appointment")
	defer span.End()

	log := b.logger.With().
		Str("specialty_id", req.SpecialtyID.String()).
		Time("start", req.Start).
		Logger()
	if req.DoctorID != nil {
		log = log.With().Str("doctor_id", req.DoctorID.String()).Logger()
		span.SetAttributes(attribute.String("clinic.doctor_id", req.DoctorID.String()))
	}
	span.SetAttributes(attribute.String("clinic.specialty_id", req.SpecialtyID.String()))

	defer func() {
		b.metrics.ObserveBooking(err)
		endSpan(span, err)
		switch kind := KindOf(err); {
		case err == nil:
			log.Info().Str("appointment_id", appt.ID.String()).Msg("appointment booked")
		case kind == KindInfrastructure:
			log.Error().Err(err).Msg("booking failed")
		default:
			log.Warn().Str("kind", string(kind)).Msg("booking rejected")
		}
	}()

	if err := b.validate(&req); err != nil {
		return nil, err
	}

	loc := b.resolver.Location()
	date := DateOf(req.Start.In(loc))

	slots, err := b.resolver.AvailableSlots(ctx, req.SpecialtyID, req.DoctorID, date)
	if err != nil {
		return nil, err
	}
	if !hasOpenSlot(slots, req) {
		return nil, newError(KindSlotNotAvailable, "no available slot for %s-%s",
			req.Start.In(loc).Format("2006-01-02 15:04"), req.End.In(loc).Format("15:04"))
	}

	taken, err := b.appointments.HasActiveForPatient(ctx, req.Patient.DNI, date)
	if err != nil {
		return nil, infraError("check patient appointments", err)
	}
	if taken {
		return nil, newError(KindPatientConflict, "patient already has an appointment that day")
	}

	if req.DoctorID != nil {
		overlap, err := b.appointments.HasDoctorOverlap(ctx, *req.DoctorID, req.Start, req.End)
		if err != nil {
			return nil, infraError("check doctor appointments", err)
		}
		if overlap {
			return nil, newError(KindDoctorConflict, "slot already taken")
		}
	}

	appt = &Appointment{
		ID:          uuid.New(),
		SpecialtyID: req.SpecialtyID,
		DoctorID:    req.DoctorID,
		Patient:     req.Patient,
		Start:       req.Start,
		End:         req.End,
		ApptDate:    date,
		Status:      StatusBooked,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   b.now(),
	}
	if err := b.appointments.Insert(ctx, appt); err != nil {
		return nil, mapInsertError(err)
	}
	return appt, nil
}

// hasOpenSlot requires an exact window match. With a doctor requested, only
// slots generated for that doctor qualify.
func hasOpenSlot(slots []Slot, req BookingRequest) bool {
	for _, s := range slots {
		if !s.Start.Equal(req.Start) || !s.End.Equal(req.End) || s.Available <= 0 {
			continue
		}
		if req.DoctorID == nil || (s.DoctorID != nil && *s.DoctorID == *req.DoctorID) {
			return true
		}
	}
	return false
}

func mapInsertError(err error) error {
	switch {
	case errors.Is(err, ErrPatientDayTaken):
		return &Error{Kind: KindPatientConflict, Reason: "patient already has an appointment that day", Err: err}
	case errors.Is(err, ErrDoctorOverlap):
		return &Error{Kind: KindDoctorConflict, Reason: "slot already taken", Err: err}
	}
	return infraError("insert appointment", err)
}

// UpdateStatus applies one lifecycle transition. The store update is
// conditional on the status read here, so a concurrent change surfaces as
// InvalidTransition rather than being overwritten.
func (b *Booker) UpdateStatus(ctx context.Context, id uuid.UUID, next Status) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id.String()), attribute.String("clinic.status", string(next)))

	appt, err := b.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			err = newError(KindNotFound, "appointment %s not found", id)
		} else {
			err = infraError("load appointment", err)
		}
		endSpan(span, err)
		return nil, err
	}

	if !CanTransition(appt.Status, next) {
		err := newError(KindInvalidTransition, "cannot move appointment from %s to %s", appt.Status, next)
		endSpan(span, err)
		return nil, err
	}

	at := b.now()
	ok, err := b.appointments.UpdateStatus(ctx, id, appt.Status, next, at)
	if err != nil {
		err = infraError("update appointment status", err)
		endSpan(span, err)
		return nil, err
	}
	if !ok {
		err := newError(KindInvalidTransition, "appointment %s changed concurrently", id)
		endSpan(span, err)
		return nil, err
	}

	b.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(appt.Status)).
		Str("to", string(next)).
		Msg("appointment status changed")

	appt.Status = next
	if next == StatusCancelled {
		appt.CancelledAt = &at
	}
	return appt, nil
}
