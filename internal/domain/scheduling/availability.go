package scheduling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("clinic.internal.domain.scheduling")

// Resolver computes bookable slots for a specialty on a date. Every call
// reads current store state; nothing is cached between calls.
type Resolver struct {
	specialties  SpecialtyRepository
	doctors      DoctorRepository
	schedules    ScheduleRepository
	appointments AppointmentRepository
	loc          *time.Location
	metrics      *Metrics
}

func NewResolver(specialties SpecialtyRepository, doctors DoctorRepository, schedules ScheduleRepository,
	appointments AppointmentRepository, loc *time.Location, metrics *Metrics) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		specialties:  specialties,
		doctors:      doctors,
		schedules:    schedules,
		appointments: appointments,
		loc:          loc,
		metrics:      metrics,
	}
}

// Location is the zone dates and schedule clocks are read in.
func (r *Resolver) Location() *time.Location { return r.loc }

// AvailableSlots returns the slots of every applicable rule on date, sorted by
// start. Rules are not deduplicated against each other.
func (r *Resolver) AvailableSlots(ctx context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time) (slots []Slot, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.specialty_id", specialtyID.String()),
		attribute.String("clinic.date", date.Format(dateLayout)),
	)
	defer func() {
		r.metrics.ObserveAvailability(err, len(slots))
		endSpan(span, err)
	}()

	date = DateOf(date)
	if err := r.checkSlotSpecialty(ctx, specialtyID); err != nil {
		return nil, err
	}
	if doctorID != nil {
		span.SetAttributes(attribute.String("clinic.doctor_id", doctorID.String()))
		if _, err := r.doctors.GetByID(ctx, *doctorID); err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return nil, newError(KindNotFound, "doctor %s not found", doctorID)
			}
			return nil, infraError("load doctor", err)
		}
	}

	rules, err := r.schedules.FindApplicable(ctx, specialtyID, doctorID, date, ISOWeekday(date))
	if err != nil {
		return nil, infraError("load schedule rules", err)
	}
	if len(rules) == 0 {
		return []Slot{}, nil
	}

	active, err := r.appointments.FindActive(ctx, specialtyID, doctorID, date)
	if err != nil {
		return nil, infraError("load active appointments", err)
	}

	slots = []Slot{}
	for _, rule := range rules {
		slots = append(slots, GenerateSlots(rule, date, r.loc, active)...)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
	span.SetAttributes(attribute.Int("clinic.slots", len(slots)))
	return slots, nil
}

func (r *Resolver) checkSlotSpecialty(ctx context.Context, id uuid.UUID) error {
	sp, err := r.specialties.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return newError(KindNotFound, "specialty %s not found", id)
		}
		return infraError("load specialty", err)
	}
	if sp.BookingMode != BookingModeSlot {
		return newError(KindInvalidBookingMode, "specialty %q uses %s booking", sp.Name, sp.BookingMode)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
}
