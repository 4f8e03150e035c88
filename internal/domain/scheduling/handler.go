package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/idempotency"
	"github.com/clinic/clinic/pkg/pagination"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyStore is satisfied by *idempotency.Store.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, fingerprint string) (*idempotency.Record, error)
	Complete(ctx context.Context, key string, rec idempotency.Record) error
	Release(ctx context.Context, key string) error
}

type Handler struct {
	catalog  *Catalog
	resolver *Resolver
	booker   *Booker
	idem     IdempotencyStore
	logger   zerolog.Logger
}

func NewHandler(catalog *Catalog, resolver *Resolver, booker *Booker, logger zerolog.Logger) *Handler {
	return &Handler{catalog: catalog, resolver: resolver, booker: booker, logger: logger}
}

// WithIdempotency enables Idempotency-Key handling on POST /appointments.
func (h *Handler) WithIdempotency(store IdempotencyStore) *Handler {
	h.idem = store
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Any authenticated role. Patients are limited to their own appointments.
	anyRole := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor, auth.RolePatient))
	anyRole.GET("/availability", h.GetAvailability)
	anyRole.GET("/specialties", h.ListSpecialties)
	anyRole.GET("/specialties/:id", h.GetSpecialty)
	anyRole.GET("/doctors", h.ListDoctors)
	anyRole.GET("/doctors/:id", h.GetDoctor)
	anyRole.POST("/appointments", h.CreateAppointment)
	anyRole.GET("/appointments", h.ListAppointments)
	anyRole.GET("/appointments/:id", h.GetAppointment)
	anyRole.POST("/appointments/:id/cancel", h.CancelAppointment)

	// Front desk and doctors
	clinical := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	clinical.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	clinical.POST("/appointments/:id/check-in", h.CheckInAppointment)
	clinical.GET("/schedules", h.ListSchedules)
	clinical.GET("/schedules/:id", h.GetSchedule)

	// Catalog administration
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/specialties", h.CreateSpecialty)
	admin.POST("/doctors", h.CreateDoctor)
	admin.POST("/schedules", h.CreateSchedule)
	admin.POST("/schedules/:id/deactivate", h.DeactivateSchedule)
	admin.PUT("/schedules/:id/exceptions/:date", h.PutException)
	admin.DELETE("/schedules/:id/exceptions/:date", h.DeleteException)
}

// -- Errors --

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var kindStatus = map[Kind]int{
	KindNotFound:           http.StatusNotFound,
	KindInvalidRequest:     http.StatusBadRequest,
	KindInvalidBookingMode: http.StatusUnprocessableEntity,
	KindSlotNotAvailable:   http.StatusConflict,
	KindPatientConflict:    http.StatusConflict,
	KindDoctorConflict:     http.StatusConflict,
	KindInvalidTransition:  http.StatusConflict,
	KindInfrastructure:     http.StatusServiceUnavailable,
}

// StatusOf maps a scheduling error to its HTTP status.
func StatusOf(err error) int {
	if code, ok := kindStatus[KindOf(err)]; ok {
		return code
	}
	return http.StatusServiceUnavailable
}

// fail converts err into an echo.HTTPError with a {"kind","message"} body.
// Infrastructure details stay in the log, not the response.
func (h *Handler) fail(err error) error {
	kind := KindOf(err)
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		msg = e.Reason
	}
	if kind == KindInfrastructure {
		msg = "storage temporarily unavailable"
	}
	he := echo.NewHTTPError(StatusOf(err), errorBody{Kind: string(kind), Message: msg})
	return he.SetInternal(err)
}

func badRequest(format string, args ...any) error {
	e := newError(KindInvalidRequest, format, args...)
	return echo.NewHTTPError(http.StatusBadRequest, errorBody{Kind: string(e.Kind), Message: e.Reason})
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid %s", name)
	}
	return id, nil
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, badRequest("invalid %s", name)
	}
	return &id, nil
}

// patientScope returns the caller's DNI when the caller may only see their own
// appointments.
func patientScope(ctx context.Context) (string, bool) {
	if auth.HasRole(ctx, auth.RoleStaff, auth.RoleDoctor) {
		return "", false
	}
	return auth.PatientDNIFromContext(ctx), true
}

func createdBy(ctx context.Context) *string {
	if id := auth.UserIDFromContext(ctx); id != "" {
		return &id
	}
	return nil
}

// -- Availability --

type availabilityResponse struct {
	Date           string `json:"date"`
	Slots          []Slot `json:"slots"`
	AvailableCount int    `json:"available_count"`
}

func (h *Handler) GetAvailability(c echo.Context) error {
	specialtyID, err := uuid.Parse(c.QueryParam("specialty_id"))
	if err != nil {
		return badRequest("specialty_id is required")
	}
	doctorID, err := optionalUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return badRequest("%v", err)
	}

	slots, err := h.resolver.AvailableSlots(c.Request().Context(), specialtyID, doctorID, date)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{
		Date:           date.Format(dateLayout),
		Slots:          slots,
		AvailableCount: AvailableCount(slots),
	})
}

// -- Appointments --

type createAppointmentRequest struct {
	SpecialtyID uuid.UUID  `json:"specialty_id"`
	DoctorID    *uuid.UUID `json:"doctor_id"`
	Patient     Patient    `json:"patient"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	ctx := c.Request().Context()
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest("read body: %v", err)
	}
	var req createAppointmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest("invalid body: %v", err)
	}
	if dni, scoped := patientScope(ctx); scoped && (dni == "" || dni != req.Patient.DNI) {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
	}

	key := c.Request().Header.Get(IdempotencyKeyHeader)
	var fingerprint string
	if key != "" && h.idem != nil {
		fingerprint = idempotency.Fingerprint(body)
		rec, err := h.idem.Reserve(ctx, key, fingerprint)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			return echo.NewHTTPError(http.StatusConflict, errorBody{Kind: "request_in_progress", Message: "a request with this Idempotency-Key is in progress"})
		case errors.Is(err, idempotency.ErrKeyReused):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, errorBody{Kind: "idempotency_key_reused", Message: "Idempotency-Key was used with a different request"})
		case err != nil:
			return h.fail(infraError("reserve idempotency key", err))
		case rec != nil:
			return c.JSONBlob(http.StatusOK, rec.Body)
		}
	} else {
		key = ""
	}

	appt, err := h.booker.CreateAppointment(ctx, BookingRequest{
		SpecialtyID: req.SpecialtyID,
		DoctorID:    req.DoctorID,
		Patient:     req.Patient,
		Start:       req.Start,
		End:         req.End,
		CreatedBy:   createdBy(ctx),
	})
	if err != nil {
		if key != "" {
			if rerr := h.idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
				h.logger.Warn().Err(rerr).Msg("release idempotency key")
			}
		}
		return h.fail(err)
	}

	if key != "" {
		out, err := json.Marshal(appt)
		if err == nil {
			err = h.idem.Complete(context.WithoutCancel(ctx), key, idempotency.Record{
				Fingerprint: fingerprint,
				Status:      http.StatusCreated,
				Body:        out,
			})
		}
		if err != nil {
			h.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("store idempotency record")
		}
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	appt, err := h.catalog.GetAppointment(ctx, id)
	if err != nil {
		return h.fail(err)
	}
	if dni, scoped := patientScope(ctx); scoped && appt.Patient.DNI != dni {
		return h.fail(newError(KindNotFound, "appointment %s not found", id))
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	var err error
	if f.SpecialtyID, err = optionalUUID(c, "specialty_id"); err != nil {
		return err
	}
	if f.DoctorID, err = optionalUUID(c, "doctor_id"); err != nil {
		return err
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return badRequest("%v", err)
		}
		f.Date = &d
	}
	f.Status = Status(c.QueryParam("status"))
	f.PatientDNI = c.QueryParam("dni")

	ctx := c.Request().Context()
	if dni, scoped := patientScope(ctx); scoped {
		if dni == "" {
			return echo.NewHTTPError(http.StatusForbidden, "no patient identity on token")
		}
		f.PatientDNI = dni
	}

	pg := pagination.FromContext(c)
	items, total, err := h.catalog.ListAppointments(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) transition(c echo.Context, next Status) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.booker.UpdateStatus(c.Request().Context(), id, next)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.transition(c, StatusConfirmed)
}

func (h *Handler) CheckInAppointment(c echo.Context) error {
	return h.transition(c, StatusCheckedIn)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	ctx := c.Request().Context()
	if dni, scoped := patientScope(ctx); scoped {
		id, err := parseID(c, "id")
		if err != nil {
			return err
		}
		appt, err := h.catalog.GetAppointment(ctx, id)
		if err != nil {
			return h.fail(err)
		}
		if appt.Patient.DNI != dni {
			return h.fail(newError(KindNotFound, "appointment %s not found", id))
		}
	}
	return h.transition(c, StatusCancelled)
}

// -- Specialties --

type specialtyRequest struct {
	Name        string      `json:"name"`
	BookingMode BookingMode `json:"booking_mode"`
}

func (h *Handler) CreateSpecialty(c echo.Context) error {
	var req specialtyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	sp := Specialty{Name: req.Name, BookingMode: req.BookingMode}
	if err := h.catalog.CreateSpecialty(c.Request().Context(), &sp); err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, sp)
}

func (h *Handler) GetSpecialty(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sp, err := h.catalog.GetSpecialty(c.Request().Context(), id)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, sp)
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.catalog.ListSpecialties(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Doctors --

type doctorRequest struct {
	FullName      string  `json:"full_name"`
	LicenseNumber *string `json:"license_number"`
	Active        *bool   `json:"active"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req doctorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	d := &Doctor{FullName: req.FullName, LicenseNumber: req.LicenseNumber, Active: true}
	if req.Active != nil {
		d.Active = *req.Active
	}
	if err := h.catalog.CreateDoctor(c.Request().Context(), d); err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.catalog.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.catalog.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Schedules --

type scheduleRequest struct {
	SpecialtyID uuid.UUID  `json:"specialty_id"`
	DoctorID    *uuid.UUID `json:"doctor_id"`
	Type        RuleType   `json:"type"`
	DaysMask    int        `json:"days_mask"`
	DateStart   string     `json:"date_start"`
	DateEnd     *string    `json:"date_end"`
	TimeStart   Clock      `json:"time_start"`
	TimeEnd     Clock      `json:"time_end"`
	SlotMinutes int        `json:"slot_minutes"`
	Capacity    int        `json:"capacity"`
}

func (req scheduleRequest) rule() (*ScheduleRule, error) {
	start, err := ParseDate(req.DateStart)
	if err != nil {
		return nil, badRequest("date_start: %v", err)
	}
	r := &ScheduleRule{
		SpecialtyID: req.SpecialtyID,
		DoctorID:    req.DoctorID,
		Type:        req.Type,
		DaysMask:    req.DaysMask,
		DateStart:   start,
		TimeStart:   req.TimeStart,
		TimeEnd:     req.TimeEnd,
		SlotMinutes: req.SlotMinutes,
		Capacity:    req.Capacity,
	}
	if req.DateEnd != nil && *req.DateEnd != "" {
		end, err := ParseDate(*req.DateEnd)
		if err != nil {
			return nil, badRequest("date_end: %v", err)
		}
		r.DateEnd = &end
	}
	return r, nil
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	rule, err := req.rule()
	if err != nil {
		return err
	}
	if err := h.catalog.CreateSchedule(c.Request().Context(), rule); err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rule, err := h.catalog.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	specialtyID, err := optionalUUID(c, "specialty_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.catalog.ListSchedules(c.Request().Context(), specialtyID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) DeactivateSchedule(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.catalog.DeactivateSchedule(c.Request().Context(), id); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type exceptionRequest struct {
	IsClosed  bool   `json:"is_closed"`
	TimeStart *Clock `json:"ex_time_start"`
	TimeEnd   *Clock `json:"ex_time_end"`
}

func (h *Handler) PutException(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return badRequest("%v", err)
	}
	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid body")
	}
	ex := &ScheduleException{
		ScheduleID: id,
		TheDate:    date,
		IsClosed:   req.IsClosed,
		TimeStart:  req.TimeStart,
		TimeEnd:    req.TimeEnd,
	}
	if err := h.catalog.PutException(c.Request().Context(), ex); err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, ex)
}

func (h *Handler) DeleteException(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return badRequest("%v", err)
	}
	if err := h.catalog.DeleteException(c.Request().Context(), id, date); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}
