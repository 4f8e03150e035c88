package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/db"
)

// Constraint names from migrations/001_core.sql.
const (
	constraintSpecialtyName = "specialty_name_uq"
	constraintPatientDay    = "appointment_patient_day_uq"
	constraintDoctorOverlap = "appointment_doctor_overlap_excl"
)

var pgDialect = goqu.Dialect("postgres")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

// =========== Specialty Repository ===========

type specialtyRepoPG struct{ q db.Querier }

func NewSpecialtyRepoPG(q db.Querier) SpecialtyRepository { return &specialtyRepoPG{q: q} }

const specialtyCols = `id, name, booking_mode, created_at`

func scanSpecialty(row pgx.Row) (*Specialty, error) {
	var s Specialty
	var mode string
	if err := row.Scan(&s.ID, &s.Name, &mode, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.BookingMode = BookingMode(mode)
	return &s, nil
}

func (r *specialtyRepoPG) Create(ctx context.Context, s *Specialty) error {
	s.ID = uuid.New()
	err := r.q.QueryRow(ctx, `
		INSERT INTO specialty (id, name, booking_mode)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		s.ID, s.Name, string(s.BookingMode)).Scan(&s.CreatedAt)
	if name, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok && name == constraintSpecialtyName {
		return ErrDuplicateName
	}
	return err
}

func (r *specialtyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	s, err := scanSpecialty(r.q.QueryRow(ctx, `SELECT `+specialtyCols+` FROM specialty WHERE id = $1`, id))
	return s, notFound(err)
}

func (r *specialtyRepoPG) List(ctx context.Context, limit, offset int) ([]*Specialty, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM specialty`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, `SELECT `+specialtyCols+` FROM specialty ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Specialty
	for rows.Next() {
		s, err := scanSpecialty(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ q db.Querier }

func NewDoctorRepoPG(q db.Querier) DoctorRepository { return &doctorRepoPG{q: q} }

const doctorCols = `id, full_name, license_number, active, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.FullName, &d.LicenseNumber, &d.Active, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return r.q.QueryRow(ctx, `
		INSERT INTO doctor (id, full_name, license_number, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		d.ID, d.FullName, d.LicenseNumber, d.Active).Scan(&d.CreatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.q.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
	return d, notFound(err)
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM doctor`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, `SELECT `+doctorCols+` FROM doctor ORDER BY full_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ q db.Querier }

func NewScheduleRepoPG(q db.Querier) ScheduleRepository { return &scheduleRepoPG{q: q} }

// TIME columns are read and written as minutes since midnight.
const ruleCols = `s.id, s.specialty_id, s.doctor_id, s.type, s.days_mask, s.date_start, s.date_end,
	(EXTRACT(EPOCH FROM s.time_start)::int / 60), (EXTRACT(EPOCH FROM s.time_end)::int / 60),
	s.slot_minutes, s.capacity, s.active, s.created_at`

func ruleDest(r *ScheduleRule, typ *string, start, end *int) []any {
	return []any{&r.ID, &r.SpecialtyID, &r.DoctorID, typ, &r.DaysMask, &r.DateStart, &r.DateEnd,
		start, end, &r.SlotMinutes, &r.Capacity, &r.Active, &r.CreatedAt}
}

func scanRule(row pgx.Row) (*ScheduleRule, error) {
	var r ScheduleRule
	var typ string
	var start, end int
	if err := row.Scan(ruleDest(&r, &typ, &start, &end)...); err != nil {
		return nil, err
	}
	r.Type, r.TimeStart, r.TimeEnd = RuleType(typ), Clock(start), Clock(end)
	return &r, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, rule *ScheduleRule) error {
	rule.ID = uuid.New()
	return r.q.QueryRow(ctx, `
		INSERT INTO schedule (id, specialty_id, doctor_id, type, days_mask, date_start, date_end,
			time_start, time_end, slot_minutes, capacity, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			make_time($8::int / 60, $8::int % 60, 0), make_time($9::int / 60, $9::int % 60, 0),
			$10, $11, $12)
		RETURNING created_at`,
		rule.ID, rule.SpecialtyID, rule.DoctorID, string(rule.Type), rule.DaysMask, rule.DateStart, rule.DateEnd,
		int(rule.TimeStart), int(rule.TimeEnd), rule.SlotMinutes, rule.Capacity, rule.Active).Scan(&rule.CreatedAt)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleRule, error) {
	rule, err := scanRule(r.q.QueryRow(ctx, `SELECT `+ruleCols+` FROM schedule s WHERE s.id = $1`, id))
	return rule, notFound(err)
}

func (r *scheduleRepoPG) List(ctx context.Context, specialtyID *uuid.UUID, limit, offset int) ([]*ScheduleRule, int, error) {
	var total int
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule s WHERE ($1::uuid IS NULL OR s.specialty_id = $1)`, specialtyID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.q.Query(ctx, `SELECT `+ruleCols+` FROM schedule s
		WHERE ($1::uuid IS NULL OR s.specialty_id = $1)
		ORDER BY s.created_at, s.id LIMIT $2 OFFSET $3`, specialtyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ScheduleRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rule)
	}
	return items, total, rows.Err()
}

func (r *scheduleRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE schedule SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// A nil doctorID compares NULL, so only specialty-wide rules match it.
const findApplicableSQL = `SELECT ` + ruleCols + `,
	e.schedule_id IS NOT NULL, COALESCE(e.is_closed, false),
	(EXTRACT(EPOCH FROM e.ex_time_start)::int / 60), (EXTRACT(EPOCH FROM e.ex_time_end)::int / 60)
	FROM schedule s
	LEFT JOIN schedule_exception e ON e.schedule_id = s.id AND e.the_date = $3
	WHERE s.active AND s.specialty_id = $1
	  AND (s.doctor_id IS NULL OR s.doctor_id = $2)
	  AND ((s.type = 'WEEKLY' AND (s.days_mask::int & (1 << ($4::int - 1))) <> 0
	        AND s.date_start <= $3 AND (s.date_end IS NULL OR s.date_end >= $3))
	    OR (s.type = 'ONE_OFF' AND s.date_start = $3))
	ORDER BY s.created_at, s.id`

func (r *scheduleRepoPG) FindApplicable(ctx context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time, weekday int) ([]*ScheduleRule, error) {
	date = DateOf(date)
	rows, err := r.q.Query(ctx, findApplicableSQL, specialtyID, doctorID, date, weekday)
	if err != nil {
		return nil, fmt.Errorf("query applicable rules: %w", err)
	}
	defer rows.Close()

	var rules []*ScheduleRule
	for rows.Next() {
		var rule ScheduleRule
		var typ string
		var start, end int
		var hasEx, closed bool
		var exStart, exEnd *int
		dest := append(ruleDest(&rule, &typ, &start, &end), &hasEx, &closed, &exStart, &exEnd)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan applicable rule: %w", err)
		}
		rule.Type, rule.TimeStart, rule.TimeEnd = RuleType(typ), Clock(start), Clock(end)
		if hasEx {
			rule.Exception = &ScheduleException{
				ScheduleID: rule.ID,
				TheDate:    date,
				IsClosed:   closed,
				TimeStart:  clockPtr(exStart),
				TimeEnd:    clockPtr(exEnd),
			}
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

func clockPtr(m *int) *Clock {
	if m == nil {
		return nil
	}
	c := Clock(*m)
	return &c
}

func intPtr(c *Clock) *int {
	if c == nil {
		return nil
	}
	m := int(*c)
	return &m
}

func (r *scheduleRepoPG) UpsertException(ctx context.Context, ex *ScheduleException) error {
	ex.TheDate = DateOf(ex.TheDate)
	_, err := r.q.Exec(ctx, `
		INSERT INTO schedule_exception (schedule_id, the_date, is_closed, ex_time_start, ex_time_end)
		VALUES ($1, $2, $3,
			CASE WHEN $4::int IS NULL THEN NULL ELSE make_time($4::int / 60, $4::int % 60, 0) END,
			CASE WHEN $5::int IS NULL THEN NULL ELSE make_time($5::int / 60, $5::int % 60, 0) END)
		ON CONFLICT (schedule_id, the_date) DO UPDATE
		SET is_closed = EXCLUDED.is_closed, ex_time_start = EXCLUDED.ex_time_start, ex_time_end = EXCLUDED.ex_time_end`,
		ex.ScheduleID, ex.TheDate, ex.IsClosed, intPtr(ex.TimeStart), intPtr(ex.TimeEnd))
	if _, ok := db.ConstraintViolation(err, db.CodeForeignKeyViolation); ok {
		return ErrRecordNotFound
	}
	return err
}

func (r *scheduleRepoPG) DeleteException(ctx context.Context, scheduleID uuid.UUID, date time.Time) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM schedule_exception WHERE schedule_id = $1 AND the_date = $2`, scheduleID, DateOf(date))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ q db.Querier }

func NewAppointmentRepoPG(q db.Querier) AppointmentRepository { return &appointmentRepoPG{q: q} }

const apptCols = `id, specialty_id, doctor_id, patient_name, patient_dni,
	to_char(patient_birthdate, 'YYYY-MM-DD'), patient_phone,
	start_dt, end_dt, appt_date, status, created_by, created_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.SpecialtyID, &a.DoctorID, &a.Patient.Name, &a.Patient.DNI,
		&a.Patient.Birthdate, &a.Patient.Phone,
		&a.Start, &a.End, &a.ApptDate, &status, &a.CreatedBy, &a.CreatedAt, &a.CancelledAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.ApptDate = DateOf(a.ApptDate)
	err := r.q.QueryRow(ctx, `
		INSERT INTO appointment (id, specialty_id, doctor_id, patient_name, patient_dni,
			patient_birthdate, patient_phone, start_dt, end_dt, appt_date, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		a.ID, a.SpecialtyID, a.DoctorID, a.Patient.Name, a.Patient.DNI,
		a.Patient.Birthdate, a.Patient.Phone, a.Start, a.End, a.ApptDate, string(a.Status), a.CreatedBy,
	).Scan(&a.CreatedAt)
	if err == nil {
		return nil
	}
	if name, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok && name == constraintPatientDay {
		return fmt.Errorf("%w: %v", ErrPatientDayTaken, err)
	}
	if name, ok := db.ConstraintViolation(err, db.CodeExclusionViolation); ok && name == constraintDoctorOverlap {
		return fmt.Errorf("%w: %v", ErrDoctorOverlap, err)
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.q.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	return a, notFound(err)
}

func (r *appointmentRepoPG) FindActive(ctx context.Context, specialtyID uuid.UUID, doctorID *uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE specialty_id = $1 AND appt_date = $2 AND status <> 'cancelled'
		  AND ($3::uuid IS NULL OR doctor_id = $3)
		ORDER BY start_dt`, specialtyID, DateOf(date), doctorID)
	if err != nil {
		return nil, fmt.Errorf("query active appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) HasActiveForPatient(ctx context.Context, dni string, date time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM appointment WHERE patient_dni = $1 AND appt_date = $2 AND status <> 'cancelled')`,
		dni, DateOf(date)).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) HasDoctorOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM appointment WHERE doctor_id = $1 AND status <> 'cancelled'
		  AND start_dt < $3 AND end_dt > $2)`,
		doctorID, start, end).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointment
		SET status = $3, cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4::timestamptz ELSE cancelled_at END
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	ds := pgDialect.From("appointment").Prepared(true)
	if f.SpecialtyID != nil {
		ds = ds.Where(goqu.C("specialty_id").Eq(f.SpecialtyID.String()))
	}
	if f.DoctorID != nil {
		ds = ds.Where(goqu.C("doctor_id").Eq(f.DoctorID.String()))
	}
	if f.PatientDNI != "" {
		ds = ds.Where(goqu.C("patient_dni").Eq(f.PatientDNI))
	}
	if f.Date != nil {
		ds = ds.Where(goqu.C("appt_date").Eq(DateOf(*f.Date)))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}

	countSQL, countArgs, err := ds.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment count: %w", err)
	}
	var total int
	if err := r.q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, args, err := ds.Select(goqu.L(apptCols)).
		Order(goqu.C("start_dt").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment list: %w", err)
	}
	rows, err := r.q.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	return items, total, err
}
