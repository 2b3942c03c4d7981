package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/availability"
	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SQLSTATEs mapped to domain errors.
const (
	exclusionViolation  = "23P01" // bookings_no_overlap
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

const doctorCols = `id, name, specialty, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty) VALUES ($1, $2, $3)
		RETURNING created_at`,
		d.ID, d.Name, d.Specialty).Scan(&d.CreatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
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

// =========== Service Repository ===========

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceRepository { return &serviceRepoPG{pool: pool} }

const serviceCols = `id, doctor_id, name, duration_minutes, consultation_fee, currency, created_at`

func scanService(row pgx.Row) (*MedicalService, error) {
	var s MedicalService
	if err := row.Scan(&s.ID, &s.DoctorID, &s.Name, &s.DurationMinutes, &s.ConsultationFee, &s.Currency, &s.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *serviceRepoPG) Create(ctx context.Context, s *MedicalService) error {
	s.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO services (id, doctor_id, name, duration_minutes, consultation_fee, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		s.ID, s.DoctorID, s.Name, s.DurationMinutes, s.ConsultationFee, s.Currency).Scan(&s.CreatedAt)
}

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	return scanService(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+serviceCols+` FROM services WHERE id = $1`, id))
}

func (r *serviceRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*MedicalService, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+serviceCols+` FROM services WHERE doctor_id = $1 ORDER BY name, id`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MedicalService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *serviceRepoPG) Update(ctx context.Context, s *MedicalService) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE services
		SET name = $3, duration_minutes = $4, consultation_fee = $5, currency = $6
		WHERE id = $1 AND doctor_id = $2
		RETURNING created_at`,
		s.ID, s.DoctorID, s.Name, s.DurationMinutes, s.ConsultationFee, s.Currency).Scan(&s.CreatedAt)
	return notFound(err)
}

// Delete refuses services that bookings still reference.
func (r *serviceRepoPG) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM services WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		if code, _ := pgCode(err); code == foreignKeyViolation {
			return ErrServiceInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

const patientCols = `id, name, email, phone, to_char(date_of_birth, 'YYYY-MM-DD'), created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.DateOfBirth, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, name, email, phone, date_of_birth)
		VALUES ($1, $2, $3, $4, $5::text::date)
		RETURNING created_at`,
		p.ID, p.Name, p.Email, p.Phone, p.DateOfBirth).Scan(&p.CreatedAt)
	if code, _ := pgCode(err); code == uniqueViolation {
		return ErrPatientExists
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	conn := connFor(ctx, r.pool)
	const where = `($1 = '' OR name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%')`
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+where, q).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+patientCols+` FROM patients WHERE `+where+` ORDER BY name, id LIMIT $2 OFFSET $3`, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*Schedule, error) {
	var s Schedule
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, doctor_id, name, timezone, updated_at FROM schedules WHERE doctor_id = $1`,
		doctorID).Scan(&s.ID, &s.DoctorID, &s.Name, &s.Timezone, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// ListRulesByDoctor decodes stored rows back into rules. Bad stored values
// surface as availability errors rather than being skipped.
func (r *scheduleRepoPG) ListRulesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]availability.Rule, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT a.days, to_char(a.start_time, 'HH24:MI:SS'), to_char(a.end_time, 'HH24:MI:SS')
		FROM availabilities a
		JOIN schedules s ON s.id = a.schedule_id
		WHERE s.doctor_id = $1
		ORDER BY a.position`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]availability.Rule, 0)
	for rows.Next() {
		var days []int32
		var start, end string
		if err := rows.Scan(&days, &start, &end); err != nil {
			return nil, err
		}
		rule, err := decodeRule(days, start, end)
		if err != nil {
			return nil, fmt.Errorf("doctor %s: %w", doctorID, err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func decodeRule(days []int32, start, end string) (availability.Rule, error) {
	var r availability.Rule
	for _, d := range days {
		wd, err := availability.ParseUTCWeekday(int(d))
		if err != nil {
			return r, err
		}
		r.DaysOfWeekUTC = append(r.DaysOfWeekUTC, wd)
	}
	var err error
	if r.StartTimeUTC, err = availability.ParseTimeOfDay(start); err != nil {
		return r, err
	}
	if r.EndTimeUTC, err = availability.ParseTimeOfDay(end); err != nil {
		return r, err
	}
	return r, nil
}

func encodeDays(days []time.Weekday) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func (r *scheduleRepoPG) ReplaceRules(ctx context.Context, s *Schedule, rules []availability.Rule) error {
	tx, err := connFor(ctx, r.pool).Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO schedules (id, doctor_id, name, timezone, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (doctor_id) DO UPDATE
			SET name = EXCLUDED.name, timezone = EXCLUDED.timezone, updated_at = NOW()
		RETURNING id, updated_at`,
		s.ID, s.DoctorID, s.Name, s.Timezone).Scan(&s.ID, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM availabilities WHERE schedule_id = $1`, s.ID); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}

	if len(rules) > 0 {
		batch := &pgx.Batch{}
		for i, rule := range rules {
			batch.Queue(`
				INSERT INTO availabilities (id, schedule_id, position, days, start_time, end_time)
				VALUES ($1, $2, $3, $4, $5::text::time, $6::text::time)`,
				uuid.New(), s.ID, i, encodeDays(rule.DaysOfWeekUTC), rule.StartTimeUTC.String(), rule.EndTimeUTC.String())
		}
		br := tx.SendBatch(ctx, batch)
		for range rules {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert rule: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("insert rules: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

const bookingCols = `b.id, b.doctor_id, b.service_id, b.patient_id, b.start_utc, b.end_utc,
	b.status, b.notes, b.created_at, b.updated_at`

func scanBooking(row pgx.Row, extra ...interface{}) (*Booking, error) {
	var b Booking
	dest := []interface{}{&b.ID, &b.DoctorID, &b.ServiceID, &b.PatientID, &b.StartUTC, &b.EndUTC,
		&b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, notFound(err)
	}
	b.StartUTC, b.EndUTC = b.StartUTC.UTC(), b.EndUTC.UTC()
	return &b, nil
}

// Create serializes bookings per doctor with a transaction-scoped advisory
// lock, checks for overlaps, then inserts. The bookings_no_overlap exclusion
// constraint backs the check for writers that bypass this path.
func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	tx, err := connFor(ctx, r.pool).Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, b.DoctorID.String()); err != nil {
		return fmt.Errorf("lock doctor: %w", err)
	}

	var overlapping int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE doctor_id = $1 AND status = ANY($2) AND start_utc < $4 AND end_utc > $3`,
		b.DoctorID, BlockingStatuses, b.StartUTC, b.EndUTC).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if overlapping > 0 {
		return ErrBookingConflict
	}

	b.ID = uuid.New()
	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (id, doctor_id, service_id, patient_id, start_utc, end_utc, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		b.ID, b.DoctorID, b.ServiceID, b.PatientID, b.StartUTC, b.EndUTC, b.Status, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		switch code, constraint := pgCode(err); {
		case code == exclusionViolation:
			return ErrBookingConflict
		case code == foreignKeyViolation && constraint == "bookings_patient_fk":
			return ErrPatientNotFound
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings b WHERE b.id = $1`, id))
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		if code, _ := pgCode(err); code == exclusionViolation {
			return ErrBookingConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bookingRepoPG) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Booking, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+bookingCols+` FROM bookings b
		WHERE b.doctor_id = $1 AND b.status = ANY($2) AND b.start_utc < $4 AND b.end_utc > $3
		ORDER BY b.start_utc`,
		doctorID, BlockingStatuses, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]*CalendarEntry, int, error) {
	q := connFor(ctx, r.pool)
	// uuid.Nil matches every doctor.
	const where = `b.start_utc < $2 AND b.end_utc > $1 AND ($3 = '00000000-0000-0000-0000-000000000000'::uuid OR b.doctor_id = $3)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM bookings b WHERE `+where, from, to, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+calendarCols+calendarJoins+`
		WHERE `+where+`
		ORDER BY b.start_utc, b.id
		LIMIT $4 OFFSET $5`,
		from, to, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return scanCalendar(rows, total)
}

// List filters with the same uuid.Nil and empty-string wildcards as
// ListBetween.
func (r *bookingRepoPG) List(ctx context.Context, f BookingFilter, limit, offset int) ([]*CalendarEntry, int, error) {
	q := connFor(ctx, r.pool)
	const where = `($1 = '00000000-0000-0000-0000-000000000000'::uuid OR b.doctor_id = $1)
		AND ($2 = '00000000-0000-0000-0000-000000000000'::uuid OR b.patient_id = $2)
		AND ($3 = '' OR b.status = $3)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM bookings b WHERE `+where, f.DoctorID, f.PatientID, f.Status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+calendarCols+calendarJoins+`
		WHERE `+where+`
		ORDER BY b.start_utc DESC, b.id
		LIMIT $4 OFFSET $5`,
		f.DoctorID, f.PatientID, f.Status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return scanCalendar(rows, total)
}

const calendarCols = bookingCols + `, d.name, s.name, p.name`

const calendarJoins = `
		FROM bookings b
		JOIN doctors d ON d.id = b.doctor_id
		JOIN services s ON s.id = b.service_id
		LEFT JOIN patients p ON p.id = b.patient_id`

func scanCalendar(rows pgx.Rows, total int) ([]*CalendarEntry, int, error) {
	defer rows.Close()
	var items []*CalendarEntry
	for rows.Next() {
		var e CalendarEntry
		b, err := scanBooking(rows, &e.DoctorName, &e.ServiceName, &e.PatientName)
		if err != nil {
			return nil, 0, err
		}
		e.Booking = *b
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
