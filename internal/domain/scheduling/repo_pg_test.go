package scheduling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/availability"
	"github.com/hms/hms/internal/platform/db"
)

// These tests run against a live Postgres when HMS_TEST_DATABASE_URL is set.
// Each test gets its own hospital schema, dropped on cleanup.

type pgEnv struct {
	pool     *pgxpool.Pool
	hospital string
	doctors  DoctorRepository
	services ServiceRepository
	scheds   ScheduleRepository
	bookings BookingRepository
	patients PatientRepository
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	url := os.Getenv("HMS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HMS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 10, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	hospital := "it_" + uuid.NewString()[:8]
	if err := db.CreateTenantSchema(ctx, pool, hospital, filepath.Join("..", "..", "..", "migrations")); err != nil {
		pool.Close()
		t.Fatalf("create hospital schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaName(hospital))); err != nil {
			t.Logf("warning: drop schema: %v", err)
		}
		pool.Close()
	})

	return &pgEnv{
		pool:     pool,
		hospital: hospital,
		doctors:  NewDoctorRepoPG(pool),
		services: NewServiceRepoPG(pool),
		scheds:   NewScheduleRepoPG(pool),
		bookings: NewBookingRepoPG(pool),
		patients: NewPatientRepoPG(pool),
	}
}

// scoped returns a context bound to a connection on the test hospital.
func (env *pgEnv) scoped(t *testing.T) context.Context {
	t.Helper()
	ctx, release, err := db.Scoped(context.Background(), env.pool, env.hospital)
	if err != nil {
		t.Fatalf("scope connection: %v", err)
	}
	t.Cleanup(release)
	return ctx
}

func (env *pgEnv) seed(t *testing.T, ctx context.Context) (*Doctor, *MedicalService) {
	t.Helper()
	d := &Doctor{Name: "Dr. Mehta"}
	if err := env.doctors.Create(ctx, d); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	ms := &MedicalService{DoctorID: d.ID, Name: "Consultation", DurationMinutes: 30, ConsultationFee: 40.5, Currency: "EUR"}
	if err := env.services.Create(ctx, ms); err != nil {
		t.Fatalf("create service: %v", err)
	}
	return d, ms
}

// book registers a fresh patient and books them in.
func (env *pgEnv) book(ctx context.Context, d *Doctor, ms *MedicalService, start time.Time, status string) (*Booking, error) {
	p := &Patient{Name: "Test Patient"}
	if err := env.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	b := &Booking{
		DoctorID:  d.ID,
		ServiceID: ms.ID,
		PatientID: p.ID,
		StartUTC:  start,
		EndUTC:    start.Add(time.Duration(ms.DurationMinutes) * time.Minute),
		Status:    status,
	}
	return b, env.bookings.Create(ctx, b)
}

func TestPG_DoctorsAndServices(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)

	got, err := env.doctors.GetByID(ctx, d.ID)
	if err != nil || got.Name != "Dr. Mehta" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected doctor %+v, err %v", got, err)
	}
	if _, err := env.doctors.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, total, err := env.doctors.List(ctx, 10, 0)
	if err != nil || total != 1 || len(list) != 1 {
		t.Errorf("expected one doctor, got %d/%d err %v", len(list), total, err)
	}

	svc, err := env.services.GetByID(ctx, ms.ID)
	if err != nil || svc.ConsultationFee != 40.5 || svc.Currency != "EUR" {
		t.Errorf("unexpected service %+v, err %v", svc, err)
	}
	byDoctor, err := env.services.ListByDoctor(ctx, d.ID)
	if err != nil || len(byDoctor) != 1 {
		t.Errorf("expected one service, got %d err %v", len(byDoctor), err)
	}
}

func TestPG_ReplaceRulesRoundTrip(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, _ := env.seed(t, ctx)

	rules := []availability.Rule{
		{
			DaysOfWeekUTC: []time.Weekday{time.Monday, time.Wednesday},
			StartTimeUTC:  availability.MustParseTimeOfDay("09:00"),
			EndTimeUTC:    availability.MustParseTimeOfDay("12:30"),
		},
		{
			DaysOfWeekUTC: []time.Weekday{time.Sunday},
			StartTimeUTC:  availability.MustParseTimeOfDay("22:00"),
			EndTimeUTC:    availability.MustParseTimeOfDay("02:00"),
		},
	}
	sched := &Schedule{DoctorID: d.ID, Name: "Default", Timezone: "Asia/Kolkata"}
	if err := env.scheds.ReplaceRules(ctx, sched, rules); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}

	got, err := env.scheds.ListRulesByDoctor(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListRulesByDoctor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got))
	}
	if got[1].DaysOfWeekUTC[0] != time.Sunday || got[1].StartTimeUTC.String() != rules[1].StartTimeUTC.String() ||
		got[1].EndTimeUTC.String() != rules[1].EndTimeUTC.String() {
		t.Errorf("midnight rule did not round-trip: %+v", got[1])
	}

	// A second replace keeps the schedule row and swaps the rules.
	firstID := sched.ID
	again := &Schedule{DoctorID: d.ID, Name: "Summer", Timezone: "UTC"}
	if err := env.scheds.ReplaceRules(ctx, again, rules[:1]); err != nil {
		t.Fatalf("second ReplaceRules: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("expected schedule id %s to be kept, got %s", firstID, again.ID)
	}
	s, err := env.scheds.GetByDoctor(ctx, d.ID)
	if err != nil || s.Name != "Summer" {
		t.Errorf("expected renamed schedule, got %+v err %v", s, err)
	}
	if got, _ := env.scheds.ListRulesByDoctor(ctx, d.ID); len(got) != 1 {
		t.Errorf("expected 1 rule after replace, got %d", len(got))
	}
}

func TestPG_BookingOverlap(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	first, err := env.book(ctx, d, ms, start, BookingPending)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := env.book(ctx, d, ms, start.Add(15*time.Minute), BookingPending); !errors.Is(err, ErrBookingConflict) {
		t.Errorf("expected ErrBookingConflict, got %v", err)
	}
	// Touching intervals do not overlap.
	if _, err := env.book(ctx, d, ms, start.Add(30*time.Minute), BookingPending); err != nil {
		t.Errorf("adjacent booking: %v", err)
	}

	if err := env.bookings.UpdateStatus(ctx, first.ID, BookingCancelledByPatient); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.book(ctx, d, ms, start, BookingPending); err != nil {
		t.Errorf("cancelled booking should free its slot: %v", err)
	}

	blocking, err := env.bookings.ListByDoctorBetween(ctx, d.ID, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListByDoctorBetween: %v", err)
	}
	if len(blocking) != 2 {
		t.Errorf("expected 2 blocking bookings, got %d", len(blocking))
	}
}

func TestPG_ExclusionConstraint(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	b, err := env.book(ctx, d, ms, start, BookingConfirmed)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	conn := db.ConnFromContext(ctx)
	_, err = conn.Exec(ctx, `
		INSERT INTO bookings (id, doctor_id, service_id, patient_id, start_utc, end_utc, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		uuid.New(), d.ID, ms.ID, b.PatientID, start.Add(10*time.Minute), start.Add(40*time.Minute))

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != exclusionViolation {
		t.Errorf("expected exclusion violation, got %v", err)
	}
}

func TestPG_ConcurrentBookingsOneWins(t *testing.T) {
	env := newPGEnv(t)
	d, ms := env.seed(t, env.scoped(t))
	start := time.Date(2024, 6, 11, 14, 0, 0, 0, time.UTC)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, release, err := db.Scoped(context.Background(), env.pool, env.hospital)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			_, err = env.book(ctx, d, ms, start, BookingPending)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrBookingConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one booking to win, got %d", won)
	}
}

func TestPG_ListBetween(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)
	other, otherSvc := env.seed(t, ctx)
	day := time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := env.book(ctx, d, ms, day.Add(time.Duration(9+i)*time.Hour), BookingConfirmed); err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
	}
	if _, err := env.book(ctx, other, otherSvc, day.Add(9*time.Hour), BookingPending); err != nil {
		t.Fatalf("other doctor booking: %v", err)
	}

	all, total, err := env.bookings.ListBetween(ctx, uuid.Nil, day, day.Add(24*time.Hour), 2, 0)
	if err != nil {
		t.Fatalf("ListBetween: %v", err)
	}
	if total != 4 || len(all) != 2 {
		t.Errorf("expected page of 2 out of 4, got %d of %d", len(all), total)
	}
	if all[0].DoctorName == "" || all[0].ServiceName == "" {
		t.Errorf("expected doctor and service names, got %+v", all[0])
	}

	mine, total, err := env.bookings.ListBetween(ctx, d.ID, day, day.Add(24*time.Hour), 10, 0)
	if err != nil || total != 3 || len(mine) != 3 {
		t.Errorf("expected 3 bookings for doctor, got %d of %d err %v", len(mine), total, err)
	}
}

func TestPG_ServiceUpdateAndDelete(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)
	other, _ := env.seed(t, ctx)

	ms.Name, ms.DurationMinutes, ms.Currency = "Extended", 60, "GBP"
	if err := env.services.Update(ctx, ms); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := env.services.GetByID(ctx, ms.ID)
	if err != nil || got.DurationMinutes != 60 || got.Currency != "GBP" || got.CreatedAt.IsZero() {
		t.Errorf("unexpected service %+v, err %v", got, err)
	}

	foreign := *ms
	foreign.DoctorID = other.ID
	if err := env.services.Update(ctx, &foreign); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another doctor, got %v", err)
	}
	if err := env.services.Delete(ctx, other.ID, ms.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another doctor, got %v", err)
	}

	if _, err := env.book(ctx, d, ms, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), BookingPending); err != nil {
		t.Fatalf("booking: %v", err)
	}
	if err := env.services.Delete(ctx, d.ID, ms.ID); !errors.Is(err, ErrServiceInUse) {
		t.Errorf("expected ErrServiceInUse, got %v", err)
	}

	spare := &MedicalService{DoctorID: d.ID, Name: "Spare", DurationMinutes: 15, Currency: "USD"}
	if err := env.services.Create(ctx, spare); err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := env.services.Delete(ctx, d.ID, spare.ID); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if _, err := env.services.GetByID(ctx, spare.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted service to be gone, got %v", err)
	}
}

func TestPG_Patients(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	email, dob := "asha@example.com", "1988-11-30"

	p := &Patient{ID: uuid.New(), Name: "Asha Iyer", Email: &email, DateOfBirth: &dob}
	presetID := p.ID
	if err := env.patients.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID != presetID {
		t.Errorf("expected preset id to be kept")
	}
	if err := env.patients.Create(ctx, &Patient{ID: presetID, Name: "Again"}); !errors.Is(err, ErrPatientExists) {
		t.Errorf("expected ErrPatientExists, got %v", err)
	}
	if err := env.patients.Create(ctx, &Patient{Name: "Ravi Iyer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := env.patients.GetByID(ctx, presetID)
	if err != nil || got.DateOfBirth == nil || *got.DateOfBirth != dob || got.Phone != nil {
		t.Errorf("unexpected patient %+v, err %v", got, err)
	}
	if _, err := env.patients.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	found, total, err := env.patients.Search(ctx, "IYER", 1, 0)
	if err != nil || total != 2 || len(found) != 1 || found[0].Name != "Asha Iyer" {
		t.Errorf("expected first of 2 matches, got %d of %d err %v", len(found), total, err)
	}
	byEmail, total, err := env.patients.Search(ctx, "example.com", 10, 0)
	if err != nil || total != 1 || byEmail[0].ID != presetID {
		t.Errorf("expected email match, got %d err %v", total, err)
	}
}

func TestPG_BookingUnknownPatient(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	err := env.bookings.Create(ctx, &Booking{
		DoctorID: d.ID, ServiceID: ms.ID, PatientID: uuid.New(),
		StartUTC: start, EndUTC: start.Add(30 * time.Minute), Status: BookingPending,
	})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestPG_ListBookings(t *testing.T) {
	env := newPGEnv(t)
	ctx := env.scoped(t)
	d, ms := env.seed(t, ctx)
	other, otherSvc := env.seed(t, ctx)
	day := time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)

	first, err := env.book(ctx, d, ms, day.Add(9*time.Hour), BookingPending)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := env.book(ctx, d, ms, day.Add(10*time.Hour), BookingPending); err != nil {
		t.Fatalf("booking: %v", err)
	}
	if _, err := env.book(ctx, other, otherSvc, day.Add(11*time.Hour), BookingPending); err != nil {
		t.Fatalf("booking: %v", err)
	}
	if err := env.bookings.UpdateStatus(ctx, first.ID, BookingConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	all, total, err := env.bookings.List(ctx, BookingFilter{}, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(all) != 2 {
		t.Fatalf("expected page of 2 out of 3, got %d of %d", len(all), total)
	}
	if !all[0].StartUTC.Equal(day.Add(11*time.Hour)) {
		t.Errorf("expected newest first, got %v", all[0].StartUTC)
	}
	if all[0].PatientName == nil || *all[0].PatientName != "Test Patient" {
		t.Errorf("expected patient name, got %v", all[0].PatientName)
	}

	mine, total, err := env.bookings.List(ctx, BookingFilter{DoctorID: d.ID, Status: BookingConfirmed}, 10, 0)
	if err != nil || total != 1 || mine[0].ID != first.ID {
		t.Errorf("expected the confirmed booking, got %d err %v", total, err)
	}
	theirs, total, err := env.bookings.List(ctx, BookingFilter{PatientID: first.PatientID}, 10, 0)
	if err != nil || total != 1 || theirs[0].ID != first.ID {
		t.Errorf("expected the patient's booking, got %d err %v", total, err)
	}
}
