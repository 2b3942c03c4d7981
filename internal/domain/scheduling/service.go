package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/availability"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/metrics"
)

const DateLayout = "2006-01-02"

type Service struct {
	doctors   DoctorRepository
	services  ServiceRepository
	schedules ScheduleRepository
	bookings  BookingRepository
	patients  PatientRepository

	cache     cache.SlotCache
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithCache(c cache.SlotCache) Option { return func(s *Service) { s.cache = c } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l.With().Str("component", "scheduling").Logger() }
}

// WithClock replaces time.Now. The clock picks the conversion anchor week
// and "today" for calendar queries.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(doctors DoctorRepository, services ServiceRepository, schedules ScheduleRepository, bookings BookingRepository, patients PatientRepository, opts ...Option) *Service {
	s := &Service{
		doctors:   doctors,
		services:  services,
		schedules: schedules,
		bookings:  bookings,
		patients:  patients,
		cache:     cache.Noop{},
		publisher: events.Noop{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDoctorNotFound
	}
	return d, err
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

// -- Patient --

// CreatePatient registers a patient. A preset ID is kept.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	p.Email = trimOptional(p.Email)
	if p.Email != nil && !strings.Contains(*p.Email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidInput, *p.Email)
	}
	p.Phone = trimOptional(p.Phone)
	p.DateOfBirth = trimOptional(p.DateOfBirth)
	if p.DateOfBirth != nil {
		dob, err := time.Parse(DateLayout, *p.DateOfBirth)
		if err != nil {
			return fmt.Errorf("%w: date_of_birth must be yyyy-MM-dd", ErrInvalidInput)
		}
		if dob.After(s.now()) {
			return fmt.Errorf("%w: date_of_birth is in the future", ErrInvalidInput)
		}
	}
	return s.patients.Create(ctx, p)
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

func (s *Service) SearchPatients(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, strings.TrimSpace(q), limit, offset)
}

// -- Medical service --

// normalizeMedicalService trims and defaults ms in place and rejects
// values the services table would refuse.
func normalizeMedicalService(ms *MedicalService) error {
	if ms.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	ms.Name = strings.TrimSpace(ms.Name)
	if ms.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if ms.DurationMinutes <= 0 {
		return fmt.Errorf("%w: got %d minutes", availability.ErrInvalidServiceDuration, ms.DurationMinutes)
	}
	if ms.ConsultationFee < 0 {
		return fmt.Errorf("%w: consultation_fee must not be negative", ErrInvalidInput)
	}
	if ms.Currency == "" {
		ms.Currency = "USD"
	}
	ms.Currency = strings.ToUpper(ms.Currency)
	if !validCurrencies[ms.Currency] {
		return fmt.Errorf("%w: invalid currency %s", ErrInvalidInput, ms.Currency)
	}
	return nil
}

func (s *Service) CreateMedicalService(ctx context.Context, ms *MedicalService) error {
	if err := normalizeMedicalService(ms); err != nil {
		return err
	}
	if _, err := s.GetDoctor(ctx, ms.DoctorID); err != nil {
		return err
	}
	if err := s.services.Create(ctx, ms); err != nil {
		return err
	}
	s.changed(ctx, events.KindServiceChanged, ms.DoctorID, ms.ID)
	return nil
}

// UpdateMedicalService replaces the editable fields of one of the doctor's
// services. A new duration changes the slot grid of every later query.
func (s *Service) UpdateMedicalService(ctx context.Context, ms *MedicalService) error {
	if err := normalizeMedicalService(ms); err != nil {
		return err
	}
	if _, err := s.serviceFor(ctx, ms.DoctorID, ms.ID); err != nil {
		return err
	}
	if err := s.services.Update(ctx, ms); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrServiceNotFound
		}
		return err
	}
	s.logger.Info().
		Str("service_id", ms.ID.String()).
		Int("duration_minutes", ms.DurationMinutes).
		Msg("service updated")
	s.changed(ctx, events.KindServiceChanged, ms.DoctorID, ms.ID)
	return nil
}

// DeleteMedicalService removes one of the doctor's services. Services
// with bookings are kept and ErrServiceInUse is returned.
func (s *Service) DeleteMedicalService(ctx context.Context, doctorID, serviceID uuid.UUID) error {
	if err := s.services.Delete(ctx, doctorID, serviceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrServiceNotFound
		}
		return err
	}
	s.changed(ctx, events.KindServiceChanged, doctorID, serviceID)
	return nil
}

func (s *Service) ListMedicalServices(ctx context.Context, doctorID uuid.UUID) ([]*MedicalService, error) {
	return s.services.ListByDoctor(ctx, doctorID)
}

// serviceFor returns the service only if the doctor offers it.
func (s *Service) serviceFor(ctx context.Context, doctorID, serviceID uuid.UUID) (*MedicalService, error) {
	ms, err := s.services.GetByID(ctx, serviceID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	if ms.DoctorID != doctorID {
		return nil, ErrServiceNotFound
	}
	return ms, nil
}

// -- Available slots --

// ComputeAvailableSlots returns the start instants of the doctor's free
// slots of the service's length on the UTC calendar date of date. A doctor
// without rules yields an empty list with CodeNoScheduleFound.
func (s *Service) ComputeAvailableSlots(ctx context.Context, doctorID, serviceID uuid.UUID, date time.Time) (*SlotResult, error) {
	started := time.Now()
	res, err := s.computeAvailableSlots(ctx, doctorID, serviceID, date)
	if s.metrics != nil {
		code := string(availability.CodeOf(err))
		if err == nil {
			code = "OK"
			if res.Code != availability.CodeNone {
				code = string(res.Code)
			}
		}
		s.metrics.SlotComputations.WithLabelValues(code).Inc()
		s.metrics.SlotComputeDuration.Observe(time.Since(started).Seconds())
	}
	return res, err
}

func (s *Service) computeAvailableSlots(ctx context.Context, doctorID, serviceID uuid.UUID, date time.Time) (*SlotResult, error) {
	ms, err := s.serviceFor(ctx, doctorID, serviceID)
	if err != nil {
		return nil, err
	}

	day := availability.DateUTC(date)
	res := &SlotResult{
		DoctorID:        doctorID,
		ServiceID:       serviceID,
		Date:            day.Format(DateLayout),
		DurationMinutes: ms.DurationMinutes,
		Slots:           []time.Time{},
	}

	key, cacheable := s.cacheKey(ctx, doctorID, serviceID, res.Date)
	if cacheable {
		if e, ok := s.cacheGet(ctx, key); ok {
			res.Slots, res.Code = e.Starts, availability.Code(e.Code)
			return res, nil
		}
	}

	rules, err := s.schedules.ListRulesByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if len(rules) == 0 {
		res.Code = availability.CodeNoScheduleFound
		s.cacheSet(ctx, key, cacheable, res)
		return res, nil
	}

	candidates, err := availability.GenerateSlots(rules, day, ms.DurationMinutes)
	if err != nil {
		return nil, err
	}

	if from, to, ok := availability.Span(candidates); ok {
		existing, err := s.bookings.ListByDoctorBetween(ctx, doctorID, from, to)
		if err != nil {
			return nil, fmt.Errorf("load bookings: %w", err)
		}
		busy := make([]availability.Booking, 0, len(existing))
		for _, b := range existing {
			busy = append(busy, b.interval())
		}
		res.Slots = availability.Starts(availability.FilterAvailable(candidates, busy))
	}

	s.cacheSet(ctx, key, cacheable, res)
	return res, nil
}

func (s *Service) cacheKey(ctx context.Context, doctorID, serviceID uuid.UUID, date string) (cache.Key, bool) {
	tenant := db.TenantFromContext(ctx)
	gen, err := s.cache.Generation(ctx, tenant, doctorID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("slot cache generation lookup failed")
		return cache.Key{}, false
	}
	return cache.Key{Tenant: tenant, DoctorID: doctorID, ServiceID: serviceID, Date: date, Generation: gen}, true
}

func (s *Service) cacheGet(ctx context.Context, key cache.Key) (*cache.Entry, bool) {
	e, ok, err := s.cache.Get(ctx, key)
	result := "miss"
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("slot cache read failed")
		result = "error"
	case ok:
		result = "hit"
	}
	if s.metrics != nil {
		s.metrics.SlotCacheRequests.WithLabelValues(result).Inc()
	}
	return e, ok && err == nil
}

func (s *Service) cacheSet(ctx context.Context, key cache.Key, cacheable bool, res *SlotResult) {
	if !cacheable {
		return
	}
	if err := s.cache.Set(ctx, key, &cache.Entry{Starts: res.Slots, Code: string(res.Code)}); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("slot cache write failed")
	}
}

// changed drops cached slots for the doctor and tells other replicas to do
// the same. Failures are logged: the database stays authoritative.
func (s *Service) changed(ctx context.Context, kind events.Kind, doctorID, resourceID uuid.UUID) {
	tenant := db.TenantFromContext(ctx)
	if err := s.cache.InvalidateDoctor(ctx, tenant, doctorID); err != nil {
		s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache invalidation failed")
	}
	err := s.publisher.Publish(ctx, events.Event{
		Kind:       kind,
		Tenant:     tenant,
		DoctorID:   doctorID,
		ResourceID: resourceID,
		OccurredAt: s.now().UTC(),
	})
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("publish change event failed")
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(string(kind), status).Inc()
	}
}

// HandleEvent applies a change event published by another replica.
func (s *Service) HandleEvent(ctx context.Context, e events.Event) error {
	if e.DoctorID == uuid.Nil {
		return nil
	}
	return s.cache.InvalidateDoctor(ctx, e.Tenant, e.DoctorID)
}

// -- Schedule --

func (s *Service) anchor() time.Time {
	return availability.WeekAnchor(s.now())
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// RulesToLocalView renders rules in the named zone.
func (s *Service) RulesToLocalView(rules []availability.Rule, tz string) ([]availability.LocalSelection, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	return availability.ToLocalSelections(rules, loc, s.anchor())
}

// LocalViewToRules converts selections in the named zone to UTC rules.
func (s *Service) LocalViewToRules(selections []availability.LocalSelection, tz string) ([]availability.Rule, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}
	return availability.ToUTCRules(selections, loc, s.anchor())
}

// GetScheduleView loads a doctor's schedule and renders it in tz, falling
// back to the schedule's own timezone label when tz is empty.
func (s *Service) GetScheduleView(ctx context.Context, doctorID uuid.UUID, tz string) (*ScheduleView, error) {
	if _, err := s.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	sched, err := s.schedules.GetByDoctor(ctx, doctorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	view := &ScheduleView{Schedule: sched, Timezone: tz, Rules: []availability.Rule{}}
	if view.Timezone == "" && sched != nil {
		view.Timezone = sched.Timezone
	}
	if sched != nil {
		if view.Rules, err = s.schedules.ListRulesByDoctor(ctx, doctorID); err != nil {
			return nil, err
		}
	}
	if len(view.Rules) == 0 {
		view.Code = availability.CodeNoScheduleFound
	}
	if view.Selections, err = s.RulesToLocalView(view.Rules, view.Timezone); err != nil {
		return nil, err
	}
	return view, nil
}

// ReplaceSchedule converts the local selections to UTC rules and swaps the
// doctor's entire rule set atomically.
func (s *Service) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, in ScheduleInput) (*ScheduleView, error) {
	if _, err := s.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if in.Timezone == "" {
		return nil, fmt.Errorf("%w: timezone is required", ErrInvalidInput)
	}
	rules, err := s.LocalViewToRules(in.Selections, in.Timezone)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Default"
	}
	sched := &Schedule{DoctorID: doctorID, Name: name, Timezone: in.Timezone}
	if err := s.schedules.ReplaceRules(ctx, sched, rules); err != nil {
		return nil, fmt.Errorf("replace rules: %w", err)
	}
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Int("rules", len(rules)).
		Str("timezone", in.Timezone).
		Msg("schedule replaced")
	s.changed(ctx, events.KindScheduleReplaced, doctorID, sched.ID)

	selections, err := s.RulesToLocalView(rules, in.Timezone)
	if err != nil {
		return nil, err
	}
	view := &ScheduleView{Schedule: sched, Timezone: in.Timezone, Rules: rules, Selections: selections}
	if len(rules) == 0 {
		view.Code = availability.CodeNoScheduleFound
	}
	return view, nil
}

// -- Booking --

// CreateBooking books the slot starting at req.StartUTC if it is one of
// the doctor's offered slots for the service and overlaps no blocking
// booking.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (*Booking, error) {
	b, err := s.createBooking(ctx, req)
	if s.metrics != nil {
		outcome := "created"
		switch {
		case errors.Is(err, ErrBookingConflict):
			outcome = "conflict"
		case errors.Is(err, ErrSlotUnavailable):
			outcome = "unavailable"
		case err != nil:
			outcome = "error"
		}
		s.metrics.Bookings.WithLabelValues(outcome).Inc()
	}
	return b, err
}

func (s *Service) createBooking(ctx context.Context, req BookingRequest) (*Booking, error) {
	if req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	if req.ServiceID == uuid.Nil {
		return nil, fmt.Errorf("%w: service_id is required", ErrInvalidInput)
	}
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if req.StartUTC.IsZero() {
		return nil, fmt.Errorf("%w: start_utc is required", ErrInvalidInput)
	}

	ms, err := s.serviceFor(ctx, req.DoctorID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	start := req.StartUTC.UTC()
	end := start.Add(time.Duration(ms.DurationMinutes) * time.Minute)

	rules, err := s.schedules.ListRulesByDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	offered, err := isOffered(rules, start, end, ms.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if !offered {
		return nil, ErrSlotUnavailable
	}

	b := &Booking{
		DoctorID:  req.DoctorID,
		ServiceID: req.ServiceID,
		PatientID: req.PatientID,
		StartUTC:  start,
		EndUTC:    end,
		Status:    BookingPending,
		Notes:     req.Notes,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("doctor_id", b.DoctorID.String()).
		Time("start_utc", b.StartUTC).
		Msg("booking created")
	s.changed(ctx, events.KindBookingCreated, b.DoctorID, b.ID)
	return b, nil
}

// isOffered checks the slot against the generation for its own UTC date
// and for the previous date, whose midnight-crossing windows spill over.
func isOffered(rules []availability.Rule, start, end time.Time, durationMinutes int) (bool, error) {
	day := availability.DateUTC(start)
	for _, d := range []time.Time{day.AddDate(0, 0, -1), day} {
		slots, err := availability.GenerateSlots(rules, d, durationMinutes)
		if err != nil {
			return false, err
		}
		if availability.Contains(slots, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// UpdateBookingStatus moves a booking along its lifecycle. Terminal
// statuses cannot change.
func (s *Service) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status string) (*Booking, error) {
	if !validBookingStatuses[status] {
		return nil, fmt.Errorf("%w: invalid booking status %s", ErrInvalidInput, status)
	}
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !bookingTransitions[b.Status][status] {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, b.Status, status)
	}
	if err := s.bookings.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	b.Status = status
	b.UpdatedAt = s.now().UTC()
	s.changed(ctx, events.KindBookingStatusChanged, b.DoctorID, b.ID)
	return b, nil
}

// CancelBooking cancels on behalf of "patient" or "doctor".
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID, by string) (*Booking, error) {
	switch by {
	case "patient":
		return s.UpdateBookingStatus(ctx, id, BookingCancelledByPatient)
	case "doctor":
		return s.UpdateBookingStatus(ctx, id, BookingCancelledByDoctor)
	default:
		return nil, fmt.Errorf("%w: cancelled_by must be patient or doctor, got %q", ErrInvalidInput, by)
	}
}

// ListBookings pages through bookings matching f, newest first.
func (s *Service) ListBookings(ctx context.Context, f BookingFilter, limit, offset int) ([]*CalendarEntry, int, error) {
	if f.Status != "" && !validBookingStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: invalid booking status %s", ErrInvalidInput, f.Status)
	}
	return s.bookings.List(ctx, f, limit, offset)
}

// -- Calendar --

const maxCalendarRange = 92 * 24 * time.Hour

// ListCalendar lists bookings of every doctor intersecting [from, to).
func (s *Service) ListCalendar(ctx context.Context, from, to time.Time, limit, offset int) ([]*CalendarEntry, int, error) {
	if !from.Before(to) {
		return nil, 0, fmt.Errorf("%w: start must be before end", ErrInvalidInput)
	}
	if to.Sub(from) > maxCalendarRange {
		return nil, 0, fmt.Errorf("%w: range must not exceed 92 days", ErrInvalidInput)
	}
	return s.bookings.ListBetween(ctx, uuid.Nil, from.UTC(), to.UTC(), limit, offset)
}

// TodaysAppointments lists bookings overlapping the current calendar day
// in tz. A nil doctorID lists every doctor.
func (s *Service) TodaysAppointments(ctx context.Context, doctorID uuid.UUID, tz string, limit, offset int) ([]*CalendarEntry, int, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return nil, 0, err
	}
	y, m, d := s.now().In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return s.bookings.ListBetween(ctx, doctorID, from.UTC(), from.AddDate(0, 0, 1).UTC(), limit, offset)
}
