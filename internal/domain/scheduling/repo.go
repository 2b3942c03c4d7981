package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/availability"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}

type ServiceRepository interface {
	Create(ctx context.Context, s *MedicalService) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalService, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*MedicalService, error)
	// Update and Delete only touch the service when it belongs to
	// s.DoctorID (or doctorID), returning ErrNotFound otherwise.
	Update(ctx context.Context, s *MedicalService) error
	Delete(ctx context.Context, doctorID, id uuid.UUID) error
}

type PatientRepository interface {
	// Create keeps a preset p.ID so a patient can be registered under their
	// user id. A taken id returns ErrPatientExists.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Search matches q against name, email and phone. An empty q lists
	// every patient.
	Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)
}

type ScheduleRepository interface {
	GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*Schedule, error)
	ListRulesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]availability.Rule, error)
	// ReplaceRules upserts the schedule and swaps its entire rule set in one
	// transaction.
	ReplaceRules(ctx context.Context, s *Schedule, rules []availability.Rule) error
}

type BookingRepository interface {
	// Create inserts the booking unless a blocking booking for the same
	// doctor overlaps it, in which case it returns ErrBookingConflict.
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// ListByDoctorBetween returns blocking bookings intersecting [from, to).
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Booking, error)
	// ListBetween pages through bookings of any status intersecting
	// [from, to), optionally restricted to one doctor (uuid.Nil for all).
	ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]*CalendarEntry, int, error)
	// List pages through bookings matching f, newest start first.
	List(ctx context.Context, f BookingFilter, limit, offset int) ([]*CalendarEntry, int, error)
}
