package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/availability"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrServiceNotFound         = errors.New("service not found")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrPatientExists           = errors.New("patient already exists")
	ErrServiceInUse            = errors.New("service has bookings")
	ErrInvalidTimezone         = errors.New("invalid timezone")
	ErrSlotUnavailable         = errors.New("requested time is not an offered slot")
	ErrBookingConflict         = errors.New("requested time overlaps an existing booking")
	ErrInvalidStatusTransition = errors.New("invalid booking status transition")
)

// Doctor maps to the doctors table.
type Doctor struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MedicalService maps to the services table. DurationMinutes is the slot
// length used for availability.
type MedicalService struct {
	ID              uuid.UUID `db:"id" json:"id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Name            string    `db:"name" json:"name"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	ConsultationFee float64   `db:"consultation_fee" json:"consultation_fee"`
	Currency        string    `db:"currency" json:"currency"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "INR": true,
}

// Patient maps to the patients table. Bookings reference patients by id;
// a patient's user id is their patient id. DateOfBirth is yyyy-MM-dd.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Email       *string   `db:"email" json:"email,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	DateOfBirth *string   `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Schedule maps to the schedules table. A doctor has at most one schedule;
// Timezone is the label the doctor edits in and is not used for slot math.
type Schedule struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Name      string    `db:"name" json:"name"`
	Timezone  string    `db:"timezone" json:"timezone"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleView is a schedule with its stored rules and their rendering in
// a caller's time zone.
type ScheduleView struct {
	Schedule   *Schedule                     `json:"schedule,omitempty"`
	Timezone   string                        `json:"timezone"`
	Rules      []availability.Rule           `json:"rules"`
	Selections []availability.LocalSelection `json:"selections"`
	Code       availability.Code             `json:"code,omitempty"`
}

// ScheduleInput is a full replacement of a doctor's weekly availability,
// expressed in local time.
type ScheduleInput struct {
	Name       string                        `json:"name"`
	Timezone   string                        `json:"timezone"`
	Selections []availability.LocalSelection `json:"selections"`
}

// Booking statuses.
const (
	BookingPending            = "pending"
	BookingConfirmed          = "confirmed"
	BookingCompleted          = "completed"
	BookingCancelledByPatient = "cancelled_by_patient"
	BookingCancelledByDoctor  = "cancelled_by_doctor"
	BookingNoShow             = "no_show"
)

var validBookingStatuses = map[string]bool{
	BookingPending: true, BookingConfirmed: true, BookingCompleted: true,
	BookingCancelledByPatient: true, BookingCancelledByDoctor: true, BookingNoShow: true,
}

// BlockingStatuses are the statuses whose bookings occupy their interval.
var BlockingStatuses = []string{BookingPending, BookingConfirmed, BookingCompleted, BookingNoShow}

var bookingTransitions = map[string]map[string]bool{
	BookingPending: {
		BookingConfirmed: true, BookingCancelledByPatient: true, BookingCancelledByDoctor: true,
	},
	BookingConfirmed: {
		BookingCompleted: true, BookingNoShow: true,
		BookingCancelledByPatient: true, BookingCancelledByDoctor: true,
	},
}

// Booking maps to the bookings table.
type Booking struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	ServiceID uuid.UUID `db:"service_id" json:"service_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	StartUTC  time.Time `db:"start_utc" json:"start_utc"`
	EndUTC    time.Time `db:"end_utc" json:"end_utc"`
	Status    string    `db:"status" json:"status"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Blocks reports whether the booking still occupies its interval.
func (b *Booking) Blocks() bool {
	for _, s := range BlockingStatuses {
		if b.Status == s {
			return true
		}
	}
	return false
}

func (b *Booking) interval() availability.Booking {
	return availability.Booking{DoctorID: b.DoctorID.String(), StartUTC: b.StartUTC, EndUTC: b.EndUTC}
}

// BookingRequest asks for the slot starting at StartUTC.
type BookingRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	ServiceID uuid.UUID `json:"service_id"`
	PatientID uuid.UUID `json:"patient_id"`
	StartUTC  time.Time `json:"start_utc"`
	Notes     *string   `json:"notes,omitempty"`
}

// CalendarEntry is a booking with the names a calendar needs. PatientName
// is nil for bookings made before the patient was registered.
type CalendarEntry struct {
	Booking
	DoctorName  string  `json:"doctor_name"`
	ServiceName string  `json:"service_name"`
	PatientName *string `json:"patient_name,omitempty"`
}

// BookingFilter narrows a booking listing. Zero fields match everything.
type BookingFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    string
}

// SlotResult is the outcome of an available-slot computation. Code is set
// when the list is empty for a reason other than every slot being taken.
type SlotResult struct {
	DoctorID        uuid.UUID         `json:"doctor_id"`
	ServiceID       uuid.UUID         `json:"service_id"`
	Date            string            `json:"date"`
	DurationMinutes int               `json:"duration_minutes"`
	Slots           []time.Time       `json:"slots"`
	Code            availability.Code `json:"code,omitempty"`
}
