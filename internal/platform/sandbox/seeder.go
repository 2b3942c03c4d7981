// Package sandbox generates reproducible demo data for a hospital: doctors,
// the services they offer and a weekly working pattern in a local timezone.
// It is used to populate development and demo environments.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/availability"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	DoctorCount       int      `json:"doctorCount"`
	ServicesPerDoctor int      `json:"servicesPerDoctor"`
	Timezones         []string `json:"timezones"`
	Seed              int64    `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		DoctorCount:       5,
		ServicesPerDoctor: 2,
		Timezones:         []string{"UTC", "Asia/Kolkata", "Europe/London", "America/New_York"},
	}
}

// DoctorSeed is one generated doctor with everything needed to make them
// bookable.
type DoctorSeed struct {
	Name      string                        `json:"name"`
	Specialty string                        `json:"specialty"`
	Timezone  string                        `json:"timezone"`
	Services  []ServiceSeed                 `json:"services"`
	Week      []availability.LocalSelection `json:"week"`
}

type ServiceSeed struct {
	Name            string  `json:"name"`
	DurationMinutes int     `json:"durationMinutes"`
	Fee             float64 `json:"fee"`
	Currency        string  `json:"currency"`
}

var (
	givenNames  = []string{"Asha", "Rahul", "Meera", "James", "Olivia", "Noah", "Priya", "Liam", "Sara", "Arjun", "Emma", "Kabir"}
	familyNames = []string{"Rao", "Sharma", "Patel", "Smith", "Jones", "Brown", "Iyer", "Khan", "Taylor", "Nair", "Wilson", "Das"}
	specialties = []string{"General Medicine", "Cardiology", "Dermatology", "Pediatrics", "Orthopedics", "ENT", "Psychiatry"}

	serviceKinds = []struct {
		name    string
		minutes []int
		fee     []float64
	}{
		{"Consultation", []int{15, 20, 30}, []float64{25, 40, 50}},
		{"Follow-up", []int{10, 15}, []float64{15, 20}},
		{"Procedure", []int{45, 60, 90}, []float64{120, 150, 200}},
		{"Teleconsultation", []int{15, 30}, []float64{20, 30}},
	}

	// Working patterns as local ranges; the last crosses midnight.
	shiftPatterns = [][]availability.LocalRange{
		{{Start: "09:00", End: "17:00"}},
		{{Start: "09:00", End: "13:00"}, {Start: "14:00", End: "18:00"}},
		{{Start: "07:30", End: "12:30"}},
		{{Start: "20:00", End: "02:00"}},
	}

	currencies = []string{"USD", "EUR", "GBP", "INR"}
)

// DataGenerator draws demo values from a seeded source, so one seed always
// yields the same hospital.
type DataGenerator struct {
	rng *rand.Rand
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// GenerateWeek picks a shift pattern and applies it to a run of weekdays,
// sometimes with a Saturday half day.
func (g *DataGenerator) GenerateWeek() []availability.LocalSelection {
	pattern := shiftPatterns[g.rng.Intn(len(shiftPatterns))]
	days := availability.LocalDays[:5]
	if g.rng.Intn(3) == 0 {
		days = availability.LocalDays[:4]
	}

	week := make([]availability.LocalSelection, 0, len(days)+1)
	for _, d := range days {
		week = append(week, availability.LocalSelection{Day: d, Ranges: append([]availability.LocalRange(nil), pattern...)})
	}
	if g.rng.Intn(2) == 0 {
		week = append(week, availability.LocalSelection{
			Day:    availability.LocalDays[5],
			Ranges: []availability.LocalRange{{Start: "10:00", End: "13:00"}},
		})
	}
	return week
}

func (g *DataGenerator) GenerateServices(n int) []ServiceSeed {
	out := make([]ServiceSeed, 0, n)
	currency := g.pick(currencies)
	for _, i := range g.rng.Perm(len(serviceKinds)) {
		if len(out) == n {
			break
		}
		k := serviceKinds[i]
		j := g.rng.Intn(len(k.minutes))
		out = append(out, ServiceSeed{
			Name:            k.name,
			DurationMinutes: k.minutes[j],
			Fee:             k.fee[g.rng.Intn(len(k.fee))],
			Currency:        currency,
		})
	}
	return out
}

func (g *DataGenerator) GenerateDoctor(cfg SeedConfig) DoctorSeed {
	tz := "UTC"
	if len(cfg.Timezones) > 0 {
		tz = g.pick(cfg.Timezones)
	}
	return DoctorSeed{
		Name:      fmt.Sprintf("Dr. %s %s", g.pick(givenNames), g.pick(familyNames)),
		Specialty: g.pick(specialties),
		Timezone:  tz,
		Services:  g.GenerateServices(cfg.ServicesPerDoctor),
		Week:      g.GenerateWeek(),
	}
}

// Target receives generated data. Implementations write it through the
// normal validation path.
type Target interface {
	CreateDoctor(ctx context.Context, name, specialty string) (uuid.UUID, error)
	CreateService(ctx context.Context, doctorID uuid.UUID, s ServiceSeed) error
	SetWeek(ctx context.Context, doctorID uuid.UUID, timezone string, week []availability.LocalSelection) error
}

// SeedResult summarises a Seed run.
type SeedResult struct {
	Doctors  []uuid.UUID   `json:"doctors"`
	Services int           `json:"services"`
	Seed     int64         `json:"seed"`
	Duration time.Duration `json:"duration"`
}

type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	seed      int64
}

// NewSeeder returns a seeder for config. A zero Seed picks one from the
// clock; it is reported back in SeedResult so the run can be repeated.
func NewSeeder(config SeedConfig) *Seeder {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{generator: NewDataGenerator(seed), config: config, seed: seed}
}

// Plan generates the doctors without writing them anywhere.
func (s *Seeder) Plan() ([]DoctorSeed, error) {
	if s.config.DoctorCount <= 0 {
		return nil, fmt.Errorf("doctor count must be positive, got %d", s.config.DoctorCount)
	}
	if s.config.ServicesPerDoctor <= 0 || s.config.ServicesPerDoctor > len(serviceKinds) {
		return nil, fmt.Errorf("services per doctor must be between 1 and %d, got %d", len(serviceKinds), s.config.ServicesPerDoctor)
	}
	out := make([]DoctorSeed, 0, s.config.DoctorCount)
	for i := 0; i < s.config.DoctorCount; i++ {
		out = append(out, s.generator.GenerateDoctor(s.config))
	}
	return out, nil
}

// Seed generates the plan and writes it to target, stopping at the first
// error.
func (s *Seeder) Seed(ctx context.Context, target Target) (*SeedResult, error) {
	start := time.Now()
	plan, err := s.Plan()
	if err != nil {
		return nil, err
	}

	res := &SeedResult{Seed: s.seed}
	for _, d := range plan {
		id, err := target.CreateDoctor(ctx, d.Name, d.Specialty)
		if err != nil {
			return res, fmt.Errorf("create doctor %q: %w", d.Name, err)
		}
		res.Doctors = append(res.Doctors, id)
		for _, svc := range d.Services {
			if err := target.CreateService(ctx, id, svc); err != nil {
				return res, fmt.Errorf("create service %q for %s: %w", svc.Name, id, err)
			}
			res.Services++
		}
		if err := target.SetWeek(ctx, id, d.Timezone, d.Week); err != nil {
			return res, fmt.Errorf("set schedule for %s: %w", id, err)
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}
