// Package cache holds computed available-slot lists keyed by doctor, service
// and date. Entries are invalidated per doctor by bumping a generation
// counter: a lookup made under an old generation never sees entries written
// after the bump, and entries written under an old generation are never read.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key identifies one computed slot list.
type Key struct {
	Tenant     string
	DoctorID   uuid.UUID
	ServiceID  uuid.UUID
	Date       string // yyyy-mm-dd
	Generation int64
}

func (k Key) String() string {
	return fmt.Sprintf("slots:%s:%s:g%d:%s:%s", k.Tenant, k.DoctorID, k.Generation, k.ServiceID, k.Date)
}

func doctorPrefix(tenant string, doctorID uuid.UUID) string {
	return fmt.Sprintf("slots:%s:%s:", tenant, doctorID)
}

// Entry is a cached computation result.
type Entry struct {
	Starts []time.Time `json:"starts"`
	Code   string      `json:"code,omitempty"`
}

// SlotCache stores computed slot lists.
type SlotCache interface {
	// Generation returns the current generation for a doctor. Callers put it
	// into the Key used for both Get and Set of one computation.
	Generation(ctx context.Context, tenant string, doctorID uuid.UUID) (int64, error)
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	Set(ctx context.Context, key Key, entry *Entry) error
	// InvalidateDoctor discards every entry for the doctor.
	InvalidateDoctor(ctx context.Context, tenant string, doctorID uuid.UUID) error
}

// Noop is a SlotCache that stores nothing.
type Noop struct{}

func (Noop) Generation(context.Context, string, uuid.UUID) (int64, error) { return 0, nil }
func (Noop) Get(context.Context, Key) (*Entry, bool, error)                 { return nil, false, nil }
func (Noop) Set(context.Context, Key, *Entry) error                         { return nil }
func (Noop) InvalidateDoctor(context.Context, string, uuid.UUID) error      { return nil }
