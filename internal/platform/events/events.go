// Package events carries availability change notifications between replicas.
// Every write that can change a doctor's free slots publishes an Event; each
// replica consumes them and drops its cached slot lists for that doctor.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names what changed, as "<resource>.<action>".
type Kind string

const (
	KindScheduleReplaced     Kind = "schedule.replaced"
	KindServiceChanged       Kind = "service.changed"
	KindBookingCreated       Kind = "booking.created"
	KindBookingStatusChanged Kind = "booking.status_changed"
)

// RoutingPrefix is the first segment of every routing key.
const RoutingPrefix = "hms"

type Event struct {
	Kind       Kind      `json:"kind"`
	Tenant     string    `json:"tenant"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	ResourceID uuid.UUID `json:"resource_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey formats as hms.<tenant>.<resource>.<action>.
func (e Event) RoutingKey() string {
	return fmt.Sprintf("%s.%s.%s", RoutingPrefix, e.Tenant, e.Kind)
}

// RoutingKey is a parsed routing key.
type RoutingKey struct {
	Tenant   string
	Resource string
	Action   string
}

func ParseRoutingKey(key string) (RoutingKey, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 4 || parts[0] != RoutingPrefix {
		return RoutingKey{}, fmt.Errorf("invalid routing key: %s", key)
	}
	return RoutingKey{Tenant: parts[1], Resource: parts[2], Action: parts[3]}, nil
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Handler reacts to a consumed event.
type Handler func(ctx context.Context, e Event) error
