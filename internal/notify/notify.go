// Package notify defines the outbound event contract between the transfer
// workflow and the (external) notification subsystem. Events are emitted
// after the owning database transaction commits; a dispatch failure is logged
// by the caller and never rolls back the state transition that produced it.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
)

// EventType identifies the workflow occurrence being fanned out.
type EventType string

const (
	EventTransferRequested    EventType = "transfer.requested"
	EventTransferApproved     EventType = "transfer.approved"
	EventTransferAutoRejected EventType = "transfer.auto_rejected"
	EventTransferRejected     EventType = "transfer.rejected"
	EventTransferCancelled    EventType = "transfer.cancelled"
	EventTransferInTransit    EventType = "transfer.in_transit"
	EventTransferDelivered    EventType = "transfer.delivered"
	EventVehicleReset         EventType = "vehicle.reset_available"
)

// Event carries the committed state a notification channel needs to render a
// message. Transfer and Vehicle are snapshots taken after commit.
type Event struct {
	Type       EventType
	Transfer   *domain.Transfer
	Vehicle    *domain.Vehicle
	ActorID    string
	OccurredAt time.Time
}

// Dispatcher delivers events to interested channels (email, SMS, in-app).
// Implementations must be safe for concurrent use. Errors are advisory; the
// workflow never retries or rolls back on a failed dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher writes every event to the structured log. It is the default
// dispatcher in deployments where the real email/SMS relay is not wired up,
// and doubles as an audit of the outbound stream.
type LogDispatcher struct {
	Logger zerolog.Logger
}

// Dispatch logs the event and never fails.
func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	e := d.Logger.Info().
		Str("event", string(ev.Type)).
		Str("actor_id", ev.ActorID).
		Time("occurred_at", ev.OccurredAt)
	if ev.Transfer != nil {
		e = e.Str("transfer_id", ev.Transfer.ID).Str("transfer_status", string(ev.Transfer.Status))
	}
	if ev.Vehicle != nil {
		e = e.Str("vehicle_id", ev.Vehicle.ID).Str("vin", ev.Vehicle.VIN)
	}
	e.Msg("notification event")
	return nil
}

// NopDispatcher discards events. Useful in tests and batch tools.
type NopDispatcher struct{}

// Dispatch discards the event.
func (NopDispatcher) Dispatch(context.Context, Event) error { return nil }
