// Status enums and the transition rules shared by the import reconciler and
// the transfer workflow. Both components consult this file instead of
// hard-coding status strings, so the single-owner and transfer-protection
// rules live in exactly one place.
package domain

import (
	"fmt"
	"time"
)

// VehicleStatus is the lifecycle status of a vehicle row.
type VehicleStatus string

const (
	// VehicleAvailable means the vehicle is on a lot and open to transfer
	// requests.
	VehicleAvailable VehicleStatus = "available"
	// VehicleClaimed means an approved transfer owns the vehicle.
	VehicleClaimed VehicleStatus = "claimed"
	// VehicleInTransit means the owning transfer is physically moving the
	// vehicle between locations.
	VehicleInTransit VehicleStatus = "in-transit"
	// VehicleDelivered means the owning transfer completed; the vehicle is
	// reset to available by a scheduled sweep after a grace period.
	VehicleDelivered VehicleStatus = "delivered"
	// VehicleRemoved means the vehicle dropped out of its location's feed
	// and is retained for the restore window before permanent deletion.
	VehicleRemoved VehicleStatus = "removed"
)

// Valid reports whether s is one of the known vehicle statuses.
func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleAvailable, VehicleClaimed, VehicleInTransit, VehicleDelivered, VehicleRemoved:
		return true
	}
	return false
}

// TransferStatus is the workflow state of a transfer request.
type TransferStatus string

const (
	TransferRequested TransferStatus = "requested"
	TransferApproved  TransferStatus = "approved"
	TransferInTransit TransferStatus = "in-transit"
	TransferDelivered TransferStatus = "delivered"
	TransferRejected  TransferStatus = "rejected"
	TransferCancelled TransferStatus = "cancelled"
)

// transferFlow is the directed graph of permitted workflow transitions.
// Terminal states map to an empty slice.
var transferFlow = map[TransferStatus][]TransferStatus{
	TransferRequested: {TransferApproved, TransferRejected, TransferCancelled},
	TransferApproved:  {TransferInTransit, TransferCancelled},
	TransferInTransit: {TransferDelivered, TransferCancelled},
	TransferDelivered: {},
	TransferRejected:  {},
	TransferCancelled: {},
}

// CanTransitionTo reports whether s -> to is a permitted workflow transition.
func (s TransferStatus) CanTransitionTo(to TransferStatus) bool {
	for _, next := range transferFlow[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are accepted from s.
func (s TransferStatus) Terminal() bool { return len(transferFlow[s]) == 0 }

// Active reports whether s counts against the one-active-transfer-per-vehicle
// rule. Requested bids are active in the sense that the vehicle is being
// competed for, but only approved/in-transit transfers own the vehicle row.
func (s TransferStatus) Active() bool {
	return s == TransferRequested || s == TransferApproved || s == TransferInTransit
}

// ApplyTransition mutates t to the target status and stamps the matching
// transition timestamp exactly once. It returns an error when the transition
// is not permitted from the current status; callers translate that into
// their invalid-transition sentinel.
func ApplyTransition(t *Transfer, to TransferStatus, now time.Time) error {
	if t == nil {
		return fmt.Errorf("transfer is nil")
	}
	if !t.Status.CanTransitionTo(to) {
		return fmt.Errorf("transfer %s: transition %s -> %s not permitted", t.ID, t.Status, to)
	}
	t.Status = to

	stamp := func(field **time.Time) {
		if *field == nil {
			ts := now
			*field = &ts
		}
	}
	switch to {
	case TransferApproved:
		stamp(&t.ApprovedAt)
	case TransferInTransit:
		stamp(&t.InTransitAt)
	case TransferDelivered:
		stamp(&t.DeliveredAt)
	case TransferRejected:
		stamp(&t.RejectedAt)
	case TransferCancelled:
		stamp(&t.CancelledAt)
	}
	return nil
}
