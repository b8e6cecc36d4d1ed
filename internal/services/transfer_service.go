// Package services – TransferService
//
// This file implements the transfer workflow state machine. A transfer moves
// through requested → approved → in-transit → delivered, with side branches
// to rejected (losing bids) and cancelled (any non-terminal state). The
// service owns the single-winner rule: approving one request atomically
// rejects every competing request for the same vehicle and claims the vehicle
// row. All multi-row effects run inside one GORM transaction with the vehicle
// row locked, so concurrent approvals serialize and the loser observes a
// transfer that already left "requested".
//
// Activity records and notification events are emitted after commit; their
// failures are logged and never roll back the transition that produced them.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
	"github.com/vantagemotors/go-dealer-backend/internal/notify"
	"github.com/vantagemotors/go-dealer-backend/internal/repo"
)

// autoRejectReason is stamped on losing bids when a sibling is approved.
const autoRejectReason = "another transfer request was approved for this vehicle"

// Roles understood by the workflow. Role provisioning is the identity
// layer's concern; the service only compares strings it is handed.
const (
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// Actor describes the authenticated user on whose behalf an operation runs.
type Actor struct {
	UserID     string
	LocationID string
	Role       string
}

// privileged reports whether the actor may act on any location's transfers.
func (a Actor) privileged() bool { return a.Role == RoleManager || a.Role == RoleAdmin }

// TransferService implements the workflow operations. It is stateless
// between calls; every operation opens its own transaction.
type TransferService struct {
	DB         *gorm.DB
	Dispatcher notify.Dispatcher

	// Now is the clock; tests override it. Defaults to time.Now (UTC).
	Now func() time.Time
}

// NewTransferService constructs a TransferService with a real clock.
func NewTransferService(db *gorm.DB, d notify.Dispatcher) *TransferService {
	return &TransferService{DB: db, Dispatcher: d, Now: func() time.Time { return time.Now().UTC() }}
}

func (s *TransferService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// RequestInput carries the parameters of a new transfer request.
type RequestInput struct {
	VehicleID    string
	ToLocationID string
	RequestedBy  Actor
	Details      string
}

// Request files a new transfer request for a vehicle on behalf of a location.
//
// Preconditions:
//   - the vehicle exists and its status is available or claimed (claimed is
//     allowed so locations can bid against a not-yet-moved approval);
//   - the destination location exists and differs from the vehicle's current
//     location.
//
// The vehicle row is not touched: competing requests coexist until one is
// approved. The number of competing requests open at creation time is
// recorded on the row for audit purposes only.
func (s *TransferService) Request(ctx context.Context, in RequestInput) (*domain.Transfer, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "Request",
		trace.WithAttributes(
			attribute.String("vehicle.id", in.VehicleID),
			attribute.String("to_location.id", in.ToLocationID),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.RequestedBy.LocationID) == "" {
		return nil, ErrForbidden
	}
	if _, err := repo.GetLocation(ctx, s.DB, in.ToLocationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	var created *domain.Transfer
	var vehicle *domain.Vehicle
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := repo.GetVehicleForUpdate(tx, in.VehicleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVehicleNotFound
			}
			return err
		}
		if v.Status != domain.VehicleAvailable && v.Status != domain.VehicleClaimed {
			return ErrVehicleUnavailable
		}
		if v.LocationID == in.ToLocationID {
			return ErrSameLocation
		}

		competing, err := repo.CountRequestedForVehicle(ctx, tx, v.ID)
		if err != nil {
			return err
		}

		t := &domain.Transfer{
			VehicleID:         v.ID,
			FromLocationID:    v.LocationID,
			ToLocationID:      in.ToLocationID,
			RequestedByID:     in.RequestedBy.UserID,
			Status:            domain.TransferRequested,
			Details:           strings.TrimSpace(in.Details),
			CompetingRequests: int(competing),
			RequestedAt:       s.now(),
		}
		if err := repo.CreateTransfer(ctx, tx, t); err != nil {
			return err
		}
		created, vehicle = t, v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, vehicle.ID, in.RequestedBy.UserID, "transfer_requested",
		fmt.Sprintf("transfer of %s requested by location %s", vehicle.VIN, in.ToLocationID),
		map[string]any{"transfer_id": created.ID, "competing_requests": created.CompetingRequests})
	s.dispatch(ctx, notify.EventTransferRequested, created, vehicle, in.RequestedBy.UserID)
	return created, nil
}

// Approve accepts one requested transfer and, in the same transaction,
// rejects every competing request for the vehicle and claims the vehicle row
// (status=claimed, current_transfer_id=this transfer). After a successful
// return the vehicle has exactly one non-terminal transfer.
//
// Authorization: the approver must belong to the transfer's from-location or
// hold a privileged role.
func (s *TransferService) Approve(ctx context.Context, transferID string, approver Actor) (*domain.Transfer, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "Approve",
		trace.WithAttributes(attribute.String("transfer.id", transferID)),
	)
	defer span.End()

	var approved *domain.Transfer
	var vehicle *domain.Vehicle
	var losers []domain.Transfer

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetTransferForUpdate(tx, transferID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransferNotFound
			}
			return err
		}
		if !approver.privileged() && approver.LocationID != t.FromLocationID {
			return ErrForbidden
		}
		if t.Status != domain.TransferRequested {
			return ErrInvalidTransition
		}

		// Lock the vehicle row: this is the serialization point against
		// sibling approvals and against reconciliation of the same vehicle.
		v, err := repo.GetVehicleForUpdate(tx, t.VehicleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVehicleNotFound
			}
			return err
		}

		now := s.now()

		// Losing bids are rejected before the approval is persisted so a
		// failure here aborts the whole operation.
		siblings, err := repo.ListRequestedSiblings(tx, t.VehicleID, t.ID)
		if err != nil {
			return err
		}
		for i := range siblings {
			sib := &siblings[i]
			if err := domain.ApplyTransition(sib, domain.TransferRejected, now); err != nil {
				return err
			}
			reason := autoRejectReason
			sib.RejectionReason = &reason
			if err := repo.SaveTransfer(ctx, tx, sib); err != nil {
				return err
			}
		}

		if err := domain.ApplyTransition(t, domain.TransferApproved, now); err != nil {
			return ErrInvalidTransition
		}
		t.ApprovedByID = &approver.UserID
		if err := repo.SaveTransfer(ctx, tx, t); err != nil {
			return err
		}

		if err := repo.UpdateVehicleFields(ctx, tx, v.ID, map[string]any{
			"status":              domain.VehicleClaimed,
			"current_transfer_id": t.ID,
		}); err != nil {
			return err
		}
		v.Status = domain.VehicleClaimed
		v.CurrentTransferID = &t.ID

		approved, vehicle, losers = t, v, siblings
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, vehicle.ID, approver.UserID, "transfer_approved",
		fmt.Sprintf("transfer %s approved; %d competing request(s) auto-rejected", approved.ID, len(losers)),
		map[string]any{"transfer_id": approved.ID, "auto_rejected": len(losers)})
	s.dispatch(ctx, notify.EventTransferApproved, approved, vehicle, approver.UserID)
	for i := range losers {
		s.dispatch(ctx, notify.EventTransferAutoRejected, &losers[i], vehicle, approver.UserID)
	}
	return approved, nil
}

// Reject declines a requested transfer with a mandatory reason. The vehicle
// is untouched: a requested transfer never claimed it.
//
// Authorization mirrors Approve: from-location or privileged role.
func (s *TransferService) Reject(ctx context.Context, transferID string, rejecter Actor, reason string) (*domain.Transfer, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "Reject",
		trace.WithAttributes(attribute.String("transfer.id", transferID)),
	)
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var rejected *domain.Transfer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetTransferForUpdate(tx, transferID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransferNotFound
			}
			return err
		}
		if !rejecter.privileged() && rejecter.LocationID != t.FromLocationID {
			return ErrForbidden
		}
		if t.Status != domain.TransferRequested {
			return ErrInvalidTransition
		}
		if err := domain.ApplyTransition(t, domain.TransferRejected, s.now()); err != nil {
			return ErrInvalidTransition
		}
		t.RejectionReason = &reason
		if err := repo.SaveTransfer(ctx, tx, t); err != nil {
			return err
		}
		rejected = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, rejected.VehicleID, rejecter.UserID, "transfer_rejected", reason,
		map[string]any{"transfer_id": rejected.ID})
	s.dispatch(ctx, notify.EventTransferRejected, rejected, nil, rejecter.UserID)
	return rejected, nil
}

// Cancel withdraws a transfer from any non-terminal state with a mandatory
// reason. If the transfer owned the vehicle (claimed or in transit), the
// vehicle is returned to the available pool in the same transaction.
//
// Authorization: the original requester, or a privileged role.
func (s *TransferService) Cancel(ctx context.Context, transferID string, canceller Actor, reason string) (*domain.Transfer, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("transfer.id", transferID)),
	)
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var cancelled *domain.Transfer
	var vehicle *domain.Vehicle
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetTransferForUpdate(tx, transferID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransferNotFound
			}
			return err
		}
		if !canceller.privileged() && canceller.UserID != t.RequestedByID {
			return ErrForbidden
		}
		if t.Status.Terminal() || t.Status == domain.TransferDelivered {
			return ErrInvalidTransition
		}
		if err := domain.ApplyTransition(t, domain.TransferCancelled, s.now()); err != nil {
			return ErrInvalidTransition
		}
		t.CancellationReason = &reason
		if err := repo.SaveTransfer(ctx, tx, t); err != nil {
			return err
		}

		v, err := repo.GetVehicleForUpdate(tx, t.VehicleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVehicleNotFound
			}
			return err
		}
		// Only release the vehicle if this transfer actually owned it.
		if v.CurrentTransferID != nil && *v.CurrentTransferID == t.ID &&
			(v.Status == domain.VehicleClaimed || v.Status == domain.VehicleInTransit) {
			if err := repo.UpdateVehicleFields(ctx, tx, v.ID, map[string]any{
				"status":              domain.VehicleAvailable,
				"current_transfer_id": nil,
			}); err != nil {
				return err
			}
			v.Status = domain.VehicleAvailable
			v.CurrentTransferID = nil
		}
		cancelled, vehicle = t, v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, cancelled.VehicleID, canceller.UserID, "transfer_cancelled", reason,
		map[string]any{"transfer_id": cancelled.ID})
	s.dispatch(ctx, notify.EventTransferCancelled, cancelled, vehicle, canceller.UserID)
	return cancelled, nil
}

// AdvanceToInTransit moves an approved transfer into transit. The vehicle
// stays claimed by the transfer; no vehicle fields change.
func (s *TransferService) AdvanceToInTransit(ctx context.Context, transferID string, actor Actor) (*domain.Transfer, error) {
	return s.advance(ctx, transferID, actor, domain.TransferInTransit, notify.EventTransferInTransit)
}

// AdvanceToDelivered completes an in-transit transfer. The vehicle moves to
// the destination location with status=delivered; current_transfer_id is
// retained until the delivered-reset sweep returns it to the pool.
func (s *TransferService) AdvanceToDelivered(ctx context.Context, transferID string, actor Actor) (*domain.Transfer, error) {
	return s.advance(ctx, transferID, actor, domain.TransferDelivered, notify.EventTransferDelivered)
}

// advance performs the forward transitions shared by the two Advance
// operations. Authorization: either side of the transfer, or privileged.
func (s *TransferService) advance(ctx context.Context, transferID string, actor Actor, to domain.TransferStatus, event notify.EventType) (*domain.Transfer, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "Advance",
		trace.WithAttributes(
			attribute.String("transfer.id", transferID),
			attribute.String("to_status", string(to)),
		),
	)
	defer span.End()

	var advanced *domain.Transfer
	var vehicle *domain.Vehicle
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetTransferForUpdate(tx, transferID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransferNotFound
			}
			return err
		}
		if !actor.privileged() && actor.LocationID != t.FromLocationID && actor.LocationID != t.ToLocationID {
			return ErrForbidden
		}
		if err := domain.ApplyTransition(t, to, s.now()); err != nil {
			return ErrInvalidTransition
		}
		if err := repo.SaveTransfer(ctx, tx, t); err != nil {
			return err
		}

		if to == domain.TransferDelivered {
			v, err := repo.GetVehicleForUpdate(tx, t.VehicleID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrVehicleNotFound
				}
				return err
			}
			if err := repo.UpdateVehicleFields(ctx, tx, v.ID, map[string]any{
				"status":      domain.VehicleDelivered,
				"location_id": t.ToLocationID,
			}); err != nil {
				return err
			}
			v.Status = domain.VehicleDelivered
			v.LocationID = t.ToLocationID
			vehicle = v
		}
		advanced = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, advanced.VehicleID, actor.UserID, "transfer_"+strings.ReplaceAll(string(to), "-", "_"),
		fmt.Sprintf("transfer %s advanced to %s", advanced.ID, to),
		map[string]any{"transfer_id": advanced.ID})
	s.dispatch(ctx, event, advanced, vehicle, actor.UserID)
	return advanced, nil
}

// ResetStaleDelivered returns vehicles delivered more than olderThanDays ago
// to the available pool: current_transfer_id is cleared and status set back
// to available. Only transfers in terminal delivered state qualify. The
// external scheduler calls this periodically (3 days in production).
//
// Per-vehicle failures are logged and skipped; the sweep returns how many
// vehicles it reset.
func (s *TransferService) ResetStaleDelivered(ctx context.Context, olderThanDays int) (int, error) {
	tr := otel.Tracer("services/TransferService")
	ctx, span := tr.Start(ctx, "ResetStaleDelivered",
		trace.WithAttributes(attribute.Int("older_than_days", olderThanDays)),
	)
	defer span.End()

	if olderThanDays < 0 {
		olderThanDays = 0
	}
	cutoff := s.now().AddDate(0, 0, -olderThanDays)

	var reset []domain.Transfer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale, err := repo.ListStaleDelivered(tx, cutoff)
		if err != nil {
			return err
		}
		for i := range stale {
			t := &stale[i]
			if t.Status != domain.TransferDelivered {
				continue
			}
			if err := repo.UpdateVehicleFields(ctx, tx, t.VehicleID, map[string]any{
				"status":              domain.VehicleAvailable,
				"current_transfer_id": nil,
			}); err != nil {
				log.Warn().Err(err).
					Str("transfer_id", t.ID).
					Str("vehicle_id", t.VehicleID).
					Msg("delivered-reset sweep: vehicle update failed")
				continue
			}
			reset = append(reset, *t)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := range reset {
		t := &reset[i]
		s.recordActivity(ctx, t.VehicleID, "system", "vehicle_reset_available",
			fmt.Sprintf("vehicle released %d day(s) after delivery on transfer %s", olderThanDays, t.ID),
			map[string]any{"transfer_id": t.ID})
		s.dispatch(ctx, notify.EventVehicleReset, t, nil, "system")
	}
	return len(reset), nil
}

// recordActivity appends an audit row outside the owning transaction.
// Activity is a side effect, never a precondition: failures are logged only.
func (s *TransferService) recordActivity(ctx context.Context, vehicleID, userID, action, details string, metadata map[string]any) {
	if _, err := repo.RecordActivity(ctx, s.DB, vehicleID, userID, action, details, metadata); err != nil {
		log.Warn().Err(err).
			Str("vehicle_id", vehicleID).
			Str("action", action).
			Msg("activity record failed")
	}
}

// dispatch emits a post-commit notification event; failures are logged only.
func (s *TransferService) dispatch(ctx context.Context, ev notify.EventType, t *domain.Transfer, v *domain.Vehicle, actorID string) {
	if s.Dispatcher == nil {
		return
	}
	err := s.Dispatcher.Dispatch(ctx, notify.Event{
		Type:       ev,
		Transfer:   t,
		Vehicle:    v,
		ActorID:    actorID,
		OccurredAt: s.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("event", string(ev)).Msg("notification dispatch failed")
	}
}
