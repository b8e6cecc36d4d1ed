// Package services – ReconcileService
//
// This file implements the import reconciler. Once per import cycle per
// location, the scheduler hands it the location's feed snapshot; it computes
// the difference against the stored vehicle pool and emits a Plan of
// create/update/restore/soft-delete/permanent-delete actions, then (unless
// dry-running) applies the plan in one transaction for the location.
//
// Two properties dominate the design:
//
//   - Transfer protection: a vehicle with a non-nil current_transfer_id is
//     never soft-deleted, permanently deleted, restored, or status-overwritten
//     by the reconciler, regardless of feed state. Attribute-only updates
//     (price, mileage, title fields) are still applied while it is listed.
//   - Idempotence: running the reconciler twice on unchanged input yields an
//     empty plan the second time.
//
// Per-vehicle apply failures are collected on the plan and do not abort the
// batch; only a total feed/store failure aborts the location.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
	"github.com/vantagemotors/go-dealer-backend/internal/feed"
	"github.com/vantagemotors/go-dealer-backend/internal/repo"
)

// ReconcileMode selects whether a computed plan is applied or only previewed.
type ReconcileMode string

const (
	// ModeApply executes the plan against the store.
	ModeApply ReconcileMode = "apply"
	// ModeDryRun computes the identical plan without mutating anything.
	ModeDryRun ReconcileMode = "dry-run"
)

// DefaultRetentionDays is how long a removed vehicle is retained before it
// becomes eligible for permanent deletion.
const DefaultRetentionDays = 30

// reconcileActor is the user recorded on reconciliation activity rows.
const reconcileActor = "system"

// PlanEntry describes one vehicle-level action with enough identity to
// render a human-readable diff in the import log.
type PlanEntry struct {
	VehicleID   string         `json:"vehicle_id,omitempty"`
	VIN         string         `json:"vin"`
	StockNumber string         `json:"stock_number,omitempty"`
	Year        int            `json:"year,omitempty"`
	Make        string         `json:"make,omitempty"`
	Model       string         `json:"model,omitempty"`
	Changes     map[string]any `json:"changes,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// PlanError is a collected per-vehicle failure; the batch continues past it.
type PlanError struct {
	VIN       string `json:"vin,omitempty"`
	VehicleID string `json:"vehicle_id,omitempty"`
	Op        string `json:"op"`
	Message   string `json:"message"`
}

// Plan is the full outcome of one location's reconciliation. In dry-run mode
// it is a preview; in apply mode it reflects what was executed, with
// SkippedProtected and Errors amended during the apply.
type Plan struct {
	LocationID       string        `json:"location_id"`
	Mode             ReconcileMode `json:"mode"`
	GeneratedAt      time.Time     `json:"generated_at"`
	Creates          []PlanEntry   `json:"creates"`
	Updates          []PlanEntry   `json:"updates"`
	Restores         []PlanEntry   `json:"restores"`
	SoftDeletes      []PlanEntry   `json:"soft_deletes"`
	PermanentDeletes []PlanEntry   `json:"permanent_deletes"`
	SkippedProtected []PlanEntry   `json:"skipped_protected"`
	Errors           []PlanError   `json:"errors"`
}

// Empty reports whether the plan carries no actions at all. A second
// reconciliation over unchanged input must produce an empty plan.
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Restores) == 0 &&
		len(p.SoftDeletes) == 0 && len(p.PermanentDeletes) == 0
}

// ReconcileService implements feed-vs-store reconciliation for one location
// at a time. Locations are the unit of isolation: concurrent runs for
// different locations never touch the same rows.
type ReconcileService struct {
	DB     *gorm.DB
	Source feed.Source

	// RetentionDays overrides the removed-vehicle retention window.
	// Zero means DefaultRetentionDays.
	RetentionDays int

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewReconcileService constructs a ReconcileService with the default
// retention window and a real clock.
func NewReconcileService(db *gorm.DB, src feed.Source) *ReconcileService {
	return &ReconcileService{
		DB:            db,
		Source:        src,
		RetentionDays: DefaultRetentionDays,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReconcileService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *ReconcileService) retention() time.Duration {
	days := s.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ReconcileFromFeed fetches the location's snapshot from the configured
// Source and reconciles it. An unreadable feed aborts the run with
// ErrFeedUnavailable: the reconciler never treats an absent feed as an empty
// lot, and a dry-run preview without a real snapshot would be fiction.
func (s *ReconcileService) ReconcileFromFeed(ctx context.Context, locationID string, mode ReconcileMode) (*Plan, error) {
	loc, err := repo.GetLocation(ctx, s.DB, locationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	snapshot, err := s.Source.FetchSnapshot(ctx, loc.Code)
	if err != nil {
		if errors.Is(err, feed.ErrUnavailable) {
			return nil, fmt.Errorf("%w: location %s: %v", ErrFeedUnavailable, loc.Code, err)
		}
		return nil, err
	}
	return s.Reconcile(ctx, locationID, snapshot, mode)
}

// Reconcile computes the action plan for locationID against snapshot and, in
// apply mode, executes it. The same Plan shape is returned either way so the
// dry-run preview is structurally identical to what an apply would do.
func (s *ReconcileService) Reconcile(ctx context.Context, locationID string, snapshot []feed.Record, mode ReconcileMode) (*Plan, error) {
	tr := otel.Tracer("services/ReconcileService")
	ctx, span := tr.Start(ctx, "Reconcile",
		trace.WithAttributes(
			attribute.String("location.id", locationID),
			attribute.String("mode", string(mode)),
			attribute.Int("snapshot_size", len(snapshot)),
		),
	)
	defer span.End()

	if mode != ModeApply && mode != ModeDryRun {
		return nil, fmt.Errorf("unknown reconcile mode %q", mode)
	}
	if _, err := repo.GetLocation(ctx, s.DB, locationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	stored, err := repo.ListVehiclesByLocation(ctx, s.DB, locationID)
	if err != nil {
		return nil, fmt.Errorf("loading stored vehicles: %w", err)
	}

	byVIN := feed.ByVIN(snapshot)
	plan, err := s.buildPlan(ctx, locationID, stored, byVIN, mode)
	if err != nil {
		return nil, err
	}

	if mode == ModeApply {
		if err := s.apply(ctx, locationID, plan, byVIN); err != nil {
			return nil, err
		}
		log.Info().
			Str("location_id", locationID).
			Int("creates", len(plan.Creates)).
			Int("updates", len(plan.Updates)).
			Int("restores", len(plan.Restores)).
			Int("soft_deletes", len(plan.SoftDeletes)).
			Int("permanent_deletes", len(plan.PermanentDeletes)).
			Int("skipped_protected", len(plan.SkippedProtected)).
			Int("errors", len(plan.Errors)).
			Msg("reconciliation applied")
	}
	return plan, nil
}

// buildPlan partitions stored vehicles against the snapshot and classifies
// every VIN into exactly one action. Entries are deterministic: stored
// vehicles arrive VIN-ordered from the repository and unmatched feed VINs are
// appended in snapshot iteration order over that same ordering.
func (s *ReconcileService) buildPlan(ctx context.Context, locationID string, stored []domain.Vehicle, byVIN map[string]feed.Record, mode ReconcileMode) (*Plan, error) {
	now := s.now()
	plan := &Plan{LocationID: locationID, Mode: mode, GeneratedAt: now}

	matched := make(map[string]bool, len(stored))

	for i := range stored {
		v := &stored[i]
		rec, listed := byVIN[v.VIN]
		if listed {
			matched[v.VIN] = true
		}

		switch {
		case listed && v.Status == domain.VehicleRemoved:
			// A removed vehicle reappearing in the feed is restored, never
			// recreated and never purged: restore wins over retention expiry.
			if v.UnderActiveTransfer() {
				plan.SkippedProtected = append(plan.SkippedProtected, entryFor(v, "active transfer; restore suppressed"))
				continue
			}
			e := entryFor(v, "vin reappeared in feed")
			e.Changes = diffAttributes(v, rec)
			plan.Restores = append(plan.Restores, e)

		case listed:
			// Still listed: attribute-only updates. Status and
			// current_transfer_id are never touched on this path, so claimed
			// and in-transit vehicles keep receiving price/mileage changes.
			if changes := diffAttributes(v, rec); len(changes) > 0 {
				e := entryFor(v, "")
				e.Changes = changes
				plan.Updates = append(plan.Updates, e)
			}

		case v.UnderActiveTransfer():
			// Dropped from the feed while mid-transfer: skipped entirely.
			// No status change, no removed_from_feed_at stamping.
			plan.SkippedProtected = append(plan.SkippedProtected, entryFor(v, "active transfer; feed drop ignored"))

		case v.Status == domain.VehicleRemoved:
			if v.RemovedFromFeedAt != nil && now.Sub(*v.RemovedFromFeedAt) > s.retention() {
				plan.PermanentDeletes = append(plan.PermanentDeletes,
					entryFor(v, fmt.Sprintf("removed from feed %s ago", now.Sub(*v.RemovedFromFeedAt).Round(time.Hour))))
			}
			// Still inside the retention window: already removed, no-op.

		case v.Status == domain.VehicleAvailable:
			plan.SoftDeletes = append(plan.SoftDeletes, entryFor(v, "dropped from feed"))

		default:
			// Delivered (or otherwise transitional) without an owning
			// transfer: left for the delivered-reset sweep rather than
			// soft-deleted out from under it.
		}
	}

	// Unmatched feed VINs are creates, unless the VIN exists at another
	// location (a unit removed from one lot reappearing on another's feed):
	// that is a restore-with-move, preserving original_location_id.
	var newVINs []string
	for _, rec := range byVIN {
		if !matched[rec.VIN] {
			newVINs = append(newVINs, rec.VIN)
		}
	}
	elsewhere, err := s.vehiclesByVIN(ctx, newVINs)
	if err != nil {
		return nil, fmt.Errorf("checking vins across locations: %w", err)
	}

	sort.Strings(newVINs)
	for _, vin := range newVINs {
		rec := byVIN[vin]
		if other, ok := elsewhere[vin]; ok {
			if other.UnderActiveTransfer() {
				plan.SkippedProtected = append(plan.SkippedProtected, entryFor(&other, "active transfer at another location"))
				continue
			}
			e := entryFor(&other, fmt.Sprintf("vin moved from location %s", other.LocationID))
			e.Changes = diffAttributes(&other, rec)
			plan.Restores = append(plan.Restores, e)
			continue
		}
		plan.Creates = append(plan.Creates, PlanEntry{
			VIN:         rec.VIN,
			StockNumber: rec.StockNumber,
			Year:        rec.Year,
			Make:        rec.Make,
			Model:       rec.Model,
		})
	}
	return plan, nil
}

// apply executes the plan inside one transaction for the location.
// Protection is re-checked row by row under lock: the plan may have been
// computed moments before a concurrent approval claimed a vehicle, and the
// claim must win. Per-vehicle failures are appended to plan.Errors and the
// batch continues.
func (s *ReconcileService) apply(ctx context.Context, locationID string, plan *Plan, byVIN map[string]feed.Record) error {
	now := s.now()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range plan.Creates {
			rec := byVIN[e.VIN]
			v := &domain.Vehicle{
				VIN:                rec.VIN,
				StockNumber:        rec.StockNumber,
				Year:               rec.Year,
				Make:               rec.Make,
				Model:              rec.Model,
				Trim:               rec.Trim,
				Price:              rec.Price,
				Mileage:            rec.Mileage,
				Status:             domain.VehicleAvailable,
				LocationID:         locationID,
				OriginalLocationID: locationID,
			}
			if err := repo.CreateVehicle(ctx, tx, v); err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, Op: "create", Message: err.Error()})
				continue
			}
			s.recordActivity(ctx, tx, v.ID, "vehicle_created", "imported from feed", nil)
		}

		for _, e := range plan.Updates {
			if err := repo.UpdateVehicleFields(ctx, tx, e.VehicleID, e.Changes); err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "update", Message: err.Error()})
				continue
			}
			s.recordActivity(ctx, tx, e.VehicleID, "vehicle_updated", "feed attributes changed", map[string]any{"fields": fieldNames(e.Changes)})
		}

		for _, e := range plan.Restores {
			v, err := repo.GetVehicleForUpdate(tx, e.VehicleID)
			if err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "restore", Message: err.Error()})
				continue
			}
			if v.UnderActiveTransfer() {
				plan.SkippedProtected = append(plan.SkippedProtected, entryFor(v, "claimed between plan and apply"))
				continue
			}
			fields := map[string]any{
				"status":               domain.VehicleAvailable,
				"removed_from_feed_at": nil,
				"location_id":          locationID,
			}
			for k, val := range e.Changes {
				fields[k] = val
			}
			if err := repo.UpdateVehicleFields(ctx, tx, v.ID, fields); err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "restore", Message: err.Error()})
				continue
			}
			s.recordActivity(ctx, tx, v.ID, "vehicle_restored", "vin reappeared in feed", nil)
		}

		for _, e := range plan.SoftDeletes {
			v, err := repo.GetVehicleForUpdate(tx, e.VehicleID)
			if err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "soft-delete", Message: err.Error()})
				continue
			}
			if v.UnderActiveTransfer() {
				plan.SkippedProtected = append(plan.SkippedProtected, entryFor(v, "claimed between plan and apply"))
				continue
			}
			if v.Status == domain.VehicleRemoved {
				continue // concurrent run already removed it; idempotent
			}
			if err := repo.UpdateVehicleFields(ctx, tx, v.ID, map[string]any{
				"status":               domain.VehicleRemoved,
				"removed_from_feed_at": now,
			}); err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "soft-delete", Message: err.Error()})
				continue
			}
			s.recordActivity(ctx, tx, v.ID, "vehicle_removed", "dropped from feed", nil)
		}

		for _, e := range plan.PermanentDeletes {
			v, err := repo.GetVehicleForUpdate(tx, e.VehicleID)
			if err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "permanent-delete", Message: err.Error()})
				continue
			}
			if v.UnderActiveTransfer() {
				plan.SkippedProtected = append(plan.SkippedProtected, entryFor(v, "claimed between plan and apply"))
				continue
			}
			if err := repo.DeleteVehicle(ctx, tx, v.ID); err != nil {
				plan.Errors = append(plan.Errors, PlanError{VIN: e.VIN, VehicleID: e.VehicleID, Op: "permanent-delete", Message: err.Error()})
				continue
			}
			s.recordActivity(ctx, tx, v.ID, "vehicle_purged",
				fmt.Sprintf("retained %d days after feed removal", s.RetentionDays), nil)
		}
		return nil
	})
}

// vehiclesByVIN loads vehicles matching any of vins, keyed by VIN.
func (s *ReconcileService) vehiclesByVIN(ctx context.Context, vins []string) (map[string]domain.Vehicle, error) {
	out := make(map[string]domain.Vehicle, len(vins))
	if len(vins) == 0 {
		return out, nil
	}
	var rows []domain.Vehicle
	if err := s.DB.WithContext(ctx).Where("vin IN ?", vins).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, v := range rows {
		out[v.VIN] = v
	}
	return out, nil
}

// recordActivity appends an audit row on the transaction handle. Failures
// are logged and swallowed: audit is a side effect, not a precondition.
func (s *ReconcileService) recordActivity(ctx context.Context, db *gorm.DB, vehicleID, action, details string, metadata map[string]any) {
	if _, err := repo.RecordActivity(ctx, db, vehicleID, reconcileActor, action, details, metadata); err != nil {
		log.Warn().Err(err).Str("vehicle_id", vehicleID).Str("action", action).Msg("activity record failed")
	}
}

// entryFor builds a plan entry from a stored vehicle.
func entryFor(v *domain.Vehicle, reason string) PlanEntry {
	return PlanEntry{
		VehicleID:   v.ID,
		VIN:         v.VIN,
		StockNumber: v.StockNumber,
		Year:        v.Year,
		Make:        v.Make,
		Model:       v.Model,
		Reason:      reason,
	}
}

// diffAttributes compares the tracked feed attributes of a stored vehicle
// against its feed record and returns the column changes to apply. Status
// and current_transfer_id are never part of the result.
func diffAttributes(v *domain.Vehicle, rec feed.Record) map[string]any {
	changes := make(map[string]any)
	if rec.StockNumber != "" && rec.StockNumber != v.StockNumber {
		changes["stock_number"] = rec.StockNumber
	}
	if rec.Year != 0 && rec.Year != v.Year {
		changes["year"] = rec.Year
	}
	if rec.Make != "" && rec.Make != v.Make {
		changes["make"] = rec.Make
	}
	if rec.Model != "" && rec.Model != v.Model {
		changes["model"] = rec.Model
	}
	if rec.Trim != v.Trim {
		changes["trim"] = rec.Trim
	}
	if !rec.Price.Equal(v.Price) {
		changes["price"] = rec.Price
	}
	if rec.Mileage != v.Mileage {
		changes["mileage"] = rec.Mileage
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

// fieldNames lists the keys of a change set for activity metadata.
func fieldNames(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
