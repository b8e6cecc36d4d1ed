package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
	"github.com/vantagemotors/go-dealer-backend/internal/feed"
	"github.com/vantagemotors/go-dealer-backend/internal/notify"
	"github.com/vantagemotors/go-dealer-backend/internal/repo"
)

func newReconcileServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("reconcile_service_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stubSource serves canned snapshots keyed by location code.
type stubSource struct {
	snapshots map[string][]feed.Record
	err       error
}

func (s *stubSource) FetchSnapshot(_ context.Context, code string) ([]feed.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshots[code], nil
}

type reconcileFixture struct {
	db   *gorm.DB
	svc  *ReconcileService
	locA *domain.Location
	locB *domain.Location
	now  time.Time
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	db := newReconcileServiceDB(t)
	ctx := context.Background()

	locA, err := repo.CreateLocation(ctx, db, "ATL-01", "Atlanta North")
	if err != nil {
		t.Fatalf("seed location: %v", err)
	}
	locB, err := repo.CreateLocation(ctx, db, "BHM-01", "Birmingham")
	if err != nil {
		t.Fatalf("seed location: %v", err)
	}

	now := time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)
	svc := NewReconcileService(db, &stubSource{})
	svc.Now = func() time.Time { return now }
	return &reconcileFixture{db: db, svc: svc, locA: locA, locB: locB, now: now}
}

// seed inserts a vehicle whose feed attributes exactly match listing so
// reconciling against it is a no-op unless the test changes something.
func (f *reconcileFixture) seed(t *testing.T, v domain.Vehicle) *domain.Vehicle {
	t.Helper()
	if v.Status == "" {
		v.Status = domain.VehicleAvailable
	}
	if v.LocationID == "" {
		v.LocationID = f.locA.ID
	}
	if v.OriginalLocationID == "" {
		v.OriginalLocationID = v.LocationID
	}
	if err := repo.CreateVehicle(context.Background(), f.db, &v); err != nil {
		t.Fatalf("seed vehicle %s: %v", v.VIN, err)
	}
	return &v
}

func (f *reconcileFixture) listing(v *domain.Vehicle) feed.Record {
	return feed.Record{
		VIN:         v.VIN,
		StockNumber: v.StockNumber,
		Year:        v.Year,
		Make:        v.Make,
		Model:       v.Model,
		Trim:        v.Trim,
		Price:       v.Price,
		Mileage:     v.Mileage,
	}
}

func (f *reconcileFixture) reload(t *testing.T, id string) *domain.Vehicle {
	t.Helper()
	v, err := repo.GetVehicle(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("reload vehicle %s: %v", id, err)
	}
	return v
}

func baseVehicle(vin, stock string) domain.Vehicle {
	return domain.Vehicle{
		VIN:         vin,
		StockNumber: stock,
		Year:        2024,
		Make:        "Ford",
		Model:       "Bronco",
		Trim:        "Badlands",
		Price:       decimal.NewFromInt(42000),
		Mileage:     12,
	}
}

func TestReconcile_CreatesNewVINs(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	snapshot := []feed.Record{
		{VIN: "1n1nn11nnnn000001", StockNumber: "a-100", Year: 2025, Make: "honda", Model: "CIVIC", Price: decimal.NewFromInt(26500), Mileage: 8},
	}
	plan, err := f.svc.Reconcile(ctx, f.locA.ID, snapshot, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Creates) != 1 {
		t.Fatalf("plan: %+v", plan)
	}
	if len(plan.Errors) != 0 {
		t.Fatalf("errors: %+v", plan.Errors)
	}

	// The created row carries the normalized identity and the seeding defaults.
	v, err := repo.GetVehicleByVIN(ctx, f.db, "1N1NN11NNNN000001")
	if err != nil {
		t.Fatalf("created vehicle missing: %v", err)
	}
	if v.StockNumber != "A-100" || v.Make != "Honda" || v.Model != "Civic" {
		t.Fatalf("normalization: %+v", v)
	}
	if v.Status != domain.VehicleAvailable {
		t.Fatalf("status = %s", v.Status)
	}
	if v.LocationID != f.locA.ID || v.OriginalLocationID != f.locA.ID {
		t.Fatalf("location seeding: %+v", v)
	}
	if v.CurrentTransferID != nil {
		t.Fatalf("new vehicle has transfer: %+v", v)
	}
}

func TestReconcile_UpdatesChangedAttributesOnly(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	v := f.seed(t, baseVehicle("1A1AA11AAAA000001", "STK-1"))
	rec := f.listing(v)
	rec.Price = decimal.NewFromInt(39500)
	rec.Mileage = 220

	plan, err := f.svc.Reconcile(ctx, f.locA.ID, []feed.Record{rec}, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Updates) != 1 || len(plan.Creates) != 0 || len(plan.SoftDeletes) != 0 {
		t.Fatalf("plan: %+v", plan)
	}
	changes := plan.Updates[0].Changes
	if len(changes) != 2 {
		t.Fatalf("changes = %v", changes)
	}

	got := f.reload(t, v.ID)
	if !got.Price.Equal(decimal.NewFromInt(39500)) || got.Mileage != 220 {
		t.Fatalf("not applied: %+v", got)
	}
	if got.Status != domain.VehicleAvailable {
		t.Fatalf("status touched: %s", got.Status)
	}
}

func TestReconcile_SoftDeleteStampsRemovalTime(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	v := f.seed(t, baseVehicle("1A1AA11AAAA000001", "STK-1"))

	plan, err := f.svc.Reconcile(ctx, f.locA.ID, nil, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.SoftDeletes) != 1 {
		t.Fatalf("plan: %+v", plan)
	}

	got := f.reload(t, v.ID)
	if got.Status != domain.VehicleRemoved {
		t.Fatalf("status = %s", got.Status)
	}
	if got.RemovedFromFeedAt == nil || !got.RemovedFromFeedAt.Equal(f.now) {
		t.Fatalf("removed_from_feed_at = %v", got.RemovedFromFeedAt)
	}
}

func TestReconcile_SecondRunOverUnchangedInputIsEmpty(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	kept := f.seed(t, baseVehicle("1A1AA11AAAA000001", "STK-1"))
	f.seed(t, baseVehicle("1A1AA11AAAA000002", "STK-2"))

	snapshot := []feed.Record{
		f.listing(kept),
		{VIN: "1A1AA11AAAA000003", StockNumber: "STK-3", Year: 2025, Make: "Kia", Model: "Telluride", Price: decimal.NewFromInt(47000)},
	}

	first, err := f.svc.Reconcile(ctx, f.locA.ID, snapshot, ModeApply)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Empty() {
		t.Fatal("first run unexpectedly empty")
	}

	second, err := f.svc.Reconcile(ctx, f.locA.ID, snapshot, ModeApply)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Empty() {
		t.Fatalf("second run not idempotent: %+v", second)
	}
	if len(second.Errors) != 0 {
		t.Fatalf("second run errors: %+v", second.Errors)
	}
}

func TestReconcile_ActiveTransferProtectsVehicleFromFeedDrop(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	transferID := "tr-1"
	v := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000001", "STK-1")
		v.Status = domain.VehicleClaimed
		v.CurrentTransferID = &transferID
		return v
	}())

	// Dropped from the feed entirely: no soft delete, no stamping.
	plan, err := f.svc.Reconcile(ctx, f.locA.ID, nil, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("plan not empty: %+v", plan)
	}
	if len(plan.SkippedProtected) != 1 {
		t.Fatalf("skipped = %+v", plan.SkippedProtected)
	}

	got := f.reload(t, v.ID)
	if got.Status != domain.VehicleClaimed || got.CurrentTransferID == nil || got.RemovedFromFeedAt != nil {
		t.Fatalf("protected vehicle mutated: %+v", got)
	}
}

func TestReconcile_AttributeUpdatesStillFlowToClaimedVehicles(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	transferID := "tr-1"
	v := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000001", "STK-1")
		v.Status = domain.VehicleClaimed
		v.CurrentTransferID = &transferID
		return v
	}())

	rec := f.listing(v)
	rec.Price = decimal.NewFromInt(40500)

	plan, err := f.svc.Reconcile(ctx, f.locA.ID, []feed.Record{rec}, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Updates) != 1 {
		t.Fatalf("plan: %+v", plan)
	}

	got := f.reload(t, v.ID)
	if !got.Price.Equal(decimal.NewFromInt(40500)) {
		t.Fatalf("price not updated: %s", got.Price)
	}
	// The claim itself is untouchable.
	if got.Status != domain.VehicleClaimed || got.CurrentTransferID == nil || *got.CurrentTransferID != transferID {
		t.Fatalf("claim touched: %+v", got)
	}
}

func TestReconcile_RetentionWindowGatesPermanentDeletion(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	inside := f.now.Add(-30*24*time.Hour + time.Hour)
	expired := f.now.Add(-30*24*time.Hour - time.Hour)

	vInside := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000001", "STK-1")
		v.Status = domain.VehicleRemoved
		v.RemovedFromFeedAt = &inside
		return v
	}())
	vExpired := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000002", "STK-2")
		v.Status = domain.VehicleRemoved
		v.RemovedFromFeedAt = &expired
		return v
	}())

	plan, err := f.svc.Reconcile(ctx, f.locA.ID, nil, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.PermanentDeletes) != 1 || plan.PermanentDeletes[0].VehicleID != vExpired.ID {
		t.Fatalf("plan: %+v", plan)
	}

	// The expired row is gone; the one inside the window survives untouched.
	if _, err := repo.GetVehicle(ctx, f.db, vExpired.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expired vehicle still present: %v", err)
	}
	got := f.reload(t, vInside.ID)
	if got.Status != domain.VehicleRemoved || got.RemovedFromFeedAt == nil {
		t.Fatalf("retained vehicle mutated: %+v", got)
	}

	// Audit rows for the purged vehicle survive the purge.
	n, err := repo.CountActivities(ctx, f.db, vExpired.ID)
	if err != nil {
		t.Fatalf("count activities: %v", err)
	}
	if n == 0 {
		t.Fatal("purge left no audit trail")
	}
}

func TestReconcile_RestoreWinsOverRetentionExpiry(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	removedAt := f.now.Add(-45 * 24 * time.Hour)
	v := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000001", "STK-1")
		v.Status = domain.VehicleRemoved
		v.RemovedFromFeedAt = &removedAt
		return v
	}())

	plan, err := f.svc.Reconcile(ctx, f.locA.ID, []feed.Record{f.listing(v)}, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Restores) != 1 || len(plan.PermanentDeletes) != 0 || len(plan.Creates) != 0 {
		t.Fatalf("plan: %+v", plan)
	}

	got := f.reload(t, v.ID)
	if got.Status != domain.VehicleAvailable {
		t.Fatalf("status = %s", got.Status)
	}
	if got.RemovedFromFeedAt != nil {
		t.Fatalf("removal stamp not cleared: %v", got.RemovedFromFeedAt)
	}
	// Same row, not a recreation.
	if got.ID != v.ID {
		t.Fatalf("vehicle recreated: %s != %s", got.ID, v.ID)
	}
}

func TestReconcile_VINReappearingAtAnotherLocationIsMovedNotDuplicated(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	removedAt := f.now.Add(-5 * 24 * time.Hour)
	v := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000001", "STK-1")
		v.LocationID = f.locB.ID
		v.OriginalLocationID = f.locB.ID
		v.Status = domain.VehicleRemoved
		v.RemovedFromFeedAt = &removedAt
		return v
	}())

	// The VIN shows up on location A's feed.
	plan, err := f.svc.Reconcile(ctx, f.locA.ID, []feed.Record{f.listing(v)}, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Restores) != 1 || len(plan.Creates) != 0 {
		t.Fatalf("plan: %+v", plan)
	}

	got := f.reload(t, v.ID)
	if got.LocationID != f.locA.ID {
		t.Fatalf("location = %s, want A", got.LocationID)
	}
	if got.OriginalLocationID != f.locB.ID {
		t.Fatalf("original location overwritten: %s", got.OriginalLocationID)
	}
	if got.Status != domain.VehicleAvailable || got.RemovedFromFeedAt != nil {
		t.Fatalf("restore incomplete: %+v", got)
	}
}

func TestReconcile_DryRunPreviewsWithoutMutating(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	removedAt := f.now.Add(-45 * 24 * time.Hour)
	kept := f.seed(t, baseVehicle("1A1AA11AAAA000001", "STK-1"))
	dropped := f.seed(t, baseVehicle("1A1AA11AAAA000002", "STK-2"))
	purgeable := f.seed(t, func() domain.Vehicle {
		v := baseVehicle("1A1AA11AAAA000003", "STK-3")
		v.Status = domain.VehicleRemoved
		v.RemovedFromFeedAt = &removedAt
		return v
	}())

	rec := f.listing(kept)
	rec.Mileage = 999
	snapshot := []feed.Record{
		rec,
		{VIN: "1A1AA11AAAA000004", StockNumber: "STK-4", Year: 2025, Make: "Kia", Model: "Telluride", Price: decimal.NewFromInt(47000)},
	}

	preview, err := f.svc.Reconcile(ctx, f.locA.ID, snapshot, ModeDryRun)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if preview.Mode != ModeDryRun {
		t.Fatalf("mode = %s", preview.Mode)
	}

	// Nothing in the store moved.
	for _, id := range []string{kept.ID, dropped.ID, purgeable.ID} {
		if _, err := repo.GetVehicle(ctx, f.db, id); err != nil {
			t.Fatalf("vehicle %s mutated by dry run: %v", id, err)
		}
	}
	if _, err := repo.GetVehicleByVIN(ctx, f.db, "1A1AA11AAAA000004"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("dry run created a vehicle: %v", err)
	}
	got := f.reload(t, kept.ID)
	if got.Mileage == 999 {
		t.Fatal("dry run applied an update")
	}

	// An apply over the same input produces the same action set.
	applied, err := f.svc.Reconcile(ctx, f.locA.ID, snapshot, ModeApply)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(applied.Creates) != len(preview.Creates) ||
		len(applied.Updates) != len(preview.Updates) ||
		len(applied.Restores) != len(preview.Restores) ||
		len(applied.SoftDeletes) != len(preview.SoftDeletes) ||
		len(applied.PermanentDeletes) != len(preview.PermanentDeletes) {
		t.Fatalf("preview/apply diverge:\npreview: %+v\napplied: %+v", preview, applied)
	}
}

func TestReconcile_RejectsUnknownModeAndLocation(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Reconcile(ctx, f.locA.ID, nil, ReconcileMode("preview")); err == nil {
		t.Fatal("unknown mode accepted")
	}
	if _, err := f.svc.Reconcile(ctx, "missing", nil, ModeApply); !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("missing location: %v", err)
	}
}

func TestReconcileFromFeed_UnreadableFeedAbortsRun(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	f.seed(t, baseVehicle("1A1AA11AAAA000001", "STK-1"))
	f.svc.Source = &stubSource{err: fmt.Errorf("sftp drop: %w", feed.ErrUnavailable)}

	if _, err := f.svc.ReconcileFromFeed(ctx, f.locA.ID, ModeApply); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("want ErrFeedUnavailable, got %v", err)
	}

	// An unreadable feed is never an empty lot: nothing was soft-deleted.
	v, err := repo.GetVehicleByVIN(ctx, f.db, "1A1AA11AAAA000001")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v.Status != domain.VehicleAvailable {
		t.Fatalf("vehicle touched: %s", v.Status)
	}
}

// The end-to-end scenario: two locations bid on the same unit, one wins, and
// the next import cycle must not disturb the claimed vehicle even though the
// selling location no longer lists it.
func TestReconcile_ApprovedTransferSurvivesImportCycle(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	locC, err := repo.CreateLocation(ctx, f.db, "CLT-01", "Charlotte")
	if err != nil {
		t.Fatalf("seed location: %v", err)
	}
	v := f.seed(t, baseVehicle("1A1AA11AAAA000001", "STK-1"))

	transfers := NewTransferService(f.db, notify.NopDispatcher{})
	trB, err := transfers.Request(ctx, RequestInput{VehicleID: v.ID, ToLocationID: f.locB.ID,
		RequestedBy: Actor{UserID: "user-b", LocationID: f.locB.ID}})
	if err != nil {
		t.Fatalf("request B: %v", err)
	}
	if _, err := transfers.Request(ctx, RequestInput{VehicleID: v.ID, ToLocationID: locC.ID,
		RequestedBy: Actor{UserID: "user-c", LocationID: locC.ID}}); err != nil {
		t.Fatalf("request C: %v", err)
	}
	if _, err := transfers.Approve(ctx, trB.ID, Actor{UserID: "mgr-a", LocationID: f.locA.ID}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Next cycle: the unit has left location A's feed.
	plan, err := f.svc.Reconcile(ctx, f.locA.ID, nil, ModeApply)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !plan.Empty() || len(plan.SkippedProtected) != 1 {
		t.Fatalf("plan: %+v", plan)
	}

	got := f.reload(t, v.ID)
	if got.Status != domain.VehicleClaimed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.CurrentTransferID == nil || *got.CurrentTransferID != trB.ID {
		t.Fatalf("claim lost: %v", got.CurrentTransferID)
	}
}
