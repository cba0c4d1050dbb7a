package progress

import (
	"context"
	"errors"
	"testing"
	"time"
)

func reconcileNow() time.Time { return fixedNow.Add(24 * time.Hour) }

func TestReconcileRepairsTimestampsAndUnlocks(t *testing.T) {
	store := newMemoryStore()
	// Completed without timestamp, and its successor never unlocked.
	store.put(StepProgress{UserID: "u1", StepNumber: 3, StepName: "Goals", Completed: true, Available: true})
	// Incomplete with a stray timestamp.
	ts := fixedNow
	store.put(StepProgress{UserID: "u2", StepNumber: 3, StepName: "Goals", Available: true, CompletedAt: &ts})
	// Untargeted step is left alone.
	store.put(StepProgress{UserID: "u1", StepNumber: 1, StepName: "Welcome", Completed: true})

	report, err := Reconcile(context.Background(), store, ReconcileOptions{
		StepNames: []string{"Goals"},
		Catalog:   testCatalog(),
		Now:       reconcileNow,
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", report.Scanned)
	}
	if len(report.Fixes) != 3 {
		t.Fatalf("Fixes = %+v, want 3", report.Fixes)
	}

	u1, _ := store.row("u1", 3)
	if u1.CompletedAt == nil || !u1.CompletedAt.Equal(reconcileNow()) {
		t.Errorf("u1 step 3 = %+v", u1)
	}
	next, ok := store.row("u1", 4)
	if !ok || !next.Available || next.Completed || next.StepName != "Behaviors" {
		t.Errorf("u1 step 4 = %+v, ok=%v", next, ok)
	}
	u2, _ := store.row("u2", 3)
	if u2.CompletedAt != nil || u2.Completed {
		t.Errorf("u2 step 3 = %+v", u2)
	}
	welcome, _ := store.row("u1", 1)
	if welcome.CompletedAt != nil {
		t.Error("untargeted rows must not be touched")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.put(StepProgress{UserID: "u1", StepNumber: 4, StepName: "Behaviors", Completed: true})
	opts := ReconcileOptions{StepNames: []string{"Behaviors"}, Catalog: testCatalog(), Now: reconcileNow}

	first, err := Reconcile(context.Background(), store, opts)
	if err != nil || len(first.Fixes) == 0 {
		t.Fatalf("first run = %+v, %v", first, err)
	}
	second, err := Reconcile(context.Background(), store, opts)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if len(second.Fixes) != 0 {
		t.Errorf("second run fixes = %+v, want none", second.Fixes)
	}
}

func TestReconcileEvidence(t *testing.T) {
	store := newMemoryStore()
	ts := fixedNow
	store.put(StepProgress{UserID: "u1", StepNumber: 2, StepName: "Values", Available: true})
	store.put(StepProgress{UserID: "u2", StepNumber: 2, StepName: "Values", Completed: true, Available: true, CompletedAt: &ts})

	answered := map[string]bool{"u1": true}
	opts := ReconcileOptions{
		StepNames: []string{"Values"},
		Evidence: func(_ context.Context, row StepProgress) (bool, error) {
			return answered[row.UserID], nil
		},
		Now: reconcileNow,
	}

	report, err := Reconcile(context.Background(), store, opts)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(report.Fixes) != 2 {
		t.Fatalf("Fixes = %+v", report.Fixes)
	}
	if report.Fixes[0].Reasons[0] != ReasonEvidenceComplete || report.Fixes[1].Reasons[0] != ReasonEvidenceReset {
		t.Errorf("reasons = %v / %v", report.Fixes[0].Reasons, report.Fixes[1].Reasons)
	}

	u1, _ := store.row("u1", 2)
	if !u1.Completed || u1.CompletedAt == nil {
		t.Errorf("u1 = %+v", u1)
	}
	u2, _ := store.row("u2", 2)
	if u2.Completed || u2.CompletedAt != nil {
		t.Errorf("u2 = %+v, want reset with null timestamp", u2)
	}

	again, err := Reconcile(context.Background(), store, opts)
	if err != nil || len(again.Fixes) != 0 {
		t.Errorf("second run = %+v, %v", again, err)
	}
}

func TestReconcileDryRun(t *testing.T) {
	store := newMemoryStore()
	store.put(StepProgress{UserID: "u1", StepNumber: 4, StepName: "Behaviors", Completed: true})

	report, err := Reconcile(context.Background(), store, ReconcileOptions{
		StepNames: []string{"Behaviors"},
		Catalog:   testCatalog(),
		DryRun:    true,
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(report.Fixes) != 2 || !report.DryRun {
		t.Errorf("report = %+v", report)
	}
	if store.upserts != 0 {
		t.Errorf("upserts = %d, want 0 in dry run", store.upserts)
	}
}

func TestReconcileErrors(t *testing.T) {
	store := newMemoryStore()
	if _, err := Reconcile(context.Background(), store, ReconcileOptions{}); err == nil {
		t.Error("Reconcile() without step names should fail")
	}

	store.setErr("scan", errStoreDown)
	if _, err := Reconcile(context.Background(), store, ReconcileOptions{StepNames: []string{"Goals"}}); !IsDataAccess(err) {
		t.Errorf("scan failure error = %v, want DataAccessError", err)
	}

	store.put(StepProgress{UserID: "u1", StepNumber: 3, StepName: "Goals", Completed: true})
	store.put(StepProgress{UserID: "u2", StepNumber: 3, StepName: "Goals", Completed: true})
	store.setErr("upsert", errStoreDown)
	report, err := Reconcile(context.Background(), store, ReconcileOptions{StepNames: []string{"Goals"}, Now: reconcileNow})
	if !errors.Is(err, errStoreDown) {
		t.Errorf("error = %v, want joined store error", err)
	}
	if len(report.Fixes) != 1 {
		t.Errorf("fixes = %d, want the other user still repaired", len(report.Fixes))
	}
}

func TestReconcileUsesRowsRewrittenEarlierInRun(t *testing.T) {
	store := newMemoryStore()
	ts := fixedNow
	store.put(StepProgress{UserID: "u1", StepNumber: 3, StepName: "Goals", Completed: true, Available: true, CompletedAt: &ts})
	// Completed but never made available; the unlock after step 3 repairs it.
	store.put(StepProgress{UserID: "u1", StepNumber: 4, StepName: "Behaviors", Completed: true, CompletedAt: &ts})

	report, err := Reconcile(context.Background(), store, ReconcileOptions{
		StepNames: []string{"Goals", "Behaviors"},
		Catalog:   testCatalog(),
		Now:       reconcileNow,
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	perStep := make(map[int]int)
	for _, fix := range report.Fixes {
		perStep[fix.StepNumber]++
	}
	if perStep[4] != 1 {
		t.Errorf("step 4 fixed %d times, want 1: %+v", perStep[4], report.Fixes)
	}
	if perStep[5] != 1 || len(report.Fixes) != 2 {
		t.Errorf("Fixes = %+v, want step 4 unlock and step 5 unlock", report.Fixes)
	}
	if row, _ := store.row("u1", 4); !row.Available || !row.Completed {
		t.Errorf("u1 step 4 = %+v", row)
	}
}
