package runindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := Open(Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "runindex.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return New(db)
}

func TestUpsertInsertsNewRecord(t *testing.T) {
	idx := newTestIndex(t)
	rec := &entity.RunRecord{
		RunID:     "run-1",
		RunDir:    "/tmp/run-1",
		StartedAt: time.Now().UTC(),
		Status:    "running",
		StorySeed: "begin",
	}
	if err := idx.Upsert(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := idx.Get("run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "running" {
		t.Fatalf("expected status running, got %q", got.Status)
	}
}

func TestUpsertUpdatesExistingRecord(t *testing.T) {
	idx := newTestIndex(t)
	base := &entity.RunRecord{RunID: "run-2", Status: "running", StartedAt: time.Now().UTC()}
	if err := idx.Upsert(base); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	base.Status = "paused"
	base.LastSeq = 5
	if err := idx.Upsert(base); err != nil {
		t.Fatalf("upsert update: %v", err)
	}

	got, err := idx.Get("run-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "paused" || got.LastSeq != 5 {
		t.Fatalf("unexpected record after update: %+v", got)
	}

	all, err := idx.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single record after upsert-update, got %d", len(all))
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	idx := newTestIndex(t)
	older := time.Now().Add(-time.Hour).UTC()
	newer := time.Now().UTC()

	if err := idx.Upsert(&entity.RunRecord{RunID: "old", StartedAt: older, Status: "stopped"}); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	if err := idx.Upsert(&entity.RunRecord{RunID: "new", StartedAt: newer, Status: "running"}); err != nil {
		t.Fatalf("upsert new: %v", err)
	}

	all, err := idx.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].RunID != "new" {
		t.Fatalf("expected newest-first order, got %+v", all)
	}
}

func TestGetMissingReturnsError(t *testing.T) {
	idx := newTestIndex(t)
	if _, err := idx.Get("nonexistent"); err == nil {
		t.Fatal("expected error for missing run id")
	}
}
