package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dropwatch-go/internal/core"
	"dropwatch-go/internal/czds"
	"dropwatch-go/internal/testutil"
	"dropwatch-go/internal/watchlist"
	"dropwatch-go/internal/zonestore"
)

func writeZoneFile(t *testing.T, dir, tld, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, tld+".zone"), []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

const devZoneYesterday = "alpha.dev. 3600 IN NS ns1.example.com.\nbeta.dev. 3600 IN NS ns1.example.com.\ngamma.dev. 3600 IN NS ns1.example.com.\n"
const devZoneToday = "alpha.dev. 3600 IN NS ns1.example.com.\nbeta.dev. 3600 IN NS ns1.example.com.\ndelta.dev. 3600 IN NS ns1.example.com.\n"

func TestCoordinator_RunFullCycleDetectsAndPersistsDrops(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	if err := db.UpsertTLD(ctx, core.TLD{Name: "dev", IsActive: true}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}

	store := zonestore.NewMemoryZoneStore()
	yesterday, _ := core.ParseDate("2026-01-14")
	today, _ := core.ParseDate("2026-01-15")

	seedSnapshot(t, ctx, store, "dev", yesterday, devZoneYesterday)
	seedSnapshot(t, ctx, store, "dev", today, devZoneToday)

	dir := t.TempDir()
	writeZoneFile(t, dir, "dev", devZoneToday) // unused by JobDetect but exercises ListZones path elsewhere
	client := czds.NewLocalClient(dir)

	c := New(client, store, db, nil, nil, nil)

	stats, err := c.Run(ctx, "dev", core.JobDetect, today)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.DropsDetected != 1 {
		t.Fatalf("DropsDetected = %d, want 1 (gamma.dev dropped)", stats.DropsDetected)
	}
	if stats.DropsInserted != 1 {
		t.Fatalf("DropsInserted = %d, want 1", stats.DropsInserted)
	}

	tld, err := db.GetTLD(ctx, "dev")
	if err != nil {
		t.Fatalf("GetTLD() error = %v", err)
	}
	if tld.LastImportDate == nil || !tld.LastImportDate.Equal(today) {
		t.Fatalf("LastImportDate = %v, want %v", tld.LastImportDate, today)
	}
	if tld.LastDropCount != 1 {
		t.Fatalf("LastDropCount = %d, want 1", tld.LastDropCount)
	}
}

func TestCoordinator_RunMissingBaselineWhenNoPriorSnapshot(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	if err := db.UpsertTLD(ctx, core.TLD{Name: "dev", IsActive: true}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}

	store := zonestore.NewMemoryZoneStore()
	today, _ := core.ParseDate("2026-01-15")
	seedSnapshot(t, ctx, store, "dev", today, devZoneToday)

	c := New(nil, store, db, nil, nil, nil)

	_, err := c.Run(ctx, "dev", core.JobDetect, today)
	var missingBaseline *core.MissingBaselineError
	if !errors.As(err, &missingBaseline) {
		t.Fatalf("Run() error = %v, want *core.MissingBaselineError", err)
	}
}

func TestCoordinator_RunFetchesWhenSnapshotMissing(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	if err := db.UpsertTLD(ctx, core.TLD{Name: "dev", IsActive: true}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}

	store := zonestore.NewMemoryZoneStore()
	dir := t.TempDir()
	writeZoneFile(t, dir, "dev", devZoneToday)
	client := czds.NewLocalClient(dir)

	today, _ := core.ParseDate("2026-01-15")
	c := New(client, store, db, nil, nil, nil)

	stats, err := c.Run(ctx, "dev", core.JobIngest, today)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.BytesDownloaded == 0 {
		t.Fatalf("BytesDownloaded = 0, want > 0")
	}

	exists, err := store.Exists(ctx, "dev", today)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Fatalf("Exists() = false after ingest, want true")
	}
}

func TestCoordinator_RunSkipsFetchWhenSnapshotAlreadyExists(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	if err := db.UpsertTLD(ctx, core.TLD{Name: "dev", IsActive: true}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}

	store := zonestore.NewMemoryZoneStore()
	today, _ := core.ParseDate("2026-01-15")
	seedSnapshot(t, ctx, store, "dev", today, devZoneToday)

	// A nil CZDS client would panic if fetchIfMissing tried to use it; this
	// confirms the exists check short-circuits before any client call.
	c := New(nil, store, db, nil, nil, nil)

	stats, err := c.Run(ctx, "dev", core.JobIngest, today)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.BytesDownloaded != 0 {
		t.Fatalf("BytesDownloaded = %d, want 0 (fetch skipped)", stats.BytesDownloaded)
	}
}

func TestCoordinator_RunRecordsWatchlistMatchesForEveryDroppedLabel(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	if err := db.UpsertTLD(ctx, core.TLD{Name: "dev", IsActive: true}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}

	wID, err := db.CreateWatchlist(ctx, core.Watchlist{
		UserID:      "u1",
		IsActive:    true,
		PatternKind: core.PatternContains,
		Pattern:     "alert",
	})
	if err != nil {
		t.Fatalf("CreateWatchlist() error = %v", err)
	}

	store := zonestore.NewMemoryZoneStore()
	yesterday, _ := core.ParseDate("2026-01-14")
	today, _ := core.ParseDate("2026-01-15")

	yesterdayZone := "keep.dev. 3600 IN NS ns1.example.com.\nalert-one.dev. 3600 IN NS ns1.example.com.\nalert-two.dev. 3600 IN NS ns1.example.com.\n"
	todayZone := "keep.dev. 3600 IN NS ns1.example.com.\n"
	seedSnapshot(t, ctx, store, "dev", yesterday, yesterdayZone)
	seedSnapshot(t, ctx, store, "dev", today, todayZone)

	m := watchlist.New(db)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	c := New(nil, store, db, nil, m, nil)

	stats, err := c.Run(ctx, "dev", core.JobDetect, today)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.DropsDetected != 2 {
		t.Fatalf("DropsDetected = %d, want 2 (alert-one.dev, alert-two.dev)", stats.DropsDetected)
	}
	if stats.DropsInserted != 2 {
		t.Fatalf("DropsInserted = %d, want 2", stats.DropsInserted)
	}

	all, err := db.ListUnnotifiedMatches(ctx, 100)
	if err != nil {
		t.Fatalf("ListUnnotifiedMatches() error = %v", err)
	}
	var matches []core.WatchlistMatch
	for _, match := range all {
		if match.WatchlistID == wID {
			matches = append(matches, match)
		}
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2 (one per dropped label) — got %+v; a DropID of 0 on every "+
			"match after the first would collapse them under the (watchlist_id, drop_id) unique constraint",
			len(matches), matches)
	}
	seen := map[int64]bool{}
	for _, match := range matches {
		if match.DropID == 0 {
			t.Fatalf("match %+v has DropID 0, want the persisted drop's real id", match)
		}
		if seen[match.DropID] {
			t.Fatalf("duplicate DropID %d across matches", match.DropID)
		}
		seen[match.DropID] = true
	}
}

func seedSnapshot(t *testing.T, ctx context.Context, store core.ZoneStore, tld string, date core.Date, body string) {
	t.Helper()
	handle, err := store.Reserve(ctx, tld, date)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	sum, size, err := czds.ComputeSHA256(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ComputeSHA256() error = %v", err)
	}
	if _, err := handle.Write([]byte(body)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := store.Commit(ctx, handle, size, sum); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}
