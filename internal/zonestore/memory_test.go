package zonestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"dropwatch-go/internal/core"
)

func commit(t *testing.T, store core.ZoneStore, tld string, date core.Date, content string) core.ZoneSnapshot {
	t.Helper()
	ctx := context.Background()
	h, err := store.Reserve(ctx, tld, date)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if _, err := io.WriteString(h, content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	snap, err := store.Commit(ctx, h, int64(len(content)), hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return snap
}

func TestMemoryZoneStore_ReserveCommitOpen(t *testing.T) {
	store := NewMemoryZoneStore()
	ctx := context.Background()
	date := core.Date{Year: 2026, Month: 8, Day: 1}

	commit(t, store, "com", date, "example.com\nwidget.com\n")

	r, err := store.Open(ctx, "com", date)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "example.com\nwidget.com\n" {
		t.Errorf("Open() content = %q, want %q", data, "example.com\nwidget.com\n")
	}
}

func TestMemoryZoneStore_ReserveAlreadyExists(t *testing.T) {
	store := NewMemoryZoneStore()
	ctx := context.Background()
	date := core.Date{Year: 2026, Month: 8, Day: 1}

	commit(t, store, "com", date, "data")

	_, err := store.Reserve(ctx, "com", date)
	if err == nil {
		t.Fatal("Reserve() expected AlreadyExistsError, got nil")
	}
	var exists *core.AlreadyExistsError
	if !errors.As(err, &exists) {
		t.Errorf("Reserve() error = %v, want *core.AlreadyExistsError", err)
	}
}

func TestMemoryZoneStore_CommitSizeMismatch(t *testing.T) {
	store := NewMemoryZoneStore()
	ctx := context.Background()
	date := core.Date{Year: 2026, Month: 8, Day: 1}

	h, err := store.Reserve(ctx, "com", date)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	io.WriteString(h, "data")

	_, err = store.Commit(ctx, h, 999, "irrelevant")
	if err == nil {
		t.Error("Commit() expected size mismatch error, got nil")
	}
}

func TestMemoryZoneStore_ExistsAndLatestBefore(t *testing.T) {
	store := NewMemoryZoneStore()
	ctx := context.Background()

	d1 := core.Date{Year: 2026, Month: 7, Day: 30}
	d2 := core.Date{Year: 2026, Month: 7, Day: 31}
	d3 := core.Date{Year: 2026, Month: 8, Day: 1}

	commit(t, store, "com", d1, "a")
	commit(t, store, "com", d2, "b")

	exists, err := store.Exists(ctx, "com", d2)
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true, nil", exists, err)
	}

	latest, err := store.LatestBefore(ctx, "com", d3)
	if err != nil {
		t.Fatalf("LatestBefore() error = %v", err)
	}
	if latest == nil || !latest.Equal(d2) {
		t.Errorf("LatestBefore() = %v, want %v", latest, d2)
	}
}

func TestMemoryZoneStore_Prune(t *testing.T) {
	store := NewMemoryZoneStore()
	ctx := context.Background()

	dates := []core.Date{
		{Year: 2026, Month: 7, Day: 28},
		{Year: 2026, Month: 7, Day: 29},
		{Year: 2026, Month: 7, Day: 30},
		{Year: 2026, Month: 7, Day: 31},
	}
	for _, d := range dates {
		commit(t, store, "net", d, "x")
	}

	if err := store.Prune(ctx, "net", 2); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	for i, d := range dates {
		exists, err := store.Exists(ctx, "net", d)
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		want := i >= len(dates)-2
		if exists != want {
			t.Errorf("Exists(%v) = %v, want %v", d, exists, want)
		}
	}
}

func TestMemoryZoneStore_Quarantine(t *testing.T) {
	store := NewMemoryZoneStore()
	ctx := context.Background()
	date := core.Date{Year: 2026, Month: 8, Day: 1}

	commit(t, store, "com", date, "data")

	if err := store.Quarantine(ctx, "com", date); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}

	exists, err := store.Exists(ctx, "com", date)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true after Quarantine(), want false")
	}
}
