package zonestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dropwatch-go/internal/core"
)

// FilesystemZoneStore is a filesystem-based implementation of core.ZoneStore.
// Snapshots are laid out as:
//
//	<root>/
//	  <tld>/
//	    <YYYYMMDD>.zone       (committed snapshot)
//	    .tmp-<random>         (in-progress reservation)
//	    <YYYYMMDD>.zone.bad   (quarantined snapshot)
type FilesystemZoneStore struct {
	root string
}

// NewFilesystemZoneStore creates a filesystem zone store rooted at root.
func NewFilesystemZoneStore(root string) (*FilesystemZoneStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create zone store root: %w", err)
	}
	return &FilesystemZoneStore{root: root}, nil
}

type fsHandle struct {
	tmpFile   *os.File
	tmpPath   string
	dir       string
	tld       string
	date      core.Date
	finalPath string
	hash      hash.Hash
	size      int64
	closed    bool
}

func (h *fsHandle) Write(p []byte) (int, error) {
	n, err := h.tmpFile.Write(p)
	h.hash.Write(p[:n])
	h.size += int64(n)
	return n, err
}

func (h *fsHandle) Discard() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.tmpFile.Close()
	return os.Remove(h.tmpPath)
}

func (v *FilesystemZoneStore) tldDir(tld string) string {
	return filepath.Join(v.root, tld)
}

func (v *FilesystemZoneStore) snapshotPath(tld string, date core.Date) string {
	return filepath.Join(v.tldDir(tld), date.Compact()+".zone")
}

// Reserve begins a new snapshot write for (tld, date).
func (v *FilesystemZoneStore) Reserve(ctx context.Context, tld string, date core.Date) (core.Handle, error) {
	dir := v.tldDir(tld)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tld directory: %w", err)
	}

	finalPath := v.snapshotPath(tld, date)
	if _, err := os.Stat(finalPath); err == nil {
		return nil, &core.AlreadyExistsError{TLD: tld, Date: date}
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &fsHandle{
		tmpFile:   tmpFile,
		tmpPath:   tmpFile.Name(),
		dir:       dir,
		tld:       tld,
		date:      date,
		finalPath: finalPath,
		hash:      sha256.New(),
	}, nil
}

// Commit atomically publishes the snapshot reserved by handle.
func (v *FilesystemZoneStore) Commit(ctx context.Context, handle core.Handle, sizeBytes int64, sha256Hex string) (core.ZoneSnapshot, error) {
	h, ok := handle.(*fsHandle)
	if !ok {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: handle not from this zone store")
	}

	if h.size != sizeBytes {
		h.Discard()
		return core.ZoneSnapshot{}, fmt.Errorf("commit: size mismatch: wrote %d bytes, expected %d", h.size, sizeBytes)
	}
	got := hex.EncodeToString(h.hash.Sum(nil))
	if got != sha256Hex {
		h.Discard()
		return core.ZoneSnapshot{}, fmt.Errorf("commit: checksum mismatch: computed %s, expected %s", got, sha256Hex)
	}

	if err := h.tmpFile.Close(); err != nil {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: failed to close temp file: %w", err)
	}
	h.closed = true

	if err := os.Rename(h.tmpPath, h.finalPath); err != nil {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: failed to rename temp file: %w", err)
	}

	return core.ZoneSnapshot{
		TLD:       h.tld,
		Date:      h.date,
		Path:      h.finalPath,
		SizeBytes: sizeBytes,
		SHA256:    sha256Hex,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Open returns a read stream for a committed snapshot.
func (v *FilesystemZoneStore) Open(ctx context.Context, tld string, date core.Date) (io.ReadCloser, error) {
	path := v.snapshotPath(tld, date)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot not found: %s %s", tld, date)
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	return f, nil
}

// Exists reports whether a committed snapshot exists for (tld, date).
func (v *FilesystemZoneStore) Exists(ctx context.Context, tld string, date core.Date) (bool, error) {
	_, err := os.Stat(v.snapshotPath(tld, date))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// LatestBefore returns the most recent snapshot date strictly before date.
func (v *FilesystemZoneStore) LatestBefore(ctx context.Context, tld string, date core.Date) (*core.Date, error) {
	dates, err := v.listSnapshotDates(tld)
	if err != nil {
		return nil, err
	}

	var best *core.Date
	for _, d := range dates {
		if d.Before(date) && (best == nil || best.Before(d)) {
			dd := d
			best = &dd
		}
	}
	return best, nil
}

// Prune removes all but the keep most recent snapshots for tld.
func (v *FilesystemZoneStore) Prune(ctx context.Context, tld string, keep int) error {
	if keep < 2 {
		return fmt.Errorf("prune: keep must be >= 2, got %d", keep)
	}
	dates, err := v.listSnapshotDates(tld)
	if err != nil {
		return err
	}
	if len(dates) <= keep {
		return nil
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	toRemove := dates[:len(dates)-keep]
	for _, d := range toRemove {
		if err := os.Remove(v.snapshotPath(tld, d)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune: removing %s %s: %w", tld, d, err)
		}
	}
	return nil
}

// Quarantine marks a snapshot as corrupt so it is no longer considered live.
func (v *FilesystemZoneStore) Quarantine(ctx context.Context, tld string, date core.Date) error {
	src := v.snapshotPath(tld, date)
	dst := src + ".bad"
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("quarantine: %w", err)
	}
	return nil
}

func (v *FilesystemZoneStore) listSnapshotDates(tld string) ([]core.Date, error) {
	entries, err := os.ReadDir(v.tldDir(tld))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var dates []core.Date
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".zone") {
			continue
		}
		compact := strings.TrimSuffix(name, ".zone")
		t, err := time.Parse("20060102", compact)
		if err != nil {
			continue
		}
		dates = append(dates, core.NewDate(t))
	}
	return dates, nil
}

// ValidateSetup verifies the store root is accessible.
func (v *FilesystemZoneStore) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("zone store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("zone store root is not a directory: %s", v.root)
	}
	return nil
}

var _ core.ZoneStore = (*FilesystemZoneStore)(nil)
