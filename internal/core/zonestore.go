package core

import (
	"context"
	"io"
)

// Handle is a write-only, in-progress snapshot reservation returned by
// ZoneStore.Reserve. It must be finalized with ZoneStore.Commit or abandoned
// with Discard; a crash or process exit before either leaves no committed
// snapshot observable to readers.
type Handle interface {
	io.Writer
	// Discard abandons the reservation, removing any partial bytes written.
	// Safe to call after a successful Commit (no-op).
	Discard() error
}

// ZoneStore is the authoritative, content-addressed persistence layer for
// daily zone snapshots, keyed by (tld, date). Implementations (filesystem,
// S3, in-memory) guarantee: no partial-file observable state, and a crash
// during download leaves no committed snapshot.
type ZoneStore interface {
	// Reserve begins a new snapshot write. Returns AlreadyExistsError if a
	// complete snapshot already exists for (tld, date).
	Reserve(ctx context.Context, tld string, date Date) (Handle, error)

	// Commit atomically publishes the snapshot reserved by handle. sizeBytes
	// and sha256 must match what was actually written; commit rejects
	// partial or mismatched writes.
	Commit(ctx context.Context, handle Handle, sizeBytes int64, sha256 string) (ZoneSnapshot, error)

	// Open returns a lazy, seek-from-start byte stream for the snapshot,
	// transparently decompressing it if stored compressed.
	Open(ctx context.Context, tld string, date Date) (io.ReadCloser, error)

	// Exists reports whether a complete snapshot exists for (tld, date).
	Exists(ctx context.Context, tld string, date Date) (bool, error)

	// LatestBefore returns the most recent date strictly before date that
	// has a complete snapshot, or nil if none exists.
	LatestBefore(ctx context.Context, tld string, date Date) (*Date, error)

	// Prune removes snapshots older than the keep most recent, per TLD.
	// keep must be >= 2 (needed for adjacent-day diffs).
	Prune(ctx context.Context, tld string, keep int) error

	// Quarantine renames a corrupt snapshot with a ".bad" suffix so it is no
	// longer considered by Exists/Open/LatestBefore.
	Quarantine(ctx context.Context, tld string, date Date) error
}
