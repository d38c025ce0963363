package zonestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"dropwatch-go/internal/core"
)

// MemoryZoneStore is an in-memory implementation of core.ZoneStore, useful
// for tests and for dry-run/replay workflows. Safe for concurrent use.
type MemoryZoneStore struct {
	mu        sync.RWMutex
	snapshots map[string]map[core.Date][]byte // tld -> date -> content
}

// NewMemoryZoneStore creates an empty in-memory zone store.
func NewMemoryZoneStore() *MemoryZoneStore {
	return &MemoryZoneStore{
		snapshots: make(map[string]map[core.Date][]byte),
	}
}

type memHandle struct {
	tld    string
	date   core.Date
	buf    bytes.Buffer
	closed bool
}

func (h *memHandle) Write(p []byte) (int, error) {
	return h.buf.Write(p)
}

func (h *memHandle) Discard() error {
	h.closed = true
	h.buf.Reset()
	return nil
}

// Reserve begins a new in-memory snapshot write.
func (m *MemoryZoneStore) Reserve(ctx context.Context, tld string, date core.Date) (core.Handle, error) {
	m.mu.RLock()
	if byDate, ok := m.snapshots[tld]; ok {
		if _, exists := byDate[date]; exists {
			m.mu.RUnlock()
			return nil, &core.AlreadyExistsError{TLD: tld, Date: date}
		}
	}
	m.mu.RUnlock()
	return &memHandle{tld: tld, date: date}, nil
}

// Commit validates and stores the buffered bytes.
func (m *MemoryZoneStore) Commit(ctx context.Context, handle core.Handle, sizeBytes int64, sha256Hex string) (core.ZoneSnapshot, error) {
	h, ok := handle.(*memHandle)
	if !ok {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: handle not from this zone store")
	}
	data := h.buf.Bytes()
	if int64(len(data)) != sizeBytes {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: size mismatch: wrote %d bytes, expected %d", len(data), sizeBytes)
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != sha256Hex {
		return core.ZoneSnapshot{}, fmt.Errorf("commit: checksum mismatch: computed %s, expected %s", got, sha256Hex)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshots[h.tld] == nil {
		m.snapshots[h.tld] = make(map[core.Date][]byte)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.snapshots[h.tld][h.date] = stored
	h.closed = true

	return core.ZoneSnapshot{
		TLD:       h.tld,
		Date:      h.date,
		Path:      fmt.Sprintf("memory://%s/%s", h.tld, h.date),
		SizeBytes: sizeBytes,
		SHA256:    sha256Hex,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Open returns a read stream for a committed snapshot.
func (m *MemoryZoneStore) Open(ctx context.Context, tld string, date core.Date) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDate, ok := m.snapshots[tld]
	if !ok {
		return nil, fmt.Errorf("snapshot not found: %s %s", tld, date)
	}
	data, ok := byDate[date]
	if !ok {
		return nil, fmt.Errorf("snapshot not found: %s %s", tld, date)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether a committed snapshot exists for (tld, date).
func (m *MemoryZoneStore) Exists(ctx context.Context, tld string, date core.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDate, ok := m.snapshots[tld]
	if !ok {
		return false, nil
	}
	_, ok = byDate[date]
	return ok, nil
}

// LatestBefore returns the most recent snapshot date strictly before date.
func (m *MemoryZoneStore) LatestBefore(ctx context.Context, tld string, date core.Date) (*core.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDate, ok := m.snapshots[tld]
	if !ok {
		return nil, nil
	}

	var best *core.Date
	for d := range byDate {
		if d.Before(date) && (best == nil || best.Before(d)) {
			dd := d
			best = &dd
		}
	}
	return best, nil
}

// Prune removes all but the keep most recent snapshots for tld.
func (m *MemoryZoneStore) Prune(ctx context.Context, tld string, keep int) error {
	if keep < 2 {
		return fmt.Errorf("prune: keep must be >= 2, got %d", keep)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.snapshots[tld]
	if !ok || len(byDate) <= keep {
		return nil
	}

	dates := make([]core.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, d := range dates[:len(dates)-keep] {
		delete(byDate, d)
	}
	return nil
}

// Quarantine removes the snapshot from the live set.
func (m *MemoryZoneStore) Quarantine(ctx context.Context, tld string, date core.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.snapshots[tld]
	if !ok {
		return fmt.Errorf("snapshot not found: %s %s", tld, date)
	}
	delete(byDate, date)
	return nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryZoneStore) ValidateSetup() error {
	return nil
}

var _ core.ZoneStore = (*MemoryZoneStore)(nil)
