// Package persist batches drop records into the database and advances a
// TLD's import marker only once a whole detection cycle has succeeded.
package persist

import (
	"context"
	"fmt"

	"dropwatch-go/internal/core"
)

// DefaultBatchSize bounds how many rows one InsertDrops call handles, per
// batched-insert to keep single transactions bounded.
const DefaultBatchSize = 5000

// Persister wraps a Database with the batching and marker-update semantics
// a detection cycle needs.
type Persister struct {
	DB        core.Database
	BatchSize int
}

// New creates a Persister. db must not be nil.
func New(db core.Database) *Persister {
	return &Persister{DB: db}
}

// Result summarizes one SaveDrops call. Drops carries every row that was
// passed in, with its ID populated from the database — callers that need to
// attach downstream records (e.g. watchlist matches) to the real row must
// use Drops, not the slice they passed to SaveDrops.
type Result struct {
	Drops    []core.DropRecord
	Inserted int
	Skipped  int
}

// SaveDrops inserts drops in batches, tolerating rows that already exist
// under the unique (label, tld, drop_date) constraint, so
// a duplicate row on retry is success, not failure. It does not update the
// TLD's import marker; call MarkImportComplete after the whole cycle
// (including watchlist matching) has succeeded.
func (p *Persister) SaveDrops(ctx context.Context, drops []core.DropRecord) (Result, error) {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	res := Result{Drops: make([]core.DropRecord, 0, len(drops))}
	for start := 0; start < len(drops); start += size {
		end := start + size
		if end > len(drops) {
			end = len(drops)
		}
		batch := drops[start:end]

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		persisted, inserted, err := p.DB.InsertDrops(ctx, batch)
		if err != nil {
			return res, fmt.Errorf("inserting drop batch [%d:%d]: %w", start, end, err)
		}
		res.Drops = append(res.Drops, persisted...)
		res.Inserted += inserted
		res.Skipped += len(batch) - inserted
	}
	return res, nil
}

// MarkImportComplete records the TLD's successful import for date, per
// last_import_date/last_drop_count only advance when the whole
// cycle — fetch, parse, detect, persist, match — succeeded.
func (p *Persister) MarkImportComplete(ctx context.Context, tld string, date core.Date, dropCount int) error {
	return p.DB.RecordImport(ctx, tld, date, dropCount)
}
