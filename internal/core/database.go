package core

import (
	"context"
	"time"
)

// DropFilter narrows Database.ListDrops queries.
type DropFilter struct {
	TLD         string // empty = any
	Since       *Date
	Until       *Date
	CharsetType CharsetType // empty = any
	MinLength   int
	MaxLength   int // 0 = no upper bound
	Limit       int
	Offset      int
}

// JobRunFilter narrows Database.ListJobRuns queries.
type JobRunFilter struct {
	TLD     string
	Kind    JobKind
	Outcome RunOutcome
	Limit   int
}

// Database is the persistence port for everything except zone snapshot
// bytes themselves (that's ZoneStore). Implementations must make inserts of
// TLDs, drops, and watchlist matches idempotent under the schema's unique
// constraints: callers treat a duplicate-key failure as success, not error.
type Database interface {
	// TLDs

	UpsertTLD(ctx context.Context, tld TLD) error
	GetTLD(ctx context.Context, name string) (*TLD, error)
	ListTLDs(ctx context.Context, activeOnly bool) ([]TLD, error)
	SetTLDActive(ctx context.Context, name string, active bool) error
	RecordImport(ctx context.Context, name string, date Date, dropCount int) error

	// Drops

	// InsertDrops batch-inserts drop records, skipping rows that already
	// exist under the (Label, TLD, DropDate) unique constraint. Returns every
	// row in drops with its ID populated from the database — newly inserted
	// or already present — so callers can attach downstream records (e.g.
	// watchlist matches) to the real row. inserted counts only the new rows.
	InsertDrops(ctx context.Context, drops []DropRecord) (persisted []DropRecord, inserted int, err error)
	ListDrops(ctx context.Context, filter DropFilter) ([]DropRecord, error)
	CountDropsSince(ctx context.Context, tld string, since Date) (int, error)

	// Watchlists

	CreateWatchlist(ctx context.Context, w Watchlist) (int64, error)
	GetWatchlist(ctx context.Context, id int64) (*Watchlist, error)
	ListActiveWatchlists(ctx context.Context) ([]Watchlist, error)
	DeactivateWatchlist(ctx context.Context, id int64, reason string) error

	// InsertWatchlistMatches batch-inserts matches, skipping duplicates under
	// the (WatchlistID, DropID) unique constraint.
	InsertWatchlistMatches(ctx context.Context, matches []WatchlistMatch) (inserted int, err error)
	ListUnnotifiedMatches(ctx context.Context, limit int) ([]WatchlistMatch, error)

	// Jobs and runs

	CreateJob(ctx context.Context, job Job) (int64, error)
	GetJob(ctx context.Context, id int64) (*Job, error)
	ListEnabledJobs(ctx context.Context) ([]Job, error)
	SetJobEnabled(ctx context.Context, id int64, enabled bool) error

	// CreateJobRun inserts a new run row and returns its ID. If a run whose
	// outcome is neither failed nor skipped already holds (TLD, TargetDate,
	// Kind), nothing is inserted and the ID of that existing run is returned
	// with a nil error.
	CreateJobRun(ctx context.Context, run JobRun) (int64, error)
	FinishJobRun(ctx context.Context, id int64, finishedAt time.Time, outcome RunOutcome, stats RunStats, errMsg, errClass string) error
	ListJobRuns(ctx context.Context, filter JobRunFilter) ([]JobRun, error)
	LatestRunFor(ctx context.Context, tld string, kind JobKind) (*JobRun, error)

	// FindJobRun looks up the run occupying the (tld, kind, targetDate)
	// single-flight slot. When no run occupies it, it returns the most
	// recently started failed or skipped run for that key, or nil if there
	// is no run for the key at all. Callers use this after
	// CreateJobRun to tell whether their own attempt won the race: compare
	// the returned run's StartedAt against the value they submitted.
	FindJobRun(ctx context.Context, tld string, kind JobKind, targetDate Date) (*JobRun, error)

	// CountJobsByStatus reports the number of distinct (tld, kind) pairs
	// whose most recent run ended in each outcome, for admin/CLI reporting.
	CountJobsByStatus(ctx context.Context) (map[RunOutcome]int, error)

	Close() error
}
