// Package core holds the shared domain types and collaborator interfaces
// used across dropwatch: TLDs, zone snapshots, drops, watchlists, and jobs,
// plus the narrow ports (ZoneStore, CZDSClient, Database, QualityScorer,
// NotificationSink, Logger, Clock) that concrete packages implement.
package core

import "time"

// TLD is the unit of scheduling: one tracked top-level domain.
type TLD struct {
	Name           string // lowercase ASCII label, unique
	DisplayName    string
	IsActive       bool
	LastImportDate *Date
	LastDropCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Date is a calendar day with no time-of-day component, used for snapshot
// and drop identity so adjacent-day comparisons are unambiguous regardless
// of the caller's timezone.
type Date struct {
	Year  int
	Month int
	Day   int
}

// NewDate builds a Date from a time.Time, truncating to the UTC calendar day.
func NewDate(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: int(u.Month()), Day: u.Day()}
}

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return NewDate(t), nil
}

// String renders the date as "YYYY-MM-DD".
func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

// Compact renders the date as "YYYYMMDD", the on-disk snapshot filename form.
func (d Date) Compact() string {
	return d.Time().Format("20060102")
}

// Time returns the date as a UTC midnight time.Time.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// Prev returns the calendar day before d.
func (d Date) Prev() Date {
	return NewDate(d.Time().AddDate(0, 0, -1))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// Equal reports whether d and other denote the same calendar day.
func (d Date) Equal(other Date) bool {
	return d == other
}

// ZoneSnapshot is an immutable, content-addressed record of a daily zone
// file fetch for one TLD. Identity is (TLD, Date).
type ZoneSnapshot struct {
	TLD       string
	Date      Date
	Path      string // canonical on-store path, backend-specific
	SizeBytes int64
	SHA256    string
	FetchedAt time.Time
}

// CharsetType classifies the character composition of a dropped label.
type CharsetType string

const (
	CharsetLetters    CharsetType = "letters"
	CharsetNumbers    CharsetType = "numbers"
	CharsetMixed      CharsetType = "mixed"
	CharsetHyphenated CharsetType = "hyphenated"
	CharsetIDN        CharsetType = "idn"
)

// DropRecord is a label observed in yesterday's zone and absent from
// today's, with derived metadata. Unique on (Label, TLD, DropDate).
type DropRecord struct {
	ID           int64
	Label        string
	TLD          string
	DropDate     Date
	Length       int // rune count of Label
	LabelCount   int // always 1 at SLD granularity
	CharsetType  CharsetType
	QualityScore *int // 0..100, nil if scorer absent/failed
	CreatedAt    time.Time
}

// PatternKind selects how Watchlist.Pattern is evaluated against a label.
type PatternKind string

const (
	PatternGlob     PatternKind = "glob"
	PatternRegex    PatternKind = "regex"
	PatternContains PatternKind = "contains"
	PatternPrefix   PatternKind = "prefix"
	PatternSuffix   PatternKind = "suffix"
)

// Watchlist is a user-owned filter over drops that may trigger notifications.
type Watchlist struct {
	ID              int64
	UserID          string
	IsActive        bool
	PatternKind     PatternKind
	Pattern         string
	MinLength       *int
	MaxLength       *int
	AllowedTLDs     []string      // nil/empty = wildcard, any TLD
	AllowedCharsets []CharsetType // nil/empty = wildcard, any charset
	MinQuality      *int
	InactiveReason  string // set when pattern compilation failed
}

// WatchlistMatch records that a drop satisfied a watchlist's predicates.
// Unique on (WatchlistID, DropID).
type WatchlistMatch struct {
	WatchlistID int64
	DropID      int64
	MatchedAt   time.Time
}

// NotificationRequest is handed to the external notifier; delivery and
// channel routing are outside this module's scope.
type NotificationRequest struct {
	UserID      string
	Drop        DropRecord
	WatchlistID int64
}

// JobKind names the unit of work a Job schedules.
type JobKind string

const (
	JobIngest JobKind = "ingest"
	JobParse  JobKind = "parse"
	JobDetect JobKind = "detect"
	JobFull   JobKind = "full"
)

// Job is a per-TLD cron descriptor.
type Job struct {
	ID         int64
	TLD        string
	Kind       JobKind
	Schedule   string // five-field cron expression
	IsEnabled  bool
	Priority   int // supplemented from original_source: lower runs first
	Timeout    time.Duration
	MaxRetries int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RunOutcome is the terminal state of a JobRun.
type RunOutcome string

const (
	OutcomePending   RunOutcome = "pending"
	OutcomeRunning   RunOutcome = "running"
	OutcomeSuccess   RunOutcome = "success"
	OutcomeSkipped   RunOutcome = "skipped"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeTimedOut  RunOutcome = "timed_out"
)

// RunStats captures the structured log fields emitted for every JobRun.
type RunStats struct {
	BytesDownloaded int64
	LabelsParsed    int64
	DropsDetected   int64
	DropsInserted   int64
}

// JobRun is an append-only execution record. Identified by (JobID, StartedAt);
// unique on (TLD, TargetDate, Kind) among outcomes other than failed and
// skipped (single-flight).
type JobRun struct {
	ID         int64
	JobID      int64
	TLD        string
	Kind       JobKind
	TargetDate Date
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    RunOutcome
	Stats      RunStats
	Error      string
	ErrorClass string
}
