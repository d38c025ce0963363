package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dropwatch-go/internal/core"
	"dropwatch-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements core.Database using SQLite via plain
// database/sql — no code-generated query layer, since none of the
// generated query code shipped with this module's template.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens (or creates) a SQLite database at path.
// path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already-configured connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// this module depends on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func dateStr(d core.Date) string { return d.String() }

func parseDate(s string) core.Date {
	d, _ := core.ParseDate(s)
	return d
}

// TLDs

func (s *SQLiteDatabase) UpsertTLD(ctx context.Context, tld core.TLD) error {
	var lastImport sql.NullString
	if tld.LastImportDate != nil {
		lastImport = sql.NullString{String: dateStr(*tld.LastImportDate), Valid: true}
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tlds (name, display_name, is_active, last_import_date, last_drop_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			is_active = excluded.is_active,
			last_import_date = excluded.last_import_date,
			last_drop_count = excluded.last_drop_count,
			updated_at = excluded.updated_at
	`, tld.Name, tld.DisplayName, tld.IsActive, lastImport, tld.LastDropCount, now, now)
	if err != nil {
		return fmt.Errorf("upserting tld %s: %w", tld.Name, err)
	}
	return nil
}

func (s *SQLiteDatabase) GetTLD(ctx context.Context, name string) (*core.TLD, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, display_name, is_active, last_import_date, last_drop_count, created_at, updated_at
		FROM tlds WHERE name = ?
	`, name)
	tld, err := scanTLD(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting tld %s: %w", name, err)
	}
	return tld, nil
}

func (s *SQLiteDatabase) ListTLDs(ctx context.Context, activeOnly bool) ([]core.TLD, error) {
	query := `SELECT name, display_name, is_active, last_import_date, last_drop_count, created_at, updated_at FROM tlds`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tlds: %w", err)
	}
	defer rows.Close()

	var out []core.TLD
	for rows.Next() {
		tld, err := scanTLD(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tld: %w", err)
		}
		out = append(out, *tld)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) SetTLDActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tlds SET is_active = ?, updated_at = ? WHERE name = ?`,
		active, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("setting tld active: %w", err)
	}
	return requireRowsAffected(res, "tld %s not found", name)
}

func (s *SQLiteDatabase) RecordImport(ctx context.Context, name string, date core.Date, dropCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tlds SET last_import_date = ?, last_drop_count = ?, updated_at = ? WHERE name = ?
	`, dateStr(date), dropCount, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("recording import: %w", err)
	}
	return requireRowsAffected(res, "tld %s not found", name)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTLD(row scanner) (*core.TLD, error) {
	var t core.TLD
	var lastImport sql.NullString
	if err := row.Scan(&t.Name, &t.DisplayName, &t.IsActive, &lastImport, &t.LastDropCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if lastImport.Valid {
		d := parseDate(lastImport.String)
		t.LastImportDate = &d
	}
	return &t, nil
}

// Drops

func (s *SQLiteDatabase) InsertDrops(ctx context.Context, drops []core.DropRecord) ([]core.DropRecord, int, error) {
	if len(drops) == 0 {
		return nil, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO drops (label, tld, drop_date, length, label_count, charset_type, quality_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, tld, drop_date) DO NOTHING
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer insertStmt.Close()

	// A conflict means the row already existed before this call, so its id
	// has to be looked up separately: ON CONFLICT DO NOTHING leaves
	// LastInsertId stale.
	lookupStmt, err := tx.PrepareContext(ctx, `SELECT id FROM drops WHERE label = ? AND tld = ? AND drop_date = ?`)
	if err != nil {
		return nil, 0, fmt.Errorf("preparing id lookup: %w", err)
	}
	defer lookupStmt.Close()

	inserted := 0
	now := time.Now().UTC()
	persisted := make([]core.DropRecord, len(drops))
	for i, d := range drops {
		var quality sql.NullInt64
		if d.QualityScore != nil {
			quality = sql.NullInt64{Int64: int64(*d.QualityScore), Valid: true}
		}
		res, err := insertStmt.ExecContext(ctx, d.Label, d.TLD, dateStr(d.DropDate), d.Length, d.LabelCount, string(d.CharsetType), quality, now)
		if err != nil {
			return nil, 0, fmt.Errorf("inserting drop %s.%s: %w", d.Label, d.TLD, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, 0, fmt.Errorf("checking rows affected: %w", err)
		}
		if n > 0 {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, 0, fmt.Errorf("reading inserted drop id: %w", err)
			}
			d.ID = id
			d.CreatedAt = now
			inserted++
		} else if err := lookupStmt.QueryRowContext(ctx, d.Label, d.TLD, dateStr(d.DropDate)).Scan(&d.ID); err != nil {
			return nil, 0, fmt.Errorf("looking up existing drop %s.%s: %w", d.Label, d.TLD, err)
		}
		persisted[i] = d
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("committing drops batch: %w", err)
	}
	return persisted, inserted, nil
}

func (s *SQLiteDatabase) ListDrops(ctx context.Context, filter core.DropFilter) ([]core.DropRecord, error) {
	var conds []string
	var args []any

	if filter.TLD != "" {
		conds = append(conds, "tld = ?")
		args = append(args, filter.TLD)
	}
	if filter.Since != nil {
		conds = append(conds, "drop_date >= ?")
		args = append(args, dateStr(*filter.Since))
	}
	if filter.Until != nil {
		conds = append(conds, "drop_date <= ?")
		args = append(args, dateStr(*filter.Until))
	}
	if filter.CharsetType != "" {
		conds = append(conds, "charset_type = ?")
		args = append(args, string(filter.CharsetType))
	}
	if filter.MinLength > 0 {
		conds = append(conds, "length >= ?")
		args = append(args, filter.MinLength)
	}
	if filter.MaxLength > 0 {
		conds = append(conds, "length <= ?")
		args = append(args, filter.MaxLength)
	}

	query := "SELECT id, label, tld, drop_date, length, label_count, charset_type, quality_score, created_at FROM drops"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY drop_date DESC, label"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing drops: %w", err)
	}
	defer rows.Close()

	var out []core.DropRecord
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning drop: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) CountDropsSince(ctx context.Context, tld string, since core.Date) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM drops WHERE tld = ? AND drop_date >= ?
	`, tld, dateStr(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting drops: %w", err)
	}
	return count, nil
}

func scanDrop(row scanner) (*core.DropRecord, error) {
	var d core.DropRecord
	var dropDate string
	var charset string
	var quality sql.NullInt64
	if err := row.Scan(&d.ID, &d.Label, &d.TLD, &dropDate, &d.Length, &d.LabelCount, &charset, &quality, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.DropDate = parseDate(dropDate)
	d.CharsetType = core.CharsetType(charset)
	if quality.Valid {
		q := int(quality.Int64)
		d.QualityScore = &q
	}
	return &d, nil
}

// Watchlists

func (s *SQLiteDatabase) CreateWatchlist(ctx context.Context, w core.Watchlist) (int64, error) {
	tlds, err := json.Marshal(w.AllowedTLDs)
	if err != nil {
		return 0, fmt.Errorf("marshaling allowed tlds: %w", err)
	}
	charsets, err := json.Marshal(w.AllowedCharsets)
	if err != nil {
		return 0, fmt.Errorf("marshaling allowed charsets: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlists (user_id, is_active, pattern_kind, pattern, min_length, max_length, allowed_tlds, allowed_charsets, min_quality, inactive_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.UserID, w.IsActive, string(w.PatternKind), w.Pattern, nullableInt(w.MinLength), nullableInt(w.MaxLength),
		string(tlds), string(charsets), nullableInt(w.MinQuality), w.InactiveReason)
	if err != nil {
		return 0, fmt.Errorf("creating watchlist: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteDatabase) GetWatchlist(ctx context.Context, id int64) (*core.Watchlist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, is_active, pattern_kind, pattern, min_length, max_length, allowed_tlds, allowed_charsets, min_quality, inactive_reason
		FROM watchlists WHERE id = ?
	`, id)
	w, err := scanWatchlist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting watchlist %d: %w", id, err)
	}
	return w, nil
}

func (s *SQLiteDatabase) ListActiveWatchlists(ctx context.Context) ([]core.Watchlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, is_active, pattern_kind, pattern, min_length, max_length, allowed_tlds, allowed_charsets, min_quality, inactive_reason
		FROM watchlists WHERE is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("listing active watchlists: %w", err)
	}
	defer rows.Close()

	var out []core.Watchlist
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning watchlist: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) DeactivateWatchlist(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watchlists SET is_active = 0, inactive_reason = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("deactivating watchlist: %w", err)
	}
	return requireRowsAffected(res, "watchlist %d not found", id)
}

func scanWatchlist(row scanner) (*core.Watchlist, error) {
	var w core.Watchlist
	var patternKind string
	var minLen, maxLen, minQuality sql.NullInt64
	var tldsJSON, charsetsJSON string
	if err := row.Scan(&w.ID, &w.UserID, &w.IsActive, &patternKind, &w.Pattern, &minLen, &maxLen,
		&tldsJSON, &charsetsJSON, &minQuality, &w.InactiveReason); err != nil {
		return nil, err
	}
	w.PatternKind = core.PatternKind(patternKind)
	if minLen.Valid {
		v := int(minLen.Int64)
		w.MinLength = &v
	}
	if maxLen.Valid {
		v := int(maxLen.Int64)
		w.MaxLength = &v
	}
	if minQuality.Valid {
		v := int(minQuality.Int64)
		w.MinQuality = &v
	}
	if err := json.Unmarshal([]byte(tldsJSON), &w.AllowedTLDs); err != nil {
		return nil, fmt.Errorf("unmarshaling allowed tlds: %w", err)
	}
	if err := json.Unmarshal([]byte(charsetsJSON), &w.AllowedCharsets); err != nil {
		return nil, fmt.Errorf("unmarshaling allowed charsets: %w", err)
	}
	return &w, nil
}

func (s *SQLiteDatabase) InsertWatchlistMatches(ctx context.Context, matches []core.WatchlistMatch) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO watchlist_matches (watchlist_id, drop_id, matched_at, notified)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(watchlist_id, drop_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range matches {
		res, err := stmt.ExecContext(ctx, m.WatchlistID, m.DropID, m.MatchedAt)
		if err != nil {
			return 0, fmt.Errorf("inserting watchlist match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing watchlist matches batch: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteDatabase) ListUnnotifiedMatches(ctx context.Context, limit int) ([]core.WatchlistMatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT watchlist_id, drop_id, matched_at FROM watchlist_matches WHERE notified = 0 LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unnotified matches: %w", err)
	}
	defer rows.Close()

	var out []core.WatchlistMatch
	for rows.Next() {
		var m core.WatchlistMatch
		if err := rows.Scan(&m.WatchlistID, &m.DropID, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("scanning watchlist match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Jobs and runs

func (s *SQLiteDatabase) CreateJob(ctx context.Context, job core.Job) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (tld, kind, schedule, is_enabled, priority, timeout_seconds, max_retries, base_backoff_seconds, max_backoff_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.TLD, string(job.Kind), job.Schedule, job.IsEnabled, job.Priority,
		int(job.Timeout.Seconds()), job.MaxRetries, int(job.BaseBackoff.Seconds()), int(job.MaxBackoff.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("creating job: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteDatabase) GetJob(ctx context.Context, id int64) (*core.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tld, kind, schedule, is_enabled, priority, timeout_seconds, max_retries, base_backoff_seconds, max_backoff_seconds
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %d: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteDatabase) ListEnabledJobs(ctx context.Context) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tld, kind, schedule, is_enabled, priority, timeout_seconds, max_retries, base_backoff_seconds, max_backoff_seconds
		FROM jobs WHERE is_enabled = 1 ORDER BY priority, id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled jobs: %w", err)
	}
	defer rows.Close()

	var out []core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) SetJobEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET is_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("setting job enabled: %w", err)
	}
	return requireRowsAffected(res, "job %d not found", id)
}

func scanJob(row scanner) (*core.Job, error) {
	var j core.Job
	var kind string
	var timeoutSec, baseBackoffSec, maxBackoffSec int
	if err := row.Scan(&j.ID, &j.TLD, &kind, &j.Schedule, &j.IsEnabled, &j.Priority,
		&timeoutSec, &j.MaxRetries, &baseBackoffSec, &maxBackoffSec); err != nil {
		return nil, err
	}
	j.Kind = core.JobKind(kind)
	j.Timeout = time.Duration(timeoutSec) * time.Second
	j.BaseBackoff = time.Duration(baseBackoffSec) * time.Second
	j.MaxBackoff = time.Duration(maxBackoffSec) * time.Second
	return &j, nil
}

func (s *SQLiteDatabase) CreateJobRun(ctx context.Context, run core.JobRun) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_id, tld, kind, target_date, started_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, run.JobID, run.TLD, string(run.Kind), dateStr(run.TargetDate), run.StartedAt, string(run.Outcome))
	if err != nil {
		return 0, fmt.Errorf("creating job run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		// Another run already holds the (tld, target_date, kind) slot.
		existing, err := s.FindJobRun(ctx, run.TLD, run.Kind, run.TargetDate)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}
		return 0, fmt.Errorf("job run for %s %s %s already exists but could not be located", run.TLD, run.Kind, run.TargetDate)
	}
	return res.LastInsertId()
}

func (s *SQLiteDatabase) FinishJobRun(ctx context.Context, id int64, finishedAt time.Time, outcome core.RunOutcome, stats core.RunStats, errMsg, errClass string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET
			finished_at = ?, outcome = ?,
			stats_bytes_downloaded = ?, stats_labels_parsed = ?, stats_drops_detected = ?, stats_drops_inserted = ?,
			error = ?, error_class = ?
		WHERE id = ?
	`, finishedAt, string(outcome), stats.BytesDownloaded, stats.LabelsParsed, stats.DropsDetected, stats.DropsInserted,
		errMsg, errClass, id)
	if err != nil {
		return fmt.Errorf("finishing job run %d: %w", id, err)
	}
	return requireRowsAffected(res, "job run %d not found", id)
}

func (s *SQLiteDatabase) ListJobRuns(ctx context.Context, filter core.JobRunFilter) ([]core.JobRun, error) {
	var conds []string
	var args []any

	if filter.TLD != "" {
		conds = append(conds, "tld = ?")
		args = append(args, filter.TLD)
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}

	query := `SELECT id, job_id, tld, kind, target_date, started_at, finished_at, outcome,
		stats_bytes_downloaded, stats_labels_parsed, stats_drops_detected, stats_drops_inserted, error, error_class
		FROM job_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing job runs: %w", err)
	}
	defer rows.Close()

	var out []core.JobRun
	for rows.Next() {
		r, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) LatestRunFor(ctx context.Context, tld string, kind core.JobKind) (*core.JobRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, tld, kind, target_date, started_at, finished_at, outcome,
			stats_bytes_downloaded, stats_labels_parsed, stats_drops_detected, stats_drops_inserted, error, error_class
		FROM job_runs WHERE tld = ? AND kind = ? ORDER BY started_at DESC LIMIT 1
	`, tld, string(kind))
	r, err := scanJobRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest run for %s %s: %w", tld, kind, err)
	}
	return r, nil
}

func (s *SQLiteDatabase) FindJobRun(ctx context.Context, tld string, kind core.JobKind, targetDate core.Date) (*core.JobRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, tld, kind, target_date, started_at, finished_at, outcome,
			stats_bytes_downloaded, stats_labels_parsed, stats_drops_detected, stats_drops_inserted, error, error_class
		FROM job_runs WHERE tld = ? AND kind = ? AND target_date = ?
		ORDER BY outcome IN ('failed', 'skipped'), started_at DESC LIMIT 1
	`, tld, string(kind), dateStr(targetDate))
	r, err := scanJobRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding job run for %s %s %s: %w", tld, kind, targetDate, err)
	}
	return r, nil
}

func (s *SQLiteDatabase) CountJobsByStatus(ctx context.Context) (map[core.RunOutcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM (
			SELECT tld, kind, outcome,
				ROW_NUMBER() OVER (PARTITION BY tld, kind ORDER BY started_at DESC) AS rn
			FROM job_runs
		) WHERE rn = 1
		GROUP BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}
	defer rows.Close()

	out := make(map[core.RunOutcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scanning job status count: %w", err)
		}
		out[core.RunOutcome(outcome)] = count
	}
	return out, rows.Err()
}

func scanJobRun(row scanner) (*core.JobRun, error) {
	var r core.JobRun
	var kind, outcome, targetDate string
	var finishedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.JobID, &r.TLD, &kind, &targetDate, &r.StartedAt, &finishedAt, &outcome,
		&r.Stats.BytesDownloaded, &r.Stats.LabelsParsed, &r.Stats.DropsDetected, &r.Stats.DropsInserted,
		&r.Error, &r.ErrorClass); err != nil {
		return nil, err
	}
	r.Kind = core.JobKind(kind)
	r.Outcome = core.RunOutcome(outcome)
	r.TargetDate = parseDate(targetDate)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate runs all pending migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// BackupTo creates a complete copy of the database at destPath.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func requireRowsAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf(format, args...)
	}
	return nil
}

var _ core.Database = (*SQLiteDatabase)(nil)
