// Package coordinator drives one (tld, date) ingestion cycle end to end:
// fetch, parse, diff, persist, and watchlist matching. It implements
// scheduler.Runner so the scheduler can drive it under lease and retry
// policy without knowing any of these steps.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"dropwatch-go/internal/core"
	"dropwatch-go/internal/czds"
	"dropwatch-go/internal/dropdetect"
	"dropwatch-go/internal/persist"
	"dropwatch-go/internal/watchlist"
	"dropwatch-go/internal/zoneparser"
)

// Coordinator wires together the CZDS client, zone store, parser, detector,
// persister, and watchlist matcher for one TLD's daily cycle.
type Coordinator struct {
	CZDS      core.CZDSClient
	ZoneStore core.ZoneStore
	DB        core.Database
	Parser    *zoneparser.Parser
	Detector  *dropdetect.Detector
	Persister *persist.Persister
	Matcher   *watchlist.Matcher
	Logger    core.Logger
}

// New builds a Coordinator from its component parts. matcher may be nil to
// skip watchlist evaluation.
func New(czdsClient core.CZDSClient, store core.ZoneStore, db core.Database, scorer core.QualityScorer, matcher *watchlist.Matcher, logger core.Logger) *Coordinator {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Coordinator{
		CZDS:      czdsClient,
		ZoneStore: store,
		DB:        db,
		Parser:    &zoneparser.Parser{},
		Detector:  dropdetect.New(scorer),
		Persister: persist.New(db),
		Matcher:   matcher,
		Logger:    logger,
	}
}

// Run executes one ingestion cycle for tld targeting date. kind selects
// which phases run: JobIngest fetches only, JobParse/JobDetect assume the
// snapshot already exists, JobFull does everything.
func (c *Coordinator) Run(ctx context.Context, tld string, kind core.JobKind, date core.Date) (core.RunStats, error) {
	var stats core.RunStats

	if kind == core.JobIngest || kind == core.JobFull {
		bytes, err := c.fetchIfMissing(ctx, tld, date)
		if err != nil {
			return stats, err
		}
		stats.BytesDownloaded = bytes
	}

	if kind == core.JobIngest {
		return stats, nil
	}

	prevDate, err := c.ZoneStore.LatestBefore(ctx, tld, date)
	if err != nil {
		return stats, &core.TransientIOError{Msg: "looking up prior snapshot", Err: err}
	}
	if prevDate == nil {
		return stats, &core.MissingBaselineError{TLD: tld, Date: date}
	}

	today, err := c.parseSnapshot(ctx, tld, date)
	if err != nil {
		return stats, err
	}
	defer today.Close()
	stats.LabelsParsed = int64(today.Len())

	prev, err := c.parseSnapshot(ctx, tld, *prevDate)
	if err != nil {
		return stats, err
	}
	defer prev.Close()

	if kind == core.JobParse {
		return stats, nil
	}

	drops, err := c.Detector.Detect(ctx, tld, date, prev, today)
	if err != nil {
		return stats, err
	}
	stats.DropsDetected = int64(len(drops))

	res, err := c.Persister.SaveDrops(ctx, drops)
	if err != nil {
		return stats, &core.TransientIOError{Msg: "saving drops", Err: err}
	}
	stats.DropsInserted = int64(res.Inserted)

	if c.Matcher != nil && len(res.Drops) > 0 {
		// res.Drops, not drops: only the persisted records carry real
		// database IDs, which matches need to record which drop they matched.
		if _, err := c.Matcher.MatchAll(ctx, res.Drops); err != nil {
			return stats, &core.TransientIOError{Msg: "matching watchlists", Err: err}
		}
	}

	if err := c.Persister.MarkImportComplete(ctx, tld, date, len(drops)); err != nil {
		return stats, &core.TransientIOError{Msg: "recording import marker", Err: err}
	}

	return stats, nil
}

// fetchIfMissing downloads and commits tld's snapshot for date unless one
// is already stored, per the store's content-addressed skip-fetch contract.
func (c *Coordinator) fetchIfMissing(ctx context.Context, tld string, date core.Date) (int64, error) {
	exists, err := c.ZoneStore.Exists(ctx, tld, date)
	if err != nil {
		return 0, &core.TransientIOError{Msg: "checking snapshot existence", Err: err}
	}
	if exists {
		return 0, nil
	}

	if err := c.CZDS.Authenticate(ctx); err != nil {
		return 0, err
	}
	links, err := c.CZDS.ListZones(ctx)
	if err != nil {
		return 0, err
	}
	var link *core.ZoneLink
	for i := range links {
		if links[i].TLD == tld {
			link = &links[i]
			break
		}
	}
	if link == nil {
		return 0, &core.FatalIOError{Msg: fmt.Sprintf("tld %s not authorized on this CZDS account", tld)}
	}

	dl, err := c.CZDS.DownloadZone(ctx, *link)
	if err != nil {
		return 0, err
	}

	body, err := czds.DecodeBody(dl)
	if err != nil {
		dl.Body.Close()
		return 0, &core.TransientIOError{Msg: "decoding zone download", Err: err}
	}
	defer body.Close()

	handle, err := c.ZoneStore.Reserve(ctx, tld, date)
	if err != nil {
		if _, ok := err.(*core.AlreadyExistsError); ok {
			return 0, nil // lost a race with a concurrent fetch, nothing to do
		}
		return 0, &core.TransientIOError{Msg: "reserving snapshot", Err: err}
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(handle, hasher), body)
	if err != nil {
		handle.Discard()
		return 0, &core.TransientIOError{Msg: "streaming zone download", Err: err}
	}

	if _, err := c.ZoneStore.Commit(ctx, handle, n, hex.EncodeToString(hasher.Sum(nil))); err != nil {
		handle.Discard()
		return 0, &core.TransientIOError{Msg: "committing snapshot", Err: err}
	}
	return n, nil
}

func (c *Coordinator) parseSnapshot(ctx context.Context, tld string, date core.Date) (*zoneparser.LabelSet, error) {
	r, err := c.ZoneStore.Open(ctx, tld, date)
	if err != nil {
		return nil, &core.TransientIOError{Msg: fmt.Sprintf("opening snapshot for %s", date), Err: err}
	}
	defer r.Close()

	set, err := c.Parser.Parse(ctx, r, tld)
	if err != nil {
		if quarantineErr := c.ZoneStore.Quarantine(ctx, tld, date); quarantineErr != nil {
			c.Logger.Warn("failed to quarantine corrupt snapshot", "tld", tld, "date", date, "error", quarantineErr)
		}
		return nil, err
	}
	return set, nil
}
