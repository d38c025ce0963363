package app

import (
	"context"
	"fmt"
	"os"

	"dropwatch-go/internal/config"
	"dropwatch-go/internal/coordinator"
	"dropwatch-go/internal/core"
	"dropwatch-go/internal/czds"
	"dropwatch-go/internal/database"
	"dropwatch-go/internal/encryption"
	"dropwatch-go/internal/scheduler"
	"dropwatch-go/internal/watchlist"
	"dropwatch-go/internal/zonestore"
)

// DropwatchApp is the application layer between the CLI and the ingestion
// pipeline. It constructs all dependencies from config and exposes
// high-level operations the CLI commands drive.
type DropwatchApp struct {
	cfg         *config.Config
	db          core.Database
	store       core.ZoneStore
	czdsClient  core.CZDSClient
	matcher     *watchlist.Matcher
	coordinator *coordinator.Coordinator
	scheduler   *scheduler.Scheduler
	logger      core.Logger
	logFile     *os.File
}

// Options configures how New wires optional pieces.
type Options struct {
	// LocalZoneDir, if set, makes the app read zone files from a local
	// directory instead of calling the live CZDS API (used by the replay
	// command and local development).
	LocalZoneDir string

	// EncryptionPassphrase unlocks the session-cache encryptor. Left empty,
	// the CZDS client skips the on-disk session cache and re-authenticates
	// every run.
	EncryptionPassphrase string

	// Scorer rates dropped labels; nil disables quality scoring.
	Scorer core.QualityScorer
}

// New creates a fully wired DropwatchApp from the given config. The caller
// must call Close when done.
func New(cfg *config.Config, opID string, opts Options) (*DropwatchApp, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	store, err := zonestore.NewZoneStoreFromConfig(cfg.ZoneStore)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zone store: %w", err)
	}

	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapted := &slogAdapter{l: logger}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		closeLogFile(logFile)
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	var decryptCtx core.DecryptionContext
	if encryptor.IsConfigured() && opts.EncryptionPassphrase != "" {
		decryptCtx, err = encryptor.Unlock(opts.EncryptionPassphrase)
		if err != nil {
			db.Close()
			closeLogFile(logFile)
			return nil, fmt.Errorf("unlocking session cache: %w", err)
		}
	}

	czdsClient := czds.NewClientFromConfig(cfg.CZDS, opts.LocalZoneDir, encryptor, decryptCtx)

	matcher := watchlist.New(db)
	if err := matcher.Load(context.Background()); err != nil {
		db.Close()
		closeLogFile(logFile)
		return nil, fmt.Errorf("loading watchlists: %w", err)
	}

	coord := coordinator.New(czdsClient, store, db, opts.Scorer, matcher, adapted)

	sched := scheduler.New(db, core.RealClock{}, adapted, coord)
	sched.WorkerCount = cfg.Scheduler.WorkerCount
	sched.CatchUpHorizon = cfg.Scheduler.CatchUpHorizon
	sched.PollInterval = cfg.Scheduler.PollInterval

	return &DropwatchApp{
		cfg:         cfg,
		db:          db,
		store:       store,
		czdsClient:  czdsClient,
		matcher:     matcher,
		coordinator: coord,
		scheduler:   sched,
		logger:      adapted,
		logFile:     logFile,
	}, nil
}

// RunOnce executes a single ingestion cycle for tld targeting date, bypassing
// the scheduler's lease and retry machinery — used by the ingest and replay
// CLI commands, which want immediate, synchronous feedback.
func (a *DropwatchApp) RunOnce(ctx context.Context, tld string, kind core.JobKind, date core.Date) (core.RunStats, error) {
	if err := a.db.UpsertTLD(ctx, core.TLD{Name: tld, IsActive: true}); err != nil {
		return core.RunStats{}, fmt.Errorf("registering tld: %w", err)
	}
	return a.coordinator.Run(ctx, tld, kind, date)
}

// RunCatchUp executes every currently due catch-up ticket synchronously,
// under the scheduler's normal lease and retry policy.
func (a *DropwatchApp) RunCatchUp(ctx context.Context) error {
	return a.scheduler.RunCatchUpNow(ctx)
}

// SetCatchUpHorizon overrides the configured catch-up horizon, in days.
func (a *DropwatchApp) SetCatchUpHorizon(days int) {
	a.scheduler.CatchUpHorizon = days
}

// Serve runs the scheduler's poll loop until ctx is canceled.
func (a *DropwatchApp) Serve(ctx context.Context) error {
	return a.scheduler.Run(ctx)
}

// Database exposes the underlying store for admin commands (list/enable
// TLDs and jobs, inspect run history).
func (a *DropwatchApp) Database() core.Database { return a.db }

// Close closes all resources held by the app.
func (a *DropwatchApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	closeLogFile(a.logFile)
	return firstErr
}

func closeLogFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}
