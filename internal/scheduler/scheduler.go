// Package scheduler drives per-TLD ingestion on a cron calendar, enforcing
// single-flight execution, timeouts, and retry with backoff.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"dropwatch-go/internal/core"
)

const (
	DefaultWorkerCount    = 4
	DefaultCatchUpHorizon = 7
	DefaultPollInterval   = time.Minute
	DefaultTimeout        = 2 * time.Hour
	DefaultMaxRetries     = 3
	DefaultBaseBackoff    = 30 * time.Second
	DefaultMaxBackoff     = time.Hour
	DefaultGracePeriod    = 30 * time.Second
)

// Scheduler dispatches per-TLD jobs to a bounded worker pool, following
// a multi-threaded parallel-workers model.
type Scheduler struct {
	DB     core.Database
	Clock  core.Clock
	Logger core.Logger
	Runner Runner

	WorkerCount    int
	CatchUpHorizon int
	PollInterval   time.Duration
	GracePeriod    time.Duration

	seq int // ticket submission counter, protected by mu below
	mu  sync.Mutex
}

// New creates a Scheduler with sane defaults for any zero-valued option.
func New(db core.Database, clock core.Clock, logger core.Logger, runner Runner) *Scheduler {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Scheduler{
		DB:             db,
		Clock:          clock,
		Logger:         logger,
		Runner:         runner,
		WorkerCount:    DefaultWorkerCount,
		CatchUpHorizon: DefaultCatchUpHorizon,
		PollInterval:   DefaultPollInterval,
		GracePeriod:    DefaultGracePeriod,
	}
}

func (s *Scheduler) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// DueTickets returns one ticket for every enabled job whose cron
// expression fires at exactly `now` (minute resolution), targeting `now`'s
// calendar date.
func (s *Scheduler) DueTickets(ctx context.Context, now time.Time) ([]ticket, error) {
	jobs, err := s.DB.ListEnabledJobs(ctx)
	if err != nil {
		return nil, err
	}
	today := core.NewDate(now)
	var out []ticket
	for _, job := range jobs {
		sched, err := ParseCron(job.Schedule)
		if err != nil {
			s.Logger.Warn("skipping job with invalid schedule", "tld", job.TLD, "kind", job.Kind, "schedule", job.Schedule, "error", err)
			continue
		}
		if sched.Matches(now) {
			out = append(out, ticket{job: job, targetDate: today, seq: s.nextSeq()})
		}
	}
	return out, nil
}

// CatchUpTickets enqueues one ticket per missing day for every enabled job
// whose TLD fell behind while the process was down, oldest first, bounded
// by CatchUpHorizon.
func (s *Scheduler) CatchUpTickets(ctx context.Context, now time.Time) ([]ticket, error) {
	horizon := s.CatchUpHorizon
	if horizon <= 0 {
		horizon = DefaultCatchUpHorizon
	}
	jobs, err := s.DB.ListEnabledJobs(ctx)
	if err != nil {
		return nil, err
	}
	today := core.NewDate(now)
	yesterday := today.Prev()

	var out []ticket
	for _, job := range jobs {
		tld, err := s.DB.GetTLD(ctx, job.TLD)
		if err != nil || tld == nil {
			continue
		}
		if tld.LastImportDate != nil && !tld.LastImportDate.Before(yesterday) {
			continue // already current
		}

		for _, d := range missingDates(tld.LastImportDate, today, horizon) {
			out = append(out, ticket{job: job, targetDate: d, seq: s.nextSeq()})
		}
	}
	return out, nil
}

// missingDates lists, oldest first, the dates strictly after lastImport
// through yesterday, capped to the most recent horizon days. If lastImport
// is nil (never ingested), it covers the horizon days up to yesterday.
func missingDates(lastImport *core.Date, today core.Date, horizon int) []core.Date {
	yesterday := today.Prev()
	earliest := core.NewDate(yesterday.Time().AddDate(0, 0, -(horizon - 1)))
	if lastImport != nil {
		afterLast := core.NewDate(lastImport.Time().AddDate(0, 0, 1))
		if afterLast.Time().After(earliest.Time()) {
			earliest = afterLast
		}
	}

	var dates []core.Date
	for d := earliest; !d.Time().After(yesterday.Time()); d = core.NewDate(d.Time().AddDate(0, 0, 1)) {
		dates = append(dates, d)
	}
	return dates
}

// acquireLease attempts to win the (tld, target_date, kind) single-flight
// slot. It returns the run ID and true if this call won the race; false
// means another run already holds the slot and the caller should record a
// skipped run instead of executing. On a loss the returned ID is that of
// the run holding the slot (0 if no run could be found).
func (s *Scheduler) acquireLease(ctx context.Context, job core.Job, date core.Date, startedAt time.Time) (runID int64, won bool, err error) {
	if _, err := s.DB.CreateJobRun(ctx, core.JobRun{
		JobID:      job.ID,
		TLD:        job.TLD,
		Kind:       job.Kind,
		TargetDate: date,
		StartedAt:  startedAt,
		Outcome:    core.OutcomeRunning,
	}); err != nil {
		return 0, false, err
	}

	owner, err := s.DB.FindJobRun(ctx, job.TLD, job.Kind, date)
	if err != nil {
		return 0, false, err
	}
	if owner == nil {
		return 0, false, nil
	}
	if !owner.StartedAt.Equal(startedAt) {
		return owner.ID, false, nil
	}
	return owner.ID, true, nil
}

// recordSkipped writes a terminal, skipped JobRun for a ticket that lost
// the single-flight lease. Skipped rows are exempt from the single-flight
// unique index, so any number of them can coexist with the run that won.
func (s *Scheduler) recordSkipped(ctx context.Context, t ticket, startedAt time.Time) {
	runID, err := s.DB.CreateJobRun(ctx, core.JobRun{
		JobID:      t.job.ID,
		TLD:        t.job.TLD,
		Kind:       t.job.Kind,
		TargetDate: t.targetDate,
		StartedAt:  startedAt,
		Outcome:    core.OutcomeSkipped,
	})
	if err != nil {
		s.Logger.Error("failed to record skipped job run", "tld", t.job.TLD, "kind", t.job.Kind, "date", t.targetDate, "error", err)
		return
	}
	if err := s.DB.FinishJobRun(ctx, runID, startedAt, core.OutcomeSkipped, core.RunStats{}, "", ""); err != nil {
		s.Logger.Error("failed to finish skipped job run", "run_id", runID, "error", err)
	}
}

// executeTicket acquires the lease, then runs the job with retry and a
// hard wall-clock timeout, finishing the JobRun in a terminal state.
func (s *Scheduler) executeTicket(ctx context.Context, t ticket) {
	startedAt := s.Clock.Now()
	runID, won, err := s.acquireLease(ctx, t.job, t.targetDate, startedAt)
	if err != nil {
		s.Logger.Error("lease acquisition failed", "tld", t.job.TLD, "kind", t.job.Kind, "date", t.targetDate, "error", err)
		return
	}
	if !won {
		s.recordSkipped(ctx, t, startedAt)
		s.Logger.Info("run skipped: lease already held", "tld", t.job.TLD, "kind", t.job.Kind, "date", t.targetDate)
		return
	}

	timeout := t.job.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := t.job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	baseBackoff := t.job.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = DefaultBaseBackoff
	}
	maxBackoff := t.job.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stats core.RunStats
	var runErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-runCtx.Done():
				break
			case <-time.After(backoff(attempt-1, baseBackoff, maxBackoff)):
			}
		}
		if runCtx.Err() != nil {
			runErr = runCtx.Err()
			break
		}

		stats, runErr = s.Runner.Run(runCtx, t.job.TLD, t.job.Kind, t.targetDate)
		if runErr == nil {
			break
		}

		var missingBaseline *core.MissingBaselineError
		if errors.As(runErr, &missingBaseline) {
			break // treated as success with zero drops
		}
		if !core.IsRetryable(runErr) {
			break
		}
	}

	finishedAt := s.Clock.Now()
	outcome, errMsg, errClass := classifyOutcome(runCtx, runErr)
	if err := s.DB.FinishJobRun(ctx, runID, finishedAt, outcome, stats, errMsg, errClass); err != nil {
		s.Logger.Error("failed to record job run outcome", "run_id", runID, "error", err)
	}

	s.Logger.Info("job run finished",
		"tld", t.job.TLD, "kind", t.job.Kind, "target_date", t.targetDate,
		"outcome", outcome, "duration_ms", finishedAt.Sub(startedAt).Milliseconds(),
		"bytes_downloaded", stats.BytesDownloaded, "labels_parsed", stats.LabelsParsed,
		"drops_detected", stats.DropsDetected, "drops_inserted", stats.DropsInserted,
		"error_class", errClass,
	)
}

// classifyOutcome maps a run's terminal error (if any) to a RunOutcome and
// the log fields that go with it. A MissingBaselineError is success with
// zero drops: the TLD has no prior snapshot to diff against.
func classifyOutcome(ctx context.Context, err error) (core.RunOutcome, string, string) {
	if err == nil {
		return core.OutcomeSuccess, "", ""
	}
	var missingBaseline *core.MissingBaselineError
	if errors.As(err, &missingBaseline) {
		return core.OutcomeSuccess, "", ""
	}
	var cancelErr *core.CancellationError
	if errors.As(err, &cancelErr) || errors.Is(err, context.Canceled) {
		return core.OutcomeFailed, err.Error(), errorClass(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.OutcomeTimedOut, err.Error(), errorClass(err)
	}
	return core.OutcomeFailed, err.Error(), errorClass(err)
}

// RunCatchUpNow executes every currently-due catch-up ticket synchronously
// and returns once all have finished. Used by the catch-up CLI command,
// which wants immediate feedback rather than the background poll loop.
func (s *Scheduler) RunCatchUpNow(ctx context.Context) error {
	tickets, err := s.CatchUpTickets(ctx, s.Clock.Now())
	if err != nil {
		return err
	}
	for _, t := range tickets {
		s.executeTicket(ctx, t)
	}
	return nil
}

// Run drives the scheduler until ctx is canceled: an initial catch-up
// sweep, then a poll loop that dispatches due tickets to a bounded worker
// pool.
func (s *Scheduler) Run(ctx context.Context) error {
	workers := s.WorkerCount
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	pollInterval := s.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	work := make(chan ticket)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				s.executeTicket(ctx, t)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	submit := func(tickets []ticket) {
		h := &ticketHeap{}
		heap.Init(h)
		for _, t := range tickets {
			heap.Push(h, t)
		}
		for h.Len() > 0 {
			t := heap.Pop(h).(ticket)
			select {
			case work <- t:
			case <-ctx.Done():
				return
			}
		}
	}

	catchUp, err := s.CatchUpTickets(ctx, s.Clock.Now())
	if err != nil {
		return err
	}
	submit(catchUp)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			due, err := s.DueTickets(ctx, now)
			if err != nil {
				s.Logger.Error("dispatch tick failed", "error", err)
				continue
			}
			submit(due)
		}
	}
}
