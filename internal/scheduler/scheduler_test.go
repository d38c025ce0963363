package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dropwatch-go/internal/core"
	"dropwatch-go/internal/testutil"
)

// countingRunner records how many times Run was invoked and returns a
// scripted sequence of results, one per call (the last entry repeats once
// exhausted).
type countingRunner struct {
	mu      sync.Mutex
	calls   int
	results []error
}

func (r *countingRunner) Run(ctx context.Context, tld string, kind core.JobKind, date core.Date) (core.RunStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.results) {
		idx = len(r.results) - 1
	}
	r.calls++
	return core.RunStats{}, r.results[idx]
}

func (r *countingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func seedJob(t *testing.T, db core.Database, tld string, priority int) core.Job {
	t.Helper()
	if err := db.UpsertTLD(context.Background(), core.TLD{Name: tld, IsActive: true}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}
	job := core.Job{
		TLD:        tld,
		Kind:       core.JobFull,
		Schedule:   "0 0 * * *",
		IsEnabled:  true,
		Priority:   priority,
		Timeout:    time.Minute,
		MaxRetries: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}
	id, err := db.CreateJob(context.Background(), job)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job.ID = id
	return job
}

func TestScheduler_SingleFlightOnlyOneAttemptRuns(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	clock := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	job := seedJob(t, db, "dev", 0)
	date, _ := core.ParseDate("2026-01-01")

	s := New(db, clock, nil, nil)
	startedAt := clock.Now()

	id1, won1, err := s.acquireLease(ctx, job, date, startedAt)
	if err != nil {
		t.Fatalf("first acquireLease() error = %v", err)
	}
	if !won1 {
		t.Fatalf("first acquireLease(): got won = false, want true")
	}

	// A second attempt for the same slot, even with a distinct StartedAt,
	// must lose: the slot is already occupied by a non-failed run.
	id2, won2, err := s.acquireLease(ctx, job, date, startedAt.Add(time.Second))
	if err != nil {
		t.Fatalf("second acquireLease() error = %v", err)
	}
	if won2 {
		t.Fatalf("second acquireLease(): got won = true, want false (slot already held)")
	}
	if id2 != id1 {
		t.Fatalf("second acquireLease() id = %d, want owner id %d", id2, id1)
	}
}

func TestScheduler_ExecuteTicketRecordsSkippedRunForLoser(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	clock := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	job := seedJob(t, db, "dev", 0)
	date, _ := core.ParseDate("2026-01-01")

	runner := &countingRunner{results: []error{nil}}
	s := New(db, clock, nil, runner)

	// Win the lease directly, simulating a run already in flight, then let
	// executeTicket dispatch a second attempt for the same slot.
	startedAt := clock.Now()
	if _, won, err := s.acquireLease(ctx, job, date, startedAt); err != nil || !won {
		t.Fatalf("acquireLease() = (won=%v, err=%v), want (true, nil)", won, err)
	}

	clock.Advance(time.Second)
	s.executeTicket(ctx, ticket{job: job, targetDate: date, seq: 1})

	if got := runner.callCount(); got != 0 {
		t.Fatalf("runner.callCount() = %d, want 0 (loser must not execute)", got)
	}

	runs, err := db.ListJobRuns(ctx, core.JobRunFilter{TLD: "dev", Outcome: core.OutcomeSkipped})
	if err != nil {
		t.Fatalf("ListJobRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("skipped JobRuns = %d, want 1", len(runs))
	}
	if runs[0].TargetDate != date || runs[0].Kind != job.Kind {
		t.Fatalf("skipped run = %+v, want tld/kind/date matching the losing ticket", runs[0])
	}
	if runs[0].FinishedAt == nil {
		t.Fatalf("skipped run FinishedAt is nil, want set")
	}
}

func TestScheduler_ExecuteTicketMissingBaselineIsSuccess(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	clock := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	job := seedJob(t, db, "dev", 0)
	date, _ := core.ParseDate("2026-01-01")

	runner := &countingRunner{results: []error{&core.MissingBaselineError{TLD: "dev", Date: date}}}
	s := New(db, clock, nil, runner)

	s.executeTicket(ctx, ticket{job: job, targetDate: date, seq: 1})

	run, err := db.FindJobRun(ctx, "dev", core.JobFull, date)
	if err != nil {
		t.Fatalf("FindJobRun() error = %v", err)
	}
	if run == nil {
		t.Fatalf("FindJobRun() returned nil run")
	}
	if run.Outcome != core.OutcomeSuccess {
		t.Fatalf("Outcome = %q, want %q", run.Outcome, core.OutcomeSuccess)
	}
	if runner.callCount() != 1 {
		t.Fatalf("Run() called %d times, want 1 (no retry on missing baseline)", runner.callCount())
	}
}

func TestScheduler_ExecuteTicketRetriesTransientThenFails(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	clock := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	job := seedJob(t, db, "dev", 0)
	date, _ := core.ParseDate("2026-01-01")

	transientErr := &core.TransientIOError{Msg: "download", Err: errors.New("connection reset")}
	runner := &countingRunner{results: []error{transientErr, transientErr, transientErr}}
	s := New(db, clock, nil, runner)

	s.executeTicket(ctx, ticket{job: job, targetDate: date, seq: 1})

	// job.MaxRetries == 2, so the runner must be invoked 1 (initial) + 2
	// (retries) = 3 times, and stop there.
	if got := runner.callCount(); got != 3 {
		t.Fatalf("Run() called %d times, want 3", got)
	}

	run, err := db.FindJobRun(ctx, "dev", core.JobFull, date)
	if err != nil {
		t.Fatalf("FindJobRun() error = %v", err)
	}
	if run == nil {
		t.Fatalf("FindJobRun() returned nil run")
	}
	if run.Outcome != core.OutcomeFailed {
		t.Fatalf("Outcome = %q, want %q", run.Outcome, core.OutcomeFailed)
	}
	if run.ErrorClass != "transient_io" {
		t.Fatalf("ErrorClass = %q, want %q", run.ErrorClass, "transient_io")
	}
}

func TestScheduler_ExecuteTicketFatalErrorDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	clock := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	job := seedJob(t, db, "dev", 0)
	date, _ := core.ParseDate("2026-01-01")

	fatalErr := &core.FatalIOError{Msg: "download", Err: errors.New("404 not found")}
	runner := &countingRunner{results: []error{fatalErr}}
	s := New(db, clock, nil, runner)

	s.executeTicket(ctx, ticket{job: job, targetDate: date, seq: 1})

	if got := runner.callCount(); got != 1 {
		t.Fatalf("Run() called %d times, want 1 (fatal errors are not retryable)", got)
	}

	run, err := db.FindJobRun(ctx, "dev", core.JobFull, date)
	if err != nil {
		t.Fatalf("FindJobRun() error = %v", err)
	}
	if run.Outcome != core.OutcomeFailed {
		t.Fatalf("Outcome = %q, want %q", run.Outcome, core.OutcomeFailed)
	}
}

func TestScheduler_ExecuteTicketSucceedsAfterTransientRetry(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	clock := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	job := seedJob(t, db, "dev", 0)
	date, _ := core.ParseDate("2026-01-01")

	transientErr := &core.TransientIOError{Msg: "download", Err: errors.New("timeout")}
	runner := &countingRunner{results: []error{transientErr, nil}}
	s := New(db, clock, nil, runner)

	s.executeTicket(ctx, ticket{job: job, targetDate: date, seq: 1})

	if got := runner.callCount(); got != 2 {
		t.Fatalf("Run() called %d times, want 2", got)
	}

	run, err := db.FindJobRun(ctx, "dev", core.JobFull, date)
	if err != nil {
		t.Fatalf("FindJobRun() error = %v", err)
	}
	if run.Outcome != core.OutcomeSuccess {
		t.Fatalf("Outcome = %q, want %q", run.Outcome, core.OutcomeSuccess)
	}
}

func TestScheduler_DueTicketsMatchesCronExpression(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	_ = seedJob(t, db, "dev", 0) // schedule "0 0 * * *"

	s := New(db, nil, nil, nil)

	due, err := s.DueTickets(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DueTickets() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("DueTickets() at midnight: got %d tickets, want 1", len(due))
	}

	notDue, err := s.DueTickets(ctx, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DueTickets() error = %v", err)
	}
	if len(notDue) != 0 {
		t.Fatalf("DueTickets() at 00:01: got %d tickets, want 0", len(notDue))
	}
}

func TestScheduler_CatchUpTicketsCapsToHorizon(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	seedJob(t, db, "dev", 0)

	// No LastImportDate at all: never ingested. The default horizon is 7
	// days, so exactly 7 tickets should be produced (today excluded, since
	// only full days through yesterday are caught up).
	clock := testutil.NewStubClock(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	s := New(db, clock, nil, nil)

	tickets, err := s.CatchUpTickets(ctx, clock.Now())
	if err != nil {
		t.Fatalf("CatchUpTickets() error = %v", err)
	}
	if len(tickets) != DefaultCatchUpHorizon {
		t.Fatalf("CatchUpTickets() returned %d tickets, want %d", len(tickets), DefaultCatchUpHorizon)
	}

	want, _ := core.ParseDate("2026-01-19")
	if !tickets[len(tickets)-1].targetDate.Equal(want) {
		t.Fatalf("last catch-up ticket date = %v, want %v", tickets[len(tickets)-1].targetDate, want)
	}
}

func TestScheduler_CatchUpTicketsSkipsCurrentTLDs(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	job := seedJob(t, db, "dev", 0)

	clock := testutil.NewStubClock(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	yesterday, _ := core.ParseDate("2026-01-19")
	if err := db.UpsertTLD(ctx, core.TLD{Name: job.TLD, IsActive: true, LastImportDate: &yesterday}); err != nil {
		t.Fatalf("UpsertTLD() error = %v", err)
	}

	s := New(db, clock, nil, nil)
	tickets, err := s.CatchUpTickets(ctx, clock.Now())
	if err != nil {
		t.Fatalf("CatchUpTickets() error = %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("CatchUpTickets() for an up-to-date TLD returned %d tickets, want 0", len(tickets))
	}
}

func TestTicketHeap_OrdersByPriorityThenSubmissionOrder(t *testing.T) {
	h := &ticketHeap{
		{job: core.Job{TLD: "c"}, seq: 2, targetDate: core.Date{}},
	}
	h.Push(ticket{job: core.Job{TLD: "a", Priority: 1}, seq: 1})
	h.Push(ticket{job: core.Job{TLD: "b", Priority: 5}, seq: 3})

	order := []string{}
	for h.Len() > 0 {
		// simple selection without container/heap, exercising Less directly
		best := 0
		for i := 1; i < h.Len(); i++ {
			if h.Less(i, best) {
				best = i
			}
		}
		order = append(order, (*h)[best].job.TLD)
		h.Swap(best, h.Len()-1)
		*h = (*h)[:h.Len()-1]
	}
	want := []string{"c", "a", "b"}
	for i, tld := range want {
		if order[i] != tld {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
