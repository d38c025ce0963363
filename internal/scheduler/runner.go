package scheduler

import (
	"context"

	"dropwatch-go/internal/core"
)

// Runner executes one (tld, kind, date) ingestion cycle. The ingestion
// coordinator implements this; the scheduler only knows how to drive it
// under lease, timeout, and retry policy.
type Runner interface {
	Run(ctx context.Context, tld string, kind core.JobKind, date core.Date) (core.RunStats, error)
}
