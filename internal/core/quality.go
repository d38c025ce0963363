package core

import "context"

// QualityScorer rates a dropped label's brandability/memorability on a 0..100
// scale. Optional: drop detection proceeds with a nil score when absent or
// when Score returns an error, since scoring never blocks ingestion.
type QualityScorer interface {
	Score(ctx context.Context, label string) (int, error)
}
