package testutil

import (
	"context"

	"dropwatch-go/internal/core"
)

// StubQualityScorer returns a fixed score, or an error when Err is set.
type StubQualityScorer struct {
	Value int
	Err   error
}

// Score implements core.QualityScorer.
func (s *StubQualityScorer) Score(ctx context.Context, label string) (int, error) {
	return s.Value, s.Err
}

var _ core.QualityScorer = (*StubQualityScorer)(nil)
