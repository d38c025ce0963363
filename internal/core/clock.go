package core

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so scheduling and job-run bookkeeping are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique string ID generation so tests are
// deterministic. JobRun IDs are database row IDs and do not come from it.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
