package testutil

import (
	"dropwatch-go/internal/core"
	"dropwatch-go/internal/zonestore"
)

// NewTestZoneStore creates a new in-memory zone store for testing.
func NewTestZoneStore() core.ZoneStore {
	return zonestore.NewMemoryZoneStore()
}
