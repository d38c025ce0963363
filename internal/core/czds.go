package core

import (
	"context"
	"io"
	"time"
)

// ZoneLink describes one entry from the CZDS downloads-links listing.
type ZoneLink struct {
	TLD string
	URL string
}

// ZoneInfo is the metadata returned by a HEAD probe against a zone download
// link, used to decide whether a re-download is needed.
type ZoneInfo struct {
	ContentLength int64
	LastModified  time.Time
	ETag          string
}

// ZoneDownload is a streaming zone-file body plus the metadata needed to
// validate it once fully read.
type ZoneDownload struct {
	Body          io.ReadCloser
	ContentLength int64
	Compressed    bool // true if Body yields gzip bytes, not master-format text
}

// CZDSClient is the narrow port over ICANN's Centralized Zone Data Service.
// Implementations handle authentication, token caching, retry, and rate
// limiting; callers see three idempotent-in-intent operations.
type CZDSClient interface {
	// Authenticate obtains or refreshes the bearer token used by the other
	// methods. Implementations cache the token and call this lazily; callers
	// need not invoke it directly. A call made while the cached token is
	// still valid returns without re-authenticating.
	Authenticate(ctx context.Context) error

	// ListZones returns every zone this account is authorized to download.
	ListZones(ctx context.Context) ([]ZoneLink, error)

	// HeadZone probes a zone link's metadata without downloading the body.
	HeadZone(ctx context.Context, link ZoneLink) (ZoneInfo, error)

	// DownloadZone streams the zone file body. The caller must Close it.
	DownloadZone(ctx context.Context, link ZoneLink) (ZoneDownload, error)
}
