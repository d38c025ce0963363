package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"dropwatch-go/internal/core"
)

// StubCZDSClient is a canned core.CZDSClient for tests: zones and zone
// bodies are set up ahead of time, and Authenticate and DownloadZone calls
// are counted so tests can assert on retry/backoff behavior.
type StubCZDSClient struct {
	mu sync.Mutex

	Zones      []core.ZoneLink
	Bodies     map[string]string // url -> zone-file text
	AuthErr    error
	ListErr    error
	HeadErr    error
	DownloadErr error

	AuthCalls     int
	DownloadCalls map[string]int
}

// NewStubCZDSClient creates an empty stub client.
func NewStubCZDSClient() *StubCZDSClient {
	return &StubCZDSClient{
		Bodies:        make(map[string]string),
		DownloadCalls: make(map[string]int),
	}
}

func (c *StubCZDSClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AuthCalls++
	return c.AuthErr
}

func (c *StubCZDSClient) ListZones(ctx context.Context) ([]core.ZoneLink, error) {
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return c.Zones, nil
}

func (c *StubCZDSClient) HeadZone(ctx context.Context, link core.ZoneLink) (core.ZoneInfo, error) {
	if c.HeadErr != nil {
		return core.ZoneInfo{}, c.HeadErr
	}
	body := c.Bodies[link.URL]
	return core.ZoneInfo{ContentLength: int64(len(body))}, nil
}

func (c *StubCZDSClient) DownloadZone(ctx context.Context, link core.ZoneLink) (core.ZoneDownload, error) {
	c.mu.Lock()
	c.DownloadCalls[link.URL]++
	c.mu.Unlock()

	if c.DownloadErr != nil {
		return core.ZoneDownload{}, c.DownloadErr
	}
	body := c.Bodies[link.URL]
	return core.ZoneDownload{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}, nil
}

var _ core.CZDSClient = (*StubCZDSClient)(nil)
