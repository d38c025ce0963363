package czds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dropwatch-go/internal/core"
)

// LocalCZDSClient serves zone files from a local directory instead of the
// live CZDS API, as a local-file fallback mode: one
// file per TLD, named "<tld>.zone" or "<tld>.zone.gz", under Dir. Useful
// for the replay command and for development without live credentials.
type LocalCZDSClient struct {
	Dir string
}

var _ core.CZDSClient = (*LocalCZDSClient)(nil)

// NewLocalClient creates a LocalCZDSClient rooted at dir.
func NewLocalClient(dir string) *LocalCZDSClient {
	return &LocalCZDSClient{Dir: dir}
}

// Authenticate is a no-op: local mode needs no credentials.
func (c *LocalCZDSClient) Authenticate(ctx context.Context) error { return nil }

// ListZones returns one ZoneLink per "*.zone" or "*.zone.gz" file in Dir.
func (c *LocalCZDSClient) ListZones(ctx context.Context) ([]core.ZoneLink, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing local zones directory %s: %w", c.Dir, err)
	}
	var links []core.ZoneLink
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var tld string
		switch {
		case strings.HasSuffix(name, ".zone.gz"):
			tld = strings.TrimSuffix(name, ".zone.gz")
		case strings.HasSuffix(name, ".zone"):
			tld = strings.TrimSuffix(name, ".zone")
		default:
			continue
		}
		tld = strings.ToLower(tld)
		if _, ok := seen[tld]; ok {
			continue
		}
		seen[tld] = struct{}{}
		links = append(links, core.ZoneLink{TLD: tld, URL: filepath.Join(c.Dir, name)})
	}
	return links, nil
}

// HeadZone stats the local file backing link.
func (c *LocalCZDSClient) HeadZone(ctx context.Context, link core.ZoneLink) (core.ZoneInfo, error) {
	fi, err := os.Stat(link.URL)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ZoneInfo{}, &core.FatalIOError{Msg: fmt.Sprintf("no local zone file for %s", link.TLD), Err: err}
		}
		return core.ZoneInfo{}, fmt.Errorf("stat local zone file: %w", err)
	}
	return core.ZoneInfo{ContentLength: fi.Size(), LastModified: fi.ModTime()}, nil
}

// DownloadZone opens the local file backing link. URL is treated as a
// filesystem path, per ListZones's construction.
func (c *LocalCZDSClient) DownloadZone(ctx context.Context, link core.ZoneLink) (core.ZoneDownload, error) {
	f, err := os.Open(link.URL)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ZoneDownload{}, &core.FatalIOError{Msg: fmt.Sprintf("no local zone file for %s", link.TLD), Err: err}
		}
		return core.ZoneDownload{}, fmt.Errorf("opening local zone file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return core.ZoneDownload{}, fmt.Errorf("stat local zone file: %w", err)
	}
	return core.ZoneDownload{
		Body:          f,
		ContentLength: fi.Size(),
		Compressed:    strings.HasSuffix(link.URL, ".gz"),
	}, nil
}
