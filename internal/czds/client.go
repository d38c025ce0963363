// Package czds implements the authenticated HTTP client for ICANN's
// Centralized Zone Data Service: login, zone listing, metadata probing,
// and resumable streaming downloads.
package czds

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dropwatch-go/internal/config"
	"dropwatch-go/internal/core"
)

const userAgent = "dropwatch/1.0 (CZDS API Client)"

// refreshBuffer is how far ahead of expiry the client proactively
// re-authenticates.
const refreshBuffer = 5 * time.Minute

// Client implements core.CZDSClient against the real CZDS REST API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *limiter
	maxRetries int

	inactivityTimeout time.Duration

	session *sessionStore

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ core.CZDSClient = (*Client)(nil)

// Options configures a Client beyond what config.CZDSConfig carries.
type Options struct {
	Username          string
	Password          string
	Encryptor         core.Encryptor
	Decrypt           core.DecryptionContext
	InactivityTimeout time.Duration // per-byte stall timeout on downloads, default 60s
}

// New builds a Client from cfg and opts. Username/Password come from opts
// (resolved by the caller from the configured environment variables), never
// from the config file itself.
func New(cfg config.CZDSConfig, opts Options) *Client {
	inactivity := opts.InactivityTimeout
	if inactivity <= 0 {
		inactivity = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		username:          opts.Username,
		password:          opts.Password,
		httpClient:        &http.Client{Timeout: 0}, // per-request deadlines come from ctx
		limiter:           newLimiter(cfg.RequestsPerSec, cfg.Burst),
		maxRetries:        maxRetries,
		inactivityTimeout: inactivity,
		session:           newSessionStore(cfg.SessionCachePath, opts.Encryptor, opts.Decrypt),
	}
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate obtains a bearer token, consulting the on-disk cache first
// and falling back to a fresh login against the credential endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	if c.token != "" && time.Now().Add(refreshBuffer).Before(c.tokenExpiry) {
		return nil
	}

	if cached, err := c.session.Load(); err == nil && cached != nil {
		if time.Now().Add(refreshBuffer).Before(cached.ExpiresAt) {
			c.token = cached.Token
			c.tokenExpiry = cached.ExpiresAt
			return nil
		}
	}

	if c.username == "" || c.password == "" {
		return &core.ConfigError{Msg: "CZDS credentials not configured"}
	}

	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return fmt.Errorf("encoding auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authenticate", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.TransientIOError{Msg: "authenticating with CZDS", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &core.FatalIOError{Msg: "invalid CZDS credentials", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, "authenticating with CZDS")
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding auth response: %w", err)
	}
	if parsed.AccessToken == "" {
		return &core.FatalIOError{Msg: "no access token in CZDS auth response"}
	}

	c.token = parsed.AccessToken
	c.tokenExpiry = tokenExpiry(parsed.AccessToken)

	if err := c.session.Save(cachedSession{Token: c.token, ExpiresAt: c.tokenExpiry}); err != nil {
		// Caching is best-effort: a fresh login next run is fine.
		_ = err
	}
	return nil
}

// tokenExpiry extracts the exp claim from the access token without
// verifying its signature (CZDS signs with a key we don't hold), falling
// back to a 24h assumption if the token isn't a parseable JWT.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(24 * time.Hour)
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authenticateLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *Client) forceReauthenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return c.authenticateLocked(ctx)
}

// doAuthorized issues req with a bearer token, re-authenticating once and
// retrying on a 401.
func (c *Client) doAuthorized(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.TransientIOError{Msg: "calling CZDS", Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := c.forceReauthenticate(ctx); err != nil {
			return nil, err
		}
		token, err = c.bearer(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, &core.TransientIOError{Msg: "calling CZDS after re-auth", Err: err}
		}
	}
	return resp, nil
}

// ListZones returns every zone link this account is authorized to download.
func (c *Client) ListZones(ctx context.Context) ([]core.ZoneLink, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/czds/downloads/links", nil)
	if err != nil {
		return nil, fmt.Errorf("building list-zones request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doAuthorized(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, "listing zones")
	}

	var urls []string
	if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
		return nil, fmt.Errorf("decoding zone links: %w", err)
	}

	links := make([]core.ZoneLink, 0, len(urls))
	for _, u := range urls {
		links = append(links, core.ZoneLink{TLD: tldFromURL(u), URL: u})
	}
	return links, nil
}

// tldFromURL extracts the TLD name from a CZDS download link of the form
// ".../czds/downloads/<tld>.zone" or ".../czds/downloads/<tld>.zone.gz".
func tldFromURL(u string) string {
	name := u
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSuffix(name, ".gz")
	return strings.ToLower(strings.TrimSuffix(name, ".zone"))
}

// HeadZone probes a zone link's metadata without downloading the body.
func (c *Client) HeadZone(ctx context.Context, link core.ZoneLink) (core.ZoneInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link.URL, nil)
	if err != nil {
		return core.ZoneInfo{}, fmt.Errorf("building head request: %w", err)
	}

	resp, err := c.doAuthorized(ctx, req)
	if err != nil {
		return core.ZoneInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.ZoneInfo{}, classifyStatus(resp.StatusCode, "probing zone metadata for "+link.TLD)
	}

	info := core.ZoneInfo{ContentLength: resp.ContentLength, ETag: resp.Header.Get("ETag")}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

// DownloadZone streams the zone file body, transparently decoding gzip if
// the server sends compressed bytes. Retries transient failures with
// exponential backoff.
func (c *Client) DownloadZone(ctx context.Context, link core.ZoneLink) (core.ZoneDownload, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return core.ZoneDownload{}, ctx.Err()
			case <-time.After(backoff(attempt-1, 2*time.Second, 5*time.Minute)):
			}
		}

		dl, err := c.downloadOnce(ctx, link)
		if err == nil {
			return dl, nil
		}
		lastErr = err
		if !core.IsRetryable(err) {
			return core.ZoneDownload{}, err
		}
	}
	return core.ZoneDownload{}, fmt.Errorf("downloading zone for %s after %d attempts: %w", link.TLD, c.maxRetries+1, lastErr)
}

func (c *Client) downloadOnce(ctx context.Context, link core.ZoneLink) (core.ZoneDownload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		return core.ZoneDownload{}, fmt.Errorf("building download request: %w", err)
	}

	resp, err := c.doAuthorized(ctx, req)
	if err != nil {
		return core.ZoneDownload{}, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return core.ZoneDownload{}, classifyStatus(resp.StatusCode, "downloading zone for "+link.TLD)
	}

	compressed := strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") || looksGzip(link.URL)
	current := &closeWrapper{r: &stallGuard{r: resp.Body, timeout: c.inactivityTimeout}, c: resp.Body}

	var body io.ReadCloser = current
	if resp.Header.Get("Accept-Ranges") == "bytes" {
		body = &resumableBody{
			c:          c,
			ctx:        ctx,
			link:       link,
			current:    current,
			etag:       resp.Header.Get("ETag"),
			lastMod:    parseLastModified(resp.Header.Get("Last-Modified")),
			maxRetries: c.maxRetries,
		}
	}

	return core.ZoneDownload{
		Body:          body,
		ContentLength: resp.ContentLength,
		Compressed:    compressed,
	}, nil
}

func parseLastModified(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// resumableBody wraps a download's HTTP body so a stalled or dropped
// connection resumes with a Range request continuing from the last byte
// received, validated with If-Range against the original response's ETag
// (or Last-Modified, if no ETag). If the server doesn't honor the resume —
// a 200 instead of 206, meaning the file changed or range support was only
// advertised via Accept-Ranges and not actually implemented — the read
// error propagates so the caller discards the partial file and restarts
// the download from scratch.
type resumableBody struct {
	c       *Client
	ctx     context.Context
	link    core.ZoneLink
	current io.ReadCloser
	read    int64

	etag    string
	lastMod time.Time

	retries    int
	maxRetries int
}

func (b *resumableBody) Read(p []byte) (int, error) {
	n, err := b.current.Read(p)
	b.read += int64(n)
	if err == nil || err == io.EOF {
		return n, err
	}
	if !core.IsRetryable(err) || b.retries >= b.maxRetries {
		return n, err
	}
	b.retries++
	if resumeErr := b.resume(); resumeErr != nil {
		return n, err
	}
	return n, nil
}

func (b *resumableBody) resume() error {
	req, err := http.NewRequestWithContext(b.ctx, http.MethodGet, b.link.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", b.read))
	switch {
	case b.etag != "":
		req.Header.Set("If-Range", b.etag)
	case !b.lastMod.IsZero():
		req.Header.Set("If-Range", b.lastMod.UTC().Format(http.TimeFormat))
	}

	resp, err := b.c.doAuthorized(b.ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return fmt.Errorf("server did not honor range resume (status %d)", resp.StatusCode)
	}

	b.current.Close()
	b.current = &closeWrapper{r: &stallGuard{r: resp.Body, timeout: b.c.inactivityTimeout}, c: resp.Body}
	return nil
}

func (b *resumableBody) Close() error { return b.current.Close() }

func looksGzip(url string) bool {
	return strings.HasSuffix(url, ".gz")
}

// classifyStatus turns an unexpected HTTP status into the appropriate
// typed error: 408/429 and 5xx are transient, everything else is fatal.
func classifyStatus(status int, action string) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return &core.TransientIOError{Msg: fmt.Sprintf("%s: unexpected status %d", action, status)}
	case status == http.StatusNotFound:
		return &core.FatalIOError{Msg: fmt.Sprintf("%s: zone no longer authorized", action), StatusCode: status}
	default:
		return &core.FatalIOError{Msg: fmt.Sprintf("%s: unexpected status %d", action, status), StatusCode: status}
	}
}

// stallGuard wraps a reader and fails with a TransientIOError if a Read
// call blocks longer than timeout without producing bytes, enforcing an
// per-byte inactivity timeout.
type stallGuard struct {
	r       io.Reader
	timeout time.Duration
}

func (g *stallGuard) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := g.r.Read(p)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(g.timeout):
		return 0, &core.TransientIOError{Msg: fmt.Sprintf("no data received for %s", g.timeout)}
	}
}

// closeWrapper lets DownloadZone return a reader decorated with stallGuard
// while still closing the underlying HTTP response body.
type closeWrapper struct {
	r io.Reader
	c io.Closer
}

func (w *closeWrapper) Read(p []byte) (int, error) { return w.r.Read(p) }
func (w *closeWrapper) Close() error               { return w.c.Close() }

// DecodeBody returns a reader that transparently gunzips dl.Body when
// dl.Compressed is set. Callers (the ingestion coordinator) use this before
// handing the stream to the zone parser and the zone store commit.
func DecodeBody(dl core.ZoneDownload) (io.ReadCloser, error) {
	if !dl.Compressed {
		return dl.Body, nil
	}
	gz, err := gzip.NewReader(dl.Body)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	return &gzipCloser{gz: gz, underlying: dl.Body}, nil
}

type gzipCloser struct {
	gz         *gzip.Reader
	underlying io.Closer
}

func (g *gzipCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipCloser) Close() error {
	err := g.gz.Close()
	if cerr := g.underlying.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ComputeSHA256 hashes r fully, used by the coordinator to fill in
// ZoneStore.Commit's checksum argument once a download is complete.
func ComputeSHA256(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}
