package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"

	"github.com/charmbracelet/log"
)

// DefaultTimeout bounds a single manifest request.
const DefaultTimeout = 5 * time.Second

// maxManifestSize caps how much of the response body is read.
const maxManifestSize = 1 << 20

// Error variables for specific error conditions.
var (
	ErrNetworkFailure    = errors.New("network request failed")
	ErrMalformedManifest = errors.New("malformed manifest")
	ErrProjectNotFound   = errors.New("project not found in manifest")
	ErrInvalidVersion    = errors.New("invalid version format")
)

// ManifestRecord is one project's entry in the remote manifest.
type ManifestRecord struct {
	LatestVersion  string `json:"latest_version"`
	LastUpdateDate string `json:"last_update_date"`
	RepoURL        string `json:"repo_url"`
	Note           string `json:"note"`
}

// Fetcher retrieves a project's manifest record.
type Fetcher interface {
	Fetch(ctx context.Context, project string, timeout time.Duration) (ManifestRecord, error)
}

// ManifestFetcher reads the manifest over HTTP. A request that fails at the
// network level is retried exactly once through the configured proxy.
type ManifestFetcher struct {
	manifestURL string
	proxyURL    *url.URL
	proxyErr    error
	base        *http.Transport
	logger      *log.Logger
}

// FetcherOption configures a ManifestFetcher.
type FetcherOption func(*ManifestFetcher)

// WithProxy sets the fallback proxy as "host:port" or a full URL.
// An empty address disables the fallback.
func WithProxy(addr string) FetcherOption {
	return func(f *ManifestFetcher) {
		f.proxyURL, f.proxyErr = parseProxy(addr)
	}
}

// WithTransport sets the transport both routes are cloned from.
func WithTransport(t *http.Transport) FetcherOption {
	return func(f *ManifestFetcher) {
		f.base = t
	}
}

// WithFetcherLogger routes fetch diagnostics to logger.
func WithFetcherLogger(logger *log.Logger) FetcherOption {
	return func(f *ManifestFetcher) {
		f.logger = logger
	}
}

// NewManifestFetcher creates a fetcher for the manifest at manifestURL.
func NewManifestFetcher(manifestURL string, opts ...FetcherOption) *ManifestFetcher {
	f := &ManifestFetcher{manifestURL: manifestURL}
	for _, opt := range opts {
		opt(f)
	}
	if f.base == nil {
		f.base = http.DefaultTransport.(*http.Transport)
	}
	if f.logger == nil {
		f.logger = debug.Logger()
	}
	return f
}

func parseProxy(addr string) (*url.URL, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", addr, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", addr)
	}
	return u, nil
}

// client returns an HTTP client for one route. A nil proxy forces a direct
// connection regardless of HTTP_PROXY and friends.
func (f *ManifestFetcher) client(proxy *url.URL) *http.Client {
	t := f.base.Clone()
	t.Proxy = nil
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Transport: t}
}

// Fetch returns the manifest record for project. Each attempt is bounded by
// timeout. Errors carry the network_unreachable or malformed_manifest code.
func (f *ManifestFetcher) Fetch(ctx context.Context, project string, timeout time.Duration) (ManifestRecord, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	f.logger.Debug("fetching manifest", "url", f.manifestURL, "project", project)
	body, err := f.get(ctx, f.client(nil), timeout)
	var netErr *networkError
	if errors.As(err, &netErr) && ctx.Err() == nil {
		switch {
		case f.proxyErr != nil:
			f.logger.Debug("proxy fallback unavailable", "err", f.proxyErr)
		case f.proxyURL != nil:
			f.logger.Debug("direct fetch failed, retrying through proxy", "err", err, "proxy", f.proxyURL.Host)
			body, err = f.get(ctx, f.client(f.proxyURL), timeout)
		}
	}
	if err != nil {
		return ManifestRecord{}, appErrors.New(appErrors.CodeNetworkUnreachable,
			fmt.Sprintf("fetch %s: %v", f.manifestURL, err), err)
	}

	rec, err := decodeManifest(body, project)
	if err != nil {
		return ManifestRecord{}, appErrors.New(appErrors.CodeMalformedManifest,
			fmt.Sprintf("read %s: %v", f.manifestURL, err), err)
	}
	return rec, nil
}

// networkError marks a failure before any HTTP response arrived; only these
// are worth retrying through the proxy.
type networkError struct {
	err error
}

func (e *networkError) Error() string { return e.err.Error() }
func (e *networkError) Unwrap() error { return e.err }

func (f *ManifestFetcher) get(ctx context.Context, client *http.Client, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "updatecheck")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &networkError{err: fmt.Errorf("%w: %v", ErrNetworkFailure, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, &networkError{err: fmt.Errorf("%w: read body: %v", ErrNetworkFailure, err)}
	}
	return body, nil
}

func decodeManifest(body []byte, project string) (ManifestRecord, error) {
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(body, &manifest); err != nil {
		return ManifestRecord{}, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	raw, ok := manifest[project]
	if !ok {
		return ManifestRecord{}, fmt.Errorf("%w: %q", ErrProjectNotFound, project)
	}
	var rec ManifestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ManifestRecord{}, fmt.Errorf("%w: project %q: %v", ErrMalformedManifest, project, err)
	}
	if strings.TrimSpace(rec.LatestVersion) == "" {
		return ManifestRecord{}, fmt.Errorf("%w: project %q has no latest_version", ErrMalformedManifest, project)
	}
	return rec, nil
}

var _ Fetcher = (*ManifestFetcher)(nil)
