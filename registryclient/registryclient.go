// Package registryclient fetches packuments and tarballs over HTTP:
// a redirect-preserving http.Client, and the general shape of "build
// a URL, do a request, handle the error envelope" for npm-style
// packument/tarball GETs with ETag revalidation and auth-header
// injection.
package registryclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
)

// VersionMetadata mirrors one entry of a packument's "versions" map.
type VersionMetadata struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	BundledDependencies  []string          `json:"bundledDependencies"`
	Scripts              map[string]string `json:"scripts"`
	Bin                  map[string]string `json:"bin"`
	Dist                 Dist              `json:"dist"`
	Deprecated           string            `json:"deprecated"`
	OS                   []string          `json:"os"`
	CPU                  []string          `json:"cpu"`
	Engines              map[string]string `json:"engines"`
}

// Dist is a version's download/verification metadata.
type Dist struct {
	Tarball      string `json:"tarball"`
	Integrity    string `json:"integrity"`
	Shasum       string `json:"shasum"`
	FileCount    int    `json:"fileCount,omitempty"`
	UnpackedSize int64  `json:"unpackedSize,omitempty"`
}

// Packument is a registry package's full version listing.
type Packument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]VersionMetadata `json:"versions"`

	// ETag is the response's validator, carried alongside the decoded
	// body so callers can persist it for the next revalidation.
	ETag string `json:"-"`
}

// Client fetches packuments and tarballs from one or more registries,
// selecting credentials and base URLs by scope/origin.
type Client struct {
	http       *http.Client
	cfg        configuration.Registry
	revalidate Revalidator
}

// Revalidator is the persisted ETag cache interface; implemented by
// revalidation.Cache.
type Revalidator interface {
	Lookup(ctx context.Context, url string) (etag string, body []byte, ok bool)
	Store(ctx context.Context, url, etag string, body []byte)
}

// noopRevalidator never has a cached entry; used when no revalidation
// cache was configured.
type noopRevalidator struct{}

func (noopRevalidator) Lookup(context.Context, string) (string, []byte, bool) { return "", nil, false }
func (noopRevalidator) Store(context.Context, string, string, []byte)         {}

// New constructs a Client against the given registry configuration.
// transport, if nil, defaults to http.DefaultTransport; revalidate, if
// nil, disables revalidation caching.
func New(cfg configuration.Registry, transport http.RoundTripper, timeout time.Duration, revalidate Revalidator) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if revalidate == nil {
		revalidate = noopRevalidator{}
	}
	return &Client{
		http: &http.Client{
			Transport:     transport,
			Timeout:       timeout,
			CheckRedirect: checkHTTPRedirect,
		},
		cfg:        cfg,
		revalidate: revalidate,
	}
}

// checkHTTPRedirect preserves Accept/Range headers across redirects.
func checkHTTPRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if len(via) == 0 {
		return nil
	}
	for headerName, headerVals := range via[0].Header {
		if headerName != "Accept" && headerName != "Range" {
			continue
		}
		for _, val := range headerVals {
			hasValue := false
			for _, existingVal := range req.Header[headerName] {
				if existingVal == val {
					hasValue = true
					break
				}
			}
			if !hasValue {
				req.Header.Add(headerName, val)
			}
		}
	}
	return nil
}

// baseURL picks the scoped registry URL, falling back to the default.
func (c *Client) baseURL(scope string) string {
	if scope != "" {
		if u, ok := c.cfg.ScopeURLs[scope]; ok {
			return u
		}
	}
	return c.cfg.URL
}

func origin(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// authorize attaches the credential configured for req's origin, never
// a credential configured for a different origin (redirect safety is
// enforced by only ever looking this up once, before any redirect
// occurs — net/http does not re-invoke this hook on redirect).
func (c *Client) authorize(req *http.Request) {
	cred, ok := c.cfg.Auth[origin(req.URL.String())]
	if !ok {
		return
	}
	switch {
	case cred.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+cred.BearerToken)
	case cred.Username != "" || cred.Password != "":
		req.SetBasicAuth(cred.Username, cred.Password)
	case cred.LegacyToken != "":
		req.Header.Set("Authorization", cred.LegacyToken)
	}
}

// Packument fetches the named package's packument, sending
// If-None-Match when a cached ETag is available and falling back to
// the cached body on a 304.
func (c *Client) Packument(ctx context.Context, scope, name string) (*Packument, error) {
	base := strings.TrimRight(c.baseURL(scope), "/")
	u := base + "/" + url.PathEscape(name)
	if strings.HasPrefix(name, "@") {
		// Scoped names are appended unescaped, keeping the "@" and
		// their single internal slash as written.
		u = base + "/" + name
	}

	cachedETag, cachedBody, haveCached := c.revalidate.Lookup(ctx, u)

	if haveCached && dcontext.PreferOffline(ctx) {
		var p Packument
		if err := json.Unmarshal(cachedBody, &p); err == nil {
			p.ETag = cachedETag
			return &p, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": u})
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json, application/json")
	if haveCached {
		req.Header.Set("If-None-Match", cachedETag)
	}
	c.authorize(req)

	resp, body, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && haveCached {
		body = cachedBody
	} else if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, u)
	} else if etag := resp.Header.Get("ETag"); etag != "" {
		c.revalidate.Store(ctx, u, etag, body)
	}

	var p Packument
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": u, "reason": "invalid packument json"})
	}
	p.ETag = resp.Header.Get("ETag")
	return &p, nil
}

// Tarball opens a streaming reader over dist.tarball, retrying
// transient failures with exponential backoff. The caller must Close
// the returned ReadCloser.
func (c *Client) Tarball(ctx context.Context, tarballURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": tarballURL})
	}
	c.authorize(req)

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp, tarballURL)
	}
	return resp.Body, nil
}

// doWithRetry performs req, retrying on transient network errors, 5xx,
// and 429 with exponential backoff; 4xx other than 408/429 is never
// retried. It fully reads and returns the body (for packument GETs,
// where the caller needs []byte either way).
func (c *Client) doWithRetry(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": req.URL.String()})
	}
	// Reconstruct a response with a fresh body reader so callers that
	// inspect resp.StatusCode after this call still see the same
	// response; resp.Body itself has already been drained above.
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return resp, body, nil
}

const maxAttempts = 5

func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(req.Context(), attempt); err != nil {
				return nil, err
			}
		}

		cloned := req.Clone(req.Context())
		resp, err := c.http.Do(cloned)
		if err != nil {
			lastErr = oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": req.URL.String()})
			continue
		}

		if isRetryable(resp.StatusCode) && attempt < maxAttempts-1 {
			resp.Body.Close()
			lastErr = statusError(resp, req.URL.String())
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func isRetryable(status int) bool {
	if status >= 500 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	d := base + jitter
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return oreerrors.Wrap(oreerrors.KindCancelled, ctx.Err(), nil)
	case <-t.C:
		return nil
	}
}

func statusError(resp *http.Response, url string) error {
	status := resp.StatusCode
	kind := oreerrors.KindNetworkError
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = oreerrors.KindAuthRequired
	}
	return oreerrors.New(kind, map[string]any{
		"url":    url,
		"status": strconv.Itoa(status),
	})
}

// Ping performs a HEAD request against the registry root, used by the
// CLI's `ping` command.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimRight(c.cfg.URL, "/")+"/", nil)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindNetworkError, err, nil)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindNetworkError, err, nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp, req.URL.String())
	}
	logger := dcontext.GetLogger(ctx)
	logger.Debugf("registryclient: ping %s -> %d", c.cfg.URL, resp.StatusCode)
	return nil
}
