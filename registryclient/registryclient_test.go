package registryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/internal/dcontext"
)

type memRevalidator struct {
	etag string
	body []byte
}

func (m *memRevalidator) Lookup(_ context.Context, _ string) (string, []byte, bool) {
	if m.etag == "" {
		return "", nil, false
	}
	return m.etag, m.body, true
}

func (m *memRevalidator) Store(_ context.Context, _, etag string, body []byte) {
	m.etag = etag
	m.body = body
}

func TestPackumentFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/left-pad", r.URL.Path)
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(`{"name":"left-pad","dist-tags":{"latest":"1.3.0"},"versions":{"1.3.0":{"name":"left-pad","version":"1.3.0"}}}`))
	}))
	defer srv.Close()

	c := New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, nil)
	p, err := c.Packument(context.Background(), "", "left-pad")
	require.NoError(t, err)
	require.Equal(t, "left-pad", p.Name)
	require.Equal(t, "1.3.0", p.DistTags["latest"])
	require.Equal(t, `"abc"`, p.ETag)
}

func TestPackumentRevalidationHitsCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(`{"name":"left-pad","dist-tags":{},"versions":{}}`))
	}))
	defer srv.Close()

	rev := &memRevalidator{}
	c := New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, rev)

	_, err := c.Packument(context.Background(), "", "left-pad")
	require.NoError(t, err)

	p2, err := c.Packument(context.Background(), "", "left-pad")
	require.NoError(t, err)
	require.Equal(t, "left-pad", p2.Name)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestPackumentPreferOfflineSkipsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("network should not be reached with prefer-offline and a cached entry")
	}))
	defer srv.Close()

	rev := &memRevalidator{etag: `"abc"`, body: []byte(`{"name":"left-pad","dist-tags":{"latest":"1.3.0"},"versions":{}}`)}
	c := New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, rev)

	ctx := dcontext.WithPreferOffline(context.Background())
	p, err := c.Packument(ctx, "", "left-pad")
	require.NoError(t, err)
	require.Equal(t, "left-pad", p.Name)
}

func TestScopedRegistryRouting(t *testing.T) {
	var sawScoped int32
	scoped := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sawScoped, 1)
		w.Write([]byte(`{"name":"@acme/widgets","dist-tags":{},"versions":{}}`))
	}))
	defer scoped.Close()

	c := New(configuration.Registry{
		URL:       "http://unused.invalid",
		ScopeURLs: map[string]string{"acme": scoped.URL},
	}, nil, 10*time.Second, nil)

	p, err := c.Packument(context.Background(), "acme", "@acme/widgets")
	require.NoError(t, err)
	require.Equal(t, "@acme/widgets", p.Name)
	require.Equal(t, int32(1), atomic.LoadInt32(&sawScoped))
}

func TestAuthNeverSentCrossOrigin(t *testing.T) {
	var gotAuth string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"name":"pkg","dist-tags":{},"versions":{}}`))
	}))
	defer target.Close()

	cfg := configuration.Registry{
		URL: target.URL,
		Auth: map[string]configuration.Credential{
			"http://other-origin.invalid": {BearerToken: "should-not-be-sent"},
		},
	}
	c := New(cfg, nil, 10*time.Second, nil)
	_, err := c.Packument(context.Background(), "", "pkg")
	require.NoError(t, err)
	require.Empty(t, gotAuth)
}

func TestAuthSentForMatchingOrigin(t *testing.T) {
	var gotAuth string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"name":"pkg","dist-tags":{},"versions":{}}`))
	}))
	defer target.Close()

	cfg := configuration.Registry{
		URL:  target.URL,
		Auth: map[string]configuration.Credential{origin(target.URL): {BearerToken: "tok"}},
	}
	c := New(cfg, nil, 10*time.Second, nil)
	_, err := c.Packument(context.Background(), "", "pkg")
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", gotAuth)
}

func TestTarballRetriesOn503ThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("tarball-bytes"))
	}))
	defer srv.Close()

	c := New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, nil)
	rc, err := c.Tarball(context.Background(), srv.URL+"/left-pad-1.3.0.tgz")
	require.NoError(t, err)
	defer rc.Close()
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestTarballDoesNotRetryOn404(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, nil)
	_, err := c.Tarball(context.Background(), srv.URL+"/missing.tgz")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	c := New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, nil)
	require.NoError(t, c.Ping(context.Background()))
}
