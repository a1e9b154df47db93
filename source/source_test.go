package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/registryclient"
	"github.com/orepkg/ore/specparser"
	"github.com/orepkg/ore/store"
)

func newTestSource(t *testing.T, registryURL string) *Source {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg := registryclient.New(configuration.Registry{URL: registryURL}, nil, 10*time.Second, nil)
	return New(reg, st, t.TempDir())
}

func packumentHandler(t *testing.T, tarballURL string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"name": "left-pad",
			"dist-tags": {"latest": "1.3.0"},
			"versions": {
				"1.2.0": {"name": "left-pad", "version": "1.2.0", "dist": {"tarball": "` + tarballURL + `/1.2.0.tgz"}},
				"1.3.0": {"name": "left-pad", "version": "1.3.0", "dist": {"tarball": "` + tarballURL + `/1.3.0.tgz"}},
				"2.0.0-beta.1": {"name": "left-pad", "version": "2.0.0-beta.1", "dist": {"tarball": "` + tarballURL + `/2.0.0-beta.1.tgz"}}
			}
		}`))
	}
}

func TestResolveRegistryTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		packumentHandler(t, "http://tarballs.invalid")(w, r)
	}))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	spec, err := specparser.Parse("left-pad", "")
	require.NoError(t, err)

	vm, res, err := s.Resolve(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", vm.Version)
	require.Equal(t, KindRegistry, res.Kind)
	require.Equal(t, "1.3.0", res.Version)
}

func TestResolveRegistryRangeExcludesPrerelease(t *testing.T) {
	srv := httptest.NewServer(packumentHandler(t, "http://tarballs.invalid"))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	spec, err := specparser.Parse("left-pad@^1.0.0", "")
	require.NoError(t, err)

	vm, _, err := s.Resolve(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", vm.Version)
}

func TestResolveRegistryExactVersion(t *testing.T) {
	srv := httptest.NewServer(packumentHandler(t, "http://tarballs.invalid"))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	spec, err := specparser.Parse("left-pad@1.2.0", "")
	require.NoError(t, err)

	vm, _, err := s.Resolve(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", vm.Version)
}

func TestResolveRegistryNoSatisfyingVersion(t *testing.T) {
	srv := httptest.NewServer(packumentHandler(t, "http://tarballs.invalid"))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	spec, err := specparser.Parse("left-pad@^9.0.0", "")
	require.NoError(t, err)

	_, _, err = s.Resolve(context.Background(), spec)
	require.Error(t, err)
}

func TestFetchRegistryTarballCachesInStore(t *testing.T) {
	var tarballHits int
	tarballSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tarballHits++
		w.Write([]byte("tarball-content"))
	}))
	defer tarballSrv.Close()

	regSrv := httptest.NewServer(packumentHandler(t, tarballSrv.URL))
	defer regSrv.Close()

	s := newTestSource(t, regSrv.URL)
	spec, err := specparser.Parse("left-pad@1.3.0", "")
	require.NoError(t, err)

	_, res, err := s.Resolve(context.Background(), spec)
	require.NoError(t, err)

	rc, err := s.Stream(context.Background(), res)
	require.NoError(t, err)
	rc.Close()

	rc2, err := s.Stream(context.Background(), res)
	require.NoError(t, err)
	rc2.Close()

	require.Equal(t, 1, tarballHits)
}

func TestResolveDirReadsManifestInPlace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"local-pkg","version":"0.0.1"}`), 0o644))

	s := newTestSource(t, "http://unused.invalid")
	spec, err := specparser.Parse("./", dir)
	require.NoError(t, err)

	vm, res, err := s.Resolve(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, "local-pkg", vm.Name)
	require.Equal(t, KindDir, res.Kind)

	_, err = s.Stream(context.Background(), res)
	require.Error(t, err)
}

func TestCacheKeyStableForSameResolution(t *testing.T) {
	r1 := Resolution{Kind: KindRegistry, Name: "left-pad", Version: "1.3.0"}
	r2 := Resolution{Kind: KindRegistry, Name: "left-pad", Version: "1.3.0"}
	require.Equal(t, r1.CacheKey(), r2.CacheKey())

	r3 := Resolution{Kind: KindRegistry, Name: "left-pad", Version: "1.2.0"}
	require.NotEqual(t, r1.CacheKey(), r3.CacheKey())
}
