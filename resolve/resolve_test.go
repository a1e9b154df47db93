package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/lockfile"
	"github.com/orepkg/ore/manifest"
	"github.com/orepkg/ore/registryclient"
	"github.com/orepkg/ore/source"
	"github.com/orepkg/ore/store"
)

// packument serves a fixed, minimal package with the given dependency
// maps baked into its single version "1.0.0".
func packument(name string, deps, peer, optional map[string]string) string {
	body := `{"name":"` + name + `","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{` +
		`"name":"` + name + `","version":"1.0.0",` +
		`"dependencies":` + mapJSON(deps) + `,` +
		`"peerDependencies":` + mapJSON(peer) + `,` +
		`"optionalDependencies":` + mapJSON(optional) + `,` +
		`"dist":{"tarball":"http://tarballs.invalid/` + name + `.tgz"}}}}`
	return body
}

func mapJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	s := "{"
	first := true
	for k, v := range m {
		if !first {
			s += ","
		}
		first = false
		s += `"` + k + `":"` + v + `"`
	}
	return s + "}"
}

func newTestResolver(t *testing.T, handlers map[string]string) *Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[1:]
		body, ok := handlers[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg := registryclient.New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, nil)
	src := source.New(reg, st, t.TempDir())
	return New(src)
}

func TestResolveFlatGraph(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"a": packument("a", map[string]string{"b": "^1.0.0"}, nil, nil),
		"b": packument("b", nil, nil, nil),
	})

	root := &manifest.Manifest{Dependencies: map[string]string{"a": "^1.0.0"}}
	graph, err := r.Resolve(context.Background(), root, "", Options{})
	require.NoError(t, err)

	require.Len(t, graph.Nodes, 3) // root, a, b
	names := map[string]bool{}
	for _, n := range graph.Nodes[1:] {
		names[n.Name] = true
	}
	require.True(t, names["a"])
	require.True(t, names["b"])
}

func TestResolveHoistsSharedDependency(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"a": packument("a", map[string]string{"shared": "^1.0.0"}, nil, nil),
		"b": packument("b", map[string]string{"shared": "^1.0.0"}, nil, nil),
		"shared": packument("shared", nil, nil, nil),
	})

	root := &manifest.Manifest{Dependencies: map[string]string{
		"a": "^1.0.0",
		"b": "^1.0.0",
	}}
	graph, err := r.Resolve(context.Background(), root, "", Options{})
	require.NoError(t, err)

	var sharedIDs []int
	for _, n := range graph.Nodes {
		if n.Name == "shared" {
			sharedIDs = append(sharedIDs, n.ID)
		}
	}
	require.Len(t, sharedIDs, 1, "a single shared node must be reused, not duplicated")

	path := graph.InstallPath[sharedIDs[0]]
	require.Equal(t, "node_modules/shared", path, "shared must hoist to the root, not nest under a or b")
}

func TestResolveOptionalFailureIsNonFatal(t *testing.T) {
	r := newTestResolver(t, map[string]string{})

	root := &manifest.Manifest{OptionalDependencies: map[string]string{"missing": "^1.0.0"}}
	graph, err := r.Resolve(context.Background(), root, "", Options{})
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1, "only the root remains when the sole optional dependency fails")
}

func TestResolveRequiredFailureIsFatal(t *testing.T) {
	r := newTestResolver(t, map[string]string{})

	root := &manifest.Manifest{Dependencies: map[string]string{"missing": "^1.0.0"}}
	_, err := r.Resolve(context.Background(), root, "", Options{})
	require.Error(t, err)
}

func TestResolvePeerAddsEdgeWithoutInstalling(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"plugin": packument("plugin", nil, map[string]string{"host": "^1.0.0"}, nil),
		"host":   packument("host", nil, nil, nil),
	})

	root := &manifest.Manifest{Dependencies: map[string]string{
		"host":   "^1.0.0",
		"plugin": "^1.0.0",
	}}
	graph, err := r.Resolve(context.Background(), root, "", Options{})
	require.NoError(t, err)

	var peerEdges int
	for _, e := range graph.Edges {
		if e.Kind == EdgePeer {
			peerEdges++
		}
	}
	require.Equal(t, 1, peerEdges)

	var hostNodes int
	for _, n := range graph.Nodes {
		if n.Name == "host" {
			hostNodes++
		}
	}
	require.Equal(t, 1, hostNodes)
}

func TestReplayLockfileNoNetworkCalls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "should never be called", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg := registryclient.New(configuration.Registry{URL: srv.URL}, nil, 10*time.Second, nil)
	src := source.New(reg, st, t.TempDir())
	r := New(src)

	lf := &lockfile.Lockfile{
		Version: 1,
		Root: lockfile.Root{
			Dependencies: map[string]string{"left-pad": "^1.0.0"},
		},
		Nodes: []lockfile.Node{
			{InstallPath: "node_modules/left-pad", Name: "left-pad", Version: "1.3.0", Integrity: "sha512-abc"},
		},
	}

	root := &manifest.Manifest{Dependencies: map[string]string{"left-pad": "^1.0.0"}}
	graph, err := r.Resolve(context.Background(), root, "", Options{Locked: true, Lockfile: lf})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
	require.Len(t, graph.Nodes, 2)
	require.Equal(t, "node_modules/left-pad", graph.InstallPath[1])
}

func TestReplayLockfileDetectsOutOfSync(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg := registryclient.New(configuration.Registry{URL: "http://unused.invalid"}, nil, 10*time.Second, nil)
	src := source.New(reg, st, t.TempDir())
	r := New(src)

	lf := &lockfile.Lockfile{Version: 1, Root: lockfile.Root{Dependencies: map[string]string{}}}
	root := &manifest.Manifest{Dependencies: map[string]string{"left-pad": "^1.0.0"}}

	_, err = r.Resolve(context.Background(), root, "", Options{Locked: true, Lockfile: lf})
	require.Error(t, err)
}

func TestApplyIsolatedPlacementDedupesSameResolution(t *testing.T) {
	r := newTestResolver(t, map[string]string{
		"a": packument("a", map[string]string{"shared": "^1.0.0"}, nil, nil),
		"b": packument("b", map[string]string{"shared": "^1.0.0"}, nil, nil),
		"shared": packument("shared", nil, nil, nil),
	})

	root := &manifest.Manifest{Dependencies: map[string]string{
		"a": "^1.0.0",
		"b": "^1.0.0",
	}}
	graph, err := r.Resolve(context.Background(), root, "", Options{Placement: configuration.PlacementIsolated})
	require.NoError(t, err)

	ApplyIsolatedPlacement(graph)

	paths := map[string]bool{}
	for _, n := range graph.Nodes[1:] {
		paths[graph.InstallPath[n.ID]] = true
	}
	require.Len(t, paths, 3, "a, b, and shared each get exactly one pool slot")
}
