package layout

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/lockfile"
	"github.com/orepkg/ore/registryclient"
	"github.com/orepkg/ore/resolve"
	"github.com/orepkg/ore/source"
	"github.com/orepkg/ore/store"
)

// buildTarball packs files (path -> content) under a "package/" root,
// matching the conventional npm tarball layout extractTarball strips.
func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		hdr := &tar.Header{
			Name: "package/" + name,
			Mode: 0o755,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestApplier(t *testing.T, tarball []byte) (*Applier, string, string) {
	t.Helper()
	tarballSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tarball)
	}))
	t.Cleanup(tarballSrv.Close)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	reg := registryclient.New(configuration.Registry{URL: "http://unused.invalid"}, nil, 10*time.Second, nil)
	src := source.New(reg, st, t.TempDir())

	projectRoot := t.TempDir()
	return New(src, st, nil, projectRoot), projectRoot, tarballSrv.URL
}

func singleNodeGraph(name, version, tarballURL string, bin map[string]string, scripts map[string]string) *resolve.Graph {
	node := resolve.Node{
		ID:   1,
		Name: name,
		Resolution: source.Resolution{
			Kind:       source.KindRegistry,
			Name:       name,
			Version:    version,
			TarballURL: tarballURL,
		},
		Manifest: &registryclient.VersionMetadata{
			Name: name, Version: version, Bin: bin, Scripts: scripts,
		},
	}
	return &resolve.Graph{
		Nodes: []resolve.Node{{ID: 0}, node},
		Edges: []resolve.Edge{{From: 0, To: 1, Kind: resolve.EdgeRequires, Spec: "^" + version}},
		InstallPath: map[int]string{1: "node_modules/" + name},
	}
}

func TestApplyExtractsFiles(t *testing.T) {
	tarball := buildTarball(t, map[string]string{
		"package.json": `{"name":"leftpad","version":"1.0.0"}`,
		"index.js":     "module.exports = function(){}",
	})
	a, root, tarballURL := newTestApplier(t, tarball)
	graph := singleNodeGraph("leftpad", "1.0.0", tarballURL, nil, nil)

	report, err := a.Apply(context.Background(), graph, Options{RunScripts: false})
	require.NoError(t, err)
	require.Equal(t, 1, report.Extracted)

	content, err := os.ReadFile(filepath.Join(root, "node_modules/leftpad/index.js"))
	require.NoError(t, err)
	require.Contains(t, string(content), "module.exports")
}

func TestApplyWritesBinShim(t *testing.T) {
	tarball := buildTarball(t, map[string]string{
		"package.json": `{"name":"toolcli","version":"2.0.0"}`,
		"bin/cli.js":   "#!/usr/bin/env node\nconsole.log('hi')",
	})
	a, root, tarballURL := newTestApplier(t, tarball)
	graph := singleNodeGraph("toolcli", "2.0.0", tarballURL, map[string]string{"toolcli": "bin/cli.js"}, nil)

	_, err := a.Apply(context.Background(), graph, Options{RunScripts: false})
	require.NoError(t, err)

	if filepath.Separator == '/' {
		info, err := os.Lstat(filepath.Join(root, "node_modules/.bin/toolcli"))
		require.NoError(t, err)
		require.True(t, info.Mode()&os.ModeSymlink != 0)
	}
}

func TestApplyWritesLockfile(t *testing.T) {
	tarball := buildTarball(t, map[string]string{"package.json": `{"name":"leftpad","version":"1.0.0"}`})
	a, root, tarballURL := newTestApplier(t, tarball)
	graph := singleNodeGraph("leftpad", "1.0.0", tarballURL, nil, nil)

	_, err := a.Apply(context.Background(), graph, Options{RunScripts: false})
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(root, "ore.lock"))
	require.NoError(t, err)
	defer f.Close()

	lf, err := lockfile.Decode(f)
	require.NoError(t, err)
	require.Equal(t, "^1.0.0", lf.Root.Dependencies["leftpad"])
	require.Len(t, lf.Nodes, 1)
	require.Equal(t, "node_modules/leftpad", lf.Nodes[0].InstallPath)
}

func TestApplyRunsLifecycleScripts(t *testing.T) {
	tarball := buildTarball(t, map[string]string{"package.json": `{"name":"withhooks","version":"1.0.0"}`})
	a, root, tarballURL := newTestApplier(t, tarball)
	graph := singleNodeGraph("withhooks", "1.0.0", tarballURL, nil, map[string]string{
		"postinstall": "touch ran.marker",
	})

	report, err := a.Apply(context.Background(), graph, Options{RunScripts: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.ScriptsRun)

	_, err = os.Stat(filepath.Join(root, "node_modules/withhooks/ran.marker"))
	require.NoError(t, err)
}

func TestApplyPrunesStaleInstall(t *testing.T) {
	tarball := buildTarball(t, map[string]string{"package.json": `{"name":"leftpad","version":"1.0.0"}`})
	a, root, tarballURL := newTestApplier(t, tarball)
	graph := singleNodeGraph("leftpad", "1.0.0", tarballURL, nil, nil)

	stalePath := filepath.Join(root, "node_modules/stale-pkg")
	require.NoError(t, os.MkdirAll(stalePath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stalePath, ".oro-installed"), []byte("sha512-old"), 0o644))

	report, err := a.Apply(context.Background(), graph, Options{RunScripts: false})
	require.NoError(t, err)
	require.Contains(t, report.Pruned, "node_modules/stale-pkg")

	_, err = os.Stat(stalePath)
	require.True(t, os.IsNotExist(err))
}

func TestApplyExcludesOptionalLifecycleScriptFailure(t *testing.T) {
	tarball := buildTarball(t, map[string]string{"package.json": `{"name":"flaky","version":"1.0.0"}`})
	a, root, tarballURL := newTestApplier(t, tarball)

	node := resolve.Node{
		ID:   1,
		Name: "flaky",
		Resolution: source.Resolution{
			Kind: source.KindRegistry, Name: "flaky", Version: "1.0.0", TarballURL: tarballURL,
		},
		Manifest: &registryclient.VersionMetadata{
			Name: "flaky", Version: "1.0.0",
			Scripts: map[string]string{"postinstall": "exit 1"},
		},
		Optional: true,
	}
	graph := &resolve.Graph{
		Nodes:       []resolve.Node{{ID: 0}, node},
		Edges:       []resolve.Edge{{From: 0, To: 1, Kind: resolve.EdgeOptional, Spec: "^1.0.0"}},
		InstallPath: map[int]string{1: "node_modules/flaky"},
	}

	report, err := a.Apply(context.Background(), graph, Options{RunScripts: true})
	require.NoError(t, err)
	require.Equal(t, []string{"flaky"}, report.OptionalFailed)

	_, err = os.Stat(filepath.Join(root, "node_modules/flaky"))
	require.True(t, os.IsNotExist(err))

	f, err := os.Open(filepath.Join(root, "ore.lock"))
	require.NoError(t, err)
	defer f.Close()
	lf, err := lockfile.Decode(f)
	require.NoError(t, err)
	require.Empty(t, lf.Nodes)
	require.Empty(t, lf.Root.Optional)
}

func TestTopoLayersOrdersChildrenBeforeParents(t *testing.T) {
	graph := &resolve.Graph{
		Nodes: []resolve.Node{
			{ID: 0},
			{ID: 1, Name: "parent"},
			{ID: 2, Name: "child"},
		},
		Edges: []resolve.Edge{
			{From: 0, To: 1, Kind: resolve.EdgeRequires},
			{From: 1, To: 2, Kind: resolve.EdgeRequires},
		},
	}
	layers, err := topoLayers(graph)
	require.NoError(t, err)
	require.Equal(t, [][]int{{2}, {1}}, layers)
}
