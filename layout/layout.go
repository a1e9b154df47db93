// Package layout applies a resolved dependency graph to an on-disk
// node_modules tree: pruning stale installs, extracting tarballs
// through the content-addressable store, linking each node's files
// into place, wiring up ".bin" shims, running lifecycle scripts in
// dependency order, and writing the lockfile. Concurrency for
// extraction and for each lifecycle-script layer follows the same
// errgroup-plus-bounded-semaphore shape the retrieved Orizon package
// manager uses for its own bounded parallel fetch fan-out.
package layout

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/internal/oreevents"
	"github.com/orepkg/ore/lockfile"
	"github.com/orepkg/ore/resolve"
	"github.com/orepkg/ore/source"
	"github.com/orepkg/ore/store"
)

const markerFile = ".oro-installed"

// Options configures one Apply run.
type Options struct {
	Concurrency    int  // default numCPU*2
	PruneExtraneous bool // remove untracked directories under node_modules
	NoLockfile     bool
	RunScripts     bool // false (the zero value) skips lifecycle scripts
}

// Applier drives the prune/extract/link/bins/lifecycle/lockfile phases.
type Applier struct {
	src    *source.Source
	store  *store.Store
	events *oreevents.Sink
	root   string // project root; node_modules lives directly under it
}

// New builds an Applier rooted at projectRoot.
func New(src *source.Source, st *store.Store, events *oreevents.Sink, projectRoot string) *Applier {
	return &Applier{src: src, store: st, events: events, root: projectRoot}
}

func (a *Applier) publish(kind oreevents.Kind, fields map[string]any) {
	if a.events != nil {
		a.events.Publish(kind, fields)
	}
}

// Report summarizes one Apply run.
type Report struct {
	Extracted     int
	Pruned        []string
	ScriptsRun    int
	OptionalFailed []string
}

// Apply runs every phase against graph, in order, and writes the
// lockfile unless opts.NoLockfile is set.
func (a *Applier) Apply(ctx context.Context, graph *resolve.Graph, opts Options) (*Report, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU() * 2
	}

	report := &Report{}
	excluded := map[int]bool{}

	wantPaths := map[string]bool{}
	for _, id := range nonRootIDs(graph) {
		wantPaths[graph.InstallPath[id]] = true
	}

	pruned, err := a.prune(graph, wantPaths, opts.PruneExtraneous)
	if err != nil {
		return nil, err
	}
	report.Pruned = pruned

	extracted, err := a.extractAll(ctx, graph, opts.Concurrency)
	if err != nil {
		return nil, err
	}
	report.Extracted = extracted

	if err := a.writeBins(graph); err != nil {
		return nil, err
	}

	if opts.RunScripts {
		ran, failedIDs, err := a.runLifecycleScripts(ctx, graph, opts.Concurrency)
		if err != nil {
			return nil, err
		}
		report.ScriptsRun = ran

		if len(failedIDs) > 0 {
			excluded = excludedSubtree(graph, failedIDs)
			if err := a.removeExcludedInstalls(graph, excluded); err != nil {
				return nil, err
			}
			for _, id := range nonRootIDs(graph) {
				if excluded[id] {
					report.OptionalFailed = append(report.OptionalFailed, graph.Nodes[id].Name)
				}
			}
		}
	}

	if !opts.NoLockfile {
		if err := a.writeLockfile(graph, excluded); err != nil {
			return nil, err
		}
	}

	return report, nil
}

// excludedSubtree returns every non-root node id unreachable from the
// root without passing through one of failedIDs — the failed nodes
// themselves plus any subtree exclusively owned by them.
func excludedSubtree(graph *resolve.Graph, failedIDs []int) map[int]bool {
	failed := map[int]bool{}
	for _, id := range failedIDs {
		failed[id] = true
	}

	reachable := map[int]bool{0: true}
	queue := []int{0}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range graph.Edges {
			if e.From != id || e.Kind == resolve.EdgePeer {
				continue
			}
			if failed[e.To] || reachable[e.To] {
				continue
			}
			reachable[e.To] = true
			queue = append(queue, e.To)
		}
	}

	excluded := map[int]bool{}
	for _, id := range nonRootIDs(graph) {
		if !reachable[id] {
			excluded[id] = true
		}
	}
	return excluded
}

// removeExcludedInstalls deletes the install directory of every node in
// excluded, so a lifecycle-script failure leaves no trace of the
// package it failed to finish installing.
func (a *Applier) removeExcludedInstalls(graph *resolve.Graph, excluded map[int]bool) error {
	for id := range excluded {
		dir := filepath.Join(a.root, graph.InstallPath[id])
		if err := os.RemoveAll(dir); err != nil {
			return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": dir})
		}
	}
	return nil
}

func nonRootIDs(graph *resolve.Graph) []int {
	ids := make([]int, 0, len(graph.Nodes)-1)
	for _, n := range graph.Nodes {
		if n.ID != 0 {
			ids = append(ids, n.ID)
		}
	}
	sort.Ints(ids)
	return ids
}

// prune walks every node_modules directory under the project root and
// removes any install whose recorded marker disagrees with the
// graph's current placement, or that carries no marker at all when
// pruneExtraneous is set.
func (a *Applier) prune(graph *resolve.Graph, wantPaths map[string]bool, pruneExtraneous bool) ([]string, error) {
	var removed []string

	root := filepath.Join(a.root, "node_modules")
	entries, err := collectInstallDirs(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"root": root})
	}

	for _, dir := range entries {
		rel, err := filepath.Rel(a.root, dir)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		markerPath := filepath.Join(dir, markerFile)
		raw, err := os.ReadFile(markerPath)
		hasMarker := err == nil

		stale := false
		if !wantPaths[rel] {
			stale = hasMarker || pruneExtraneous
		} else if hasMarker {
			recorded := strings.TrimSpace(string(raw))
			stale = recorded != installMarkerFor(graph, rel)
		}

		if stale {
			if err := os.RemoveAll(dir); err != nil {
				return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": dir})
			}
			removed = append(removed, rel)
		}
	}

	return removed, nil
}

func installMarkerFor(graph *resolve.Graph, installPath string) string {
	for _, id := range nonRootIDs(graph) {
		if graph.InstallPath[id] == installPath {
			return graph.Nodes[id].Resolution.Integrity
		}
	}
	return ""
}

// collectInstallDirs returns every directory directly named as a
// node_modules member (one level under any node_modules, recursively),
// i.e. every place a marker file could live.
func collectInstallDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || path == root {
			return nil
		}
		if info.Name() == ".bin" {
			return filepath.SkipDir
		}
		parent := filepath.Base(filepath.Dir(path))
		if parent == "node_modules" && !strings.HasPrefix(info.Name(), ".") {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

// extractAll extracts every non-root node concurrently, bounded by
// concurrency.
func (a *Applier) extractAll(ctx context.Context, graph *resolve.Graph, concurrency int) (int, error) {
	ids := nonRootIDs(graph)
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	var extracted int32
	for _, id := range ids {
		id := id
		node := graph.Nodes[id]
		installPath := graph.InstallPath[id]

		if node.Resolution.Kind == source.KindDir {
			continue // dir deps are used in place, never extracted
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			return 0, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := a.extractOne(gctx, node, installPath); err != nil {
				return err
			}
			atomic.AddInt32(&extracted, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(extracted), nil
}

// extractOne extracts node's tarball into a canonical, content-keyed
// directory under the store (once per distinct resolution, shared
// across every install path that resolves to it), then links that
// canonical copy's files into the node's actual install path.
func (a *Applier) extractOne(ctx context.Context, node resolve.Node, installPath string) error {
	a.publish(oreevents.KindExtractStart, map[string]any{"path": installPath, "name": node.Name})
	defer a.publish(oreevents.KindExtractDone, map[string]any{"path": installPath, "name": node.Name})

	canonical := filepath.Join(a.store.Root(), "extracted", cacheKeyDigest(node.Resolution.CacheKey()))
	if !hasMarker(canonical) {
		if err := a.extractToCanonical(ctx, node, canonical); err != nil {
			return err
		}
	}

	final := filepath.Join(a.root, installPath)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": filepath.Dir(final)})
	}
	if err := os.RemoveAll(final); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": final})
	}
	if err := os.MkdirAll(final, 0o755); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": final})
	}

	return linkTree(canonical, final)
}

func hasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, markerFile))
	return err == nil
}

func (a *Applier) extractToCanonical(ctx context.Context, node resolve.Node, canonical string) error {
	rc, err := a.src.Stream(ctx, node.Resolution)
	if err != nil {
		return err
	}
	defer rc.Close()

	staging := canonical + ".staging-" + cacheKeyDigest(node.Resolution.CacheKey()+"-"+node.Name)
	if err := os.RemoveAll(staging); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": staging})
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": staging})
	}

	if err := extractTarball(rc, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := verifyFullyRead(rc); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, markerFile), []byte(node.Resolution.Integrity), 0o644); err != nil {
		os.RemoveAll(staging)
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": staging})
	}

	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		os.RemoveAll(staging)
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": filepath.Dir(canonical)})
	}
	if err := os.Rename(staging, canonical); err != nil {
		// Another extraction of the same resolution won the race; that's
		// fine, the canonical copy it produced is equally valid.
		if hasMarker(canonical) {
			os.RemoveAll(staging)
			return nil
		}
		os.RemoveAll(staging)
		return oreerrors.Wrap(oreerrors.KindPlacementConflict, err, map[string]any{"path": canonical})
	}
	return nil
}

// verifyFullyRead drains any bytes extractTarball left unconsumed
// (archive/tar stops at the end-of-archive marker, which can precede
// the true end of the underlying stream) and, if rc carries a digest
// check, confirms what was read matches what the store recorded for it.
func verifyFullyRead(rc io.ReadCloser) error {
	vrc, ok := rc.(store.VerifyingReadCloser)
	if !ok {
		return nil
	}
	if _, err := io.Copy(io.Discard, vrc); err != nil {
		return oreerrors.Wrap(oreerrors.KindTarExtract, err, nil)
	}
	return vrc.Verify()
}

// extractTarball decodes a gzip-compressed tar stream into dir,
// rejecting path escapes and stripping the conventional single
// leading "package/" component tarballs ship with.
func extractTarball(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindTarExtract, err, nil)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return oreerrors.Wrap(oreerrors.KindTarExtract, err, nil)
		}

		name := stripLeadingComponent(hdr.Name)
		if name == "" {
			continue
		}
		if err := rejectEscape(name); err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return oreerrors.Wrap(oreerrors.KindTarExtract, err, map[string]any{"path": target})
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return oreerrors.Wrap(oreerrors.KindTarExtract, err, map[string]any{"path": target})
			}
			mode := os.FileMode(hdr.Mode & 0o777)
			if mode == 0 {
				mode = 0o644
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return oreerrors.Wrap(oreerrors.KindTarExtract, err, map[string]any{"path": target})
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return oreerrors.Wrap(oreerrors.KindTarExtract, err, map[string]any{"path": target})
			}
			f.Close()
		case tar.TypeSymlink:
			if err := rejectEscape(filepath.ToSlash(hdr.Linkname)); err == nil {
				os.Symlink(hdr.Linkname, target)
			}
		default:
			// skip device/fifo/other special entries, not a real package content type
		}
	}
}

func stripLeadingComponent(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}

func rejectEscape(name string) error {
	if name == "" {
		return nil
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return oreerrors.New(oreerrors.KindTarExtract, map[string]any{"reason": "absolute path in tarball", "name": name})
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return oreerrors.New(oreerrors.KindTarExtract, map[string]any{"reason": "path escape in tarball", "name": name})
		}
	}
	return nil
}

// writeBins creates one executable entry per installed node's bin map
// in the nearest node_modules/.bin directory — the .bin directory inside
// the node_modules directory the node itself was placed under (above
// any @scope directory).
func (a *Applier) writeBins(graph *resolve.Graph) error {
	for _, id := range nonRootIDs(graph) {
		node := graph.Nodes[id]
		if node.Manifest == nil || len(node.Manifest.Bin) == 0 {
			continue
		}
		installPath := graph.InstallPath[id]
		parent := filepath.Dir(installPath)
		if strings.HasPrefix(filepath.Base(parent), "@") {
			parent = filepath.Dir(parent)
		}
		binDir := filepath.Join(a.root, parent, ".bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": binDir})
		}
		for cmdName, rel := range node.Manifest.Bin {
			target := filepath.Join(a.root, installPath, filepath.FromSlash(rel))
			if err := writeBinShim(binDir, cmdName, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// runLifecycleScripts runs preinstall/install/postinstall/prepare for
// every node that declares one, children before parents, with
// concurrency bounded within each topological layer. It returns the ids
// of optional nodes whose script failed; the caller is responsible for
// excluding them (and anything they exclusively own) from the output.
func (a *Applier) runLifecycleScripts(ctx context.Context, graph *resolve.Graph, concurrency int) (int, []int, error) {
	layers, err := topoLayers(graph)
	if err != nil {
		return 0, nil, err
	}

	var ran int32
	var optionalFailed []int
	var optionalFailedMu sync.Mutex

	for _, layer := range layers {
		sem := semaphore.NewWeighted(int64(concurrency))
		g, gctx := errgroup.WithContext(ctx)

		for _, id := range layer {
			id := id
			node := graph.Nodes[id]
			scripts := lifecycleScriptsFor(node)
			if len(scripts) == 0 {
				continue
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return 0, nil, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				for _, scriptName := range scripts {
					if err := a.runOneScript(gctx, graph, id, scriptName); err != nil {
						if allOptional(graph, id) {
							dcontext.GetLogger(gctx).Warnf("layout: optional node %s script %s failed: %v", node.Name, scriptName, err)
							optionalFailedMu.Lock()
							optionalFailed = append(optionalFailed, id)
							optionalFailedMu.Unlock()
							return nil
						}
						return err
					}
					atomic.AddInt32(&ran, 1)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return int(ran), optionalFailed, err
		}
	}

	return int(ran), optionalFailed, nil
}

var scriptOrder = []string{"preinstall", "install", "postinstall", "prepare"}

func lifecycleScriptsFor(node resolve.Node) []string {
	if node.Manifest == nil {
		return nil
	}
	var out []string
	for _, name := range scriptOrder {
		if _, ok := node.Manifest.Scripts[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (a *Applier) runOneScript(ctx context.Context, graph *resolve.Graph, id int, scriptName string) error {
	node := graph.Nodes[id]
	installPath := graph.InstallPath[id]
	cwd := filepath.Join(a.root, installPath)
	script := node.Manifest.Scripts[scriptName]

	a.publish(oreevents.KindScriptStart, map[string]any{"name": node.Name, "script": scriptName})
	defer a.publish(oreevents.KindScriptDone, map[string]any{"name": node.Name, "script": scriptName})

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "PATH="+binPathFor(a.root, installPath)+string(os.PathListSeparator)+os.Getenv("PATH"))

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return oreerrors.Wrap(oreerrors.KindLifecycleScriptFailed, err, map[string]any{
			"name": node.Name, "script": scriptName, "exit_code": exitCode,
		})
	}
	return nil
}

// binPathFor joins the node's own node_modules/.bin and every ancestor
// node_modules/.bin directory, nearest first, so a node's own direct
// dependencies' bins shadow a grandparent's same-named bin.
func binPathFor(root, installPath string) string {
	dirs := []string{filepath.Join(root, installPath, "node_modules", ".bin")}
	cur := installPath
	for {
		dir := filepath.Dir(cur)
		if dir == "." || dir == "/" {
			break
		}
		if filepath.Base(dir) == "node_modules" {
			dirs = append(dirs, filepath.Join(root, dir, ".bin"))
		}
		cur = dir
	}
	return strings.Join(dirs, string(os.PathListSeparator))
}

func allOptional(graph *resolve.Graph, id int) bool {
	hasEdge := false
	for _, e := range graph.Edges {
		if e.To != id || e.Kind == resolve.EdgePeer {
			continue
		}
		hasEdge = true
		if e.Kind != resolve.EdgeOptional {
			return false
		}
	}
	return hasEdge
}

// topoLayers groups non-root node ids into layers where every node in
// layer N only depends on nodes in layers < N (peer edges excluded, so
// a peer cycle never blocks ordering).
func topoLayers(graph *resolve.Graph) ([][]int, error) {
	indeg := map[int]int{}
	dependents := map[int][]int{}
	for _, id := range nonRootIDs(graph) {
		indeg[id] = 0
	}
	for _, e := range graph.Edges {
		if e.Kind == resolve.EdgePeer || e.To == 0 || e.From == 0 {
			continue
		}
		indeg[e.From]++
		dependents[e.To] = append(dependents[e.To], e.From)
	}

	var layers [][]int
	remaining := len(indeg)
	cur := []int{}
	for id, d := range indeg {
		if d == 0 {
			cur = append(cur, id)
		}
	}
	for remaining > 0 {
		if len(cur) == 0 {
			return nil, oreerrors.New(oreerrors.KindCycleInPeerDependencies, map[string]any{"reason": "dependency cycle outside of peer edges"})
		}
		sort.Ints(cur)
		layers = append(layers, cur)
		remaining -= len(cur)

		var next []int
		for _, id := range cur {
			for _, dep := range dependents[id] {
				indeg[dep]--
				if indeg[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		cur = next
	}
	return layers, nil
}

func (a *Applier) writeLockfile(graph *resolve.Graph, excluded map[int]bool) error {
	lf := graphToLockfile(graph, excluded)
	path := filepath.Join(a.root, "ore.lock")
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": tmp})
	}
	if err := lockfile.Encode(f, lf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": tmp})
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	return nil
}

// graphToLockfile renders graph as a lockfile, omitting every node id in
// excluded (and any edge pointing at one) — the nodes whose installs
// were removed after a lifecycle script failed.
func graphToLockfile(graph *resolve.Graph, excluded map[int]bool) *lockfile.Lockfile {
	lf := &lockfile.Lockfile{Version: lockfile.Version}

	for _, e := range graph.Edges {
		if e.From != 0 || excluded[e.To] {
			continue
		}
		name := graph.Nodes[e.To].Name
		switch e.Kind {
		case resolve.EdgeRequires:
			lf.Root.Dependencies = putMap(lf.Root.Dependencies, name, e.Spec)
		case resolve.EdgeDev:
			lf.Root.DevDependencies = putMap(lf.Root.DevDependencies, name, e.Spec)
		case resolve.EdgeOptional:
			lf.Root.Optional = putMap(lf.Root.Optional, name, e.Spec)
		case resolve.EdgePeer:
			lf.Root.Peer = putMap(lf.Root.Peer, name, e.Spec)
		}
	}

	childrenByFrom := map[int]map[string]string{}
	for _, e := range graph.Edges {
		if e.Kind == resolve.EdgePeer || excluded[e.To] {
			continue
		}
		if childrenByFrom[e.From] == nil {
			childrenByFrom[e.From] = map[string]string{}
		}
		childrenByFrom[e.From][graph.Nodes[e.To].Name] = graph.InstallPath[e.To]
	}

	for _, id := range nonRootIDs(graph) {
		if excluded[id] {
			continue
		}
		node := graph.Nodes[id]
		lf.Nodes = append(lf.Nodes, lockfile.Node{
			InstallPath:  graph.InstallPath[id],
			Name:         node.Name,
			Version:      node.Resolution.Version,
			Resolved:     resolvedRef(node.Resolution),
			Integrity:    node.Resolution.Integrity,
			Dependencies: childrenByFrom[id],
		})
	}

	return lf
}

func resolvedRef(res source.Resolution) string {
	switch res.Kind {
	case source.KindRegistry:
		return res.TarballURL
	case source.KindGit:
		return res.RepoURL + "#" + res.ResolvedSHA
	default:
		return res.Path
	}
}

func putMap(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = map[string]string{}
	}
	m[k] = v
	return m
}
