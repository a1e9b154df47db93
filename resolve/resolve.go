// Package resolve builds a ResolutionGraph from a root manifest,
// driving the package source abstraction to fetch each dependency's
// concrete version and walking the resulting tree to place every node
// in the output layout. The discovery algorithm — a work queue
// processed breadth-first, with new nodes slotted as high in the tree
// as a name conflict allows — is grounded on the tree-walking resolver
// in the retrieved npm-resolve reference file (treeNode/protected-slot
// structure), adapted from that resolver's live version-matching
// client down to this module's source.Source and simplified: there is
// no bundled-dependency mangled-package machinery here, since bundled
// dependencies are installed from the parent's own tarball rather than
// resolved as a second registry lookup.
package resolve

import (
	"context"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/lockfile"
	"github.com/orepkg/ore/manifest"
	"github.com/orepkg/ore/registryclient"
	"github.com/orepkg/ore/source"
	"github.com/orepkg/ore/specparser"
)

// EdgeKind tags why an edge was added to the graph.
type EdgeKind int

const (
	EdgeRequires EdgeKind = iota
	EdgeDev
	EdgePeer
	EdgeOptional
)

// Node is one resolved package in the graph. Node 0 is always the
// root and carries no resolution.
type Node struct {
	ID         int
	Name       string
	Resolution source.Resolution
	Manifest   *registryclient.VersionMetadata
	Dev        bool
	Optional   bool
	Peer       bool
	Bundled    bool
}

// IsRoot reports whether n is the graph's root node.
func (n Node) IsRoot() bool { return n.ID == 0 && n.Name == "" }

// Edge is a typed dependency relationship between two nodes, carrying
// the spec string that produced it.
type Edge struct {
	From int
	To   int
	Kind EdgeKind
	Spec string
}

// Graph is the closed resolution graph plus each non-root node's
// position in the output tree.
type Graph struct {
	Nodes       []Node
	Edges       []Edge
	InstallPath map[int]string
}

// Options configures one resolve run.
type Options struct {
	Placement  configuration.Placement
	Lockfile   *lockfile.Lockfile
	Locked     bool
	IncludeDev bool
}

// Resolver drives package resolution through a Source.
type Resolver struct {
	src *source.Source
}

// New builds a Resolver.
func New(src *source.Source) *Resolver {
	return &Resolver{src: src}
}

// depSet is a uniform view over a manifest's (or version metadata's)
// dependency maps, regardless of which concrete type supplied them.
type depSet struct {
	Requires map[string]string
	Dev      map[string]string
	Optional map[string]string
	Peer     map[string]string
}

func depSetFromManifest(m *manifest.Manifest) depSet {
	return depSet{Requires: m.Dependencies, Dev: m.DevDependencies, Optional: m.OptionalDependencies, Peer: m.PeerDependencies}
}

func depSetFromVersion(vm *registryclient.VersionMetadata) depSet {
	return depSet{Requires: vm.Dependencies, Optional: vm.OptionalDependencies, Peer: vm.PeerDependencies}
}

// treeNode tracks one node's position in the hoisted placement tree
// built during discovery; children records which name occupies each
// child slot so later siblings cannot shadow an earlier placement.
type treeNode struct {
	graphID  int
	parent   *treeNode
	children map[string]*treeNode
}

func newTreeNode(graphID int, parent *treeNode) *treeNode {
	return &treeNode{graphID: graphID, parent: parent, children: map[string]*treeNode{}}
}

// pendingDep is one queued (parent, name, spec, kind) discovery task.
type pendingDep struct {
	parent *treeNode
	name   string
	raw    string
	kind   EdgeKind
}

type resolveCtx struct {
	ctx      context.Context
	r        *Resolver
	opts     Options
	graph    *Graph
	byKey    map[string]int // "name@resolutionKey" -> graph node id, global reuse
	queue    []pendingDep
}

// Resolve builds the graph rooted at rootManifest. rootDir is the
// project root, used to resolve Dir-spec relative paths.
func (r *Resolver) Resolve(ctx context.Context, rootManifest *manifest.Manifest, rootDir string, opts Options) (*Graph, error) {
	if opts.Locked {
		if opts.Lockfile == nil {
			return nil, oreerrors.New(oreerrors.KindLockfileOutOfSync, map[string]any{"reason": "--locked set but no lockfile loaded"})
		}
		return replayLockfile(rootManifest, opts.Lockfile)
	}

	root := Node{ID: 0}
	graph := &Graph{Nodes: []Node{root}, InstallPath: map[int]string{}}

	rc := &resolveCtx{
		ctx:   ctx,
		r:     r,
		opts:  opts,
		graph: graph,
		byKey: map[string]int{},
	}

	rootTree := newTreeNode(0, nil)
	ds := depSetFromManifest(rootManifest)
	rc.enqueueAll(rootTree, ds, opts.IncludeDev)

	for len(rc.queue) > 0 {
		task := rc.queue[0]
		rc.queue = rc.queue[1:]
		if err := rc.process(task, rootDir); err != nil {
			return nil, err
		}
	}

	placeHoisted(graph, rootTree)
	return graph, nil
}

// enqueueAll appends one pendingDep per dependency of ds under parent,
// in lexicographic order by name within each kind, requires first.
func (rc *resolveCtx) enqueueAll(parent *treeNode, ds depSet, includeDev bool) {
	for _, name := range sortedNames(ds.Requires) {
		rc.queue = append(rc.queue, pendingDep{parent: parent, name: name, raw: ds.Requires[name], kind: EdgeRequires})
	}
	if includeDev {
		for _, name := range sortedNames(ds.Dev) {
			rc.queue = append(rc.queue, pendingDep{parent: parent, name: name, raw: ds.Dev[name], kind: EdgeDev})
		}
	}
	for _, name := range sortedNames(ds.Optional) {
		rc.queue = append(rc.queue, pendingDep{parent: parent, name: name, raw: ds.Optional[name], kind: EdgeOptional})
	}
	for _, name := range sortedNames(ds.Peer) {
		rc.queue = append(rc.queue, pendingDep{parent: parent, name: name, raw: ds.Peer[name], kind: EdgePeer})
	}
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (rc *resolveCtx) process(task pendingDep, rootDir string) error {
	spec, err := specparser.Parse(task.name+"@"+task.raw, rootDir)
	if err != nil {
		if task.kind == EdgeOptional {
			dcontext.GetLogger(rc.ctx).Warnf("resolve: optional dependency %s skipped: %v", task.name, err)
			return nil
		}
		return err
	}

	if task.kind == EdgePeer {
		return rc.resolvePeer(task, spec)
	}

	spec = rc.preferLocked(spec, task.name)

	vm, res, err := rc.r.src.Resolve(rc.ctx, spec)
	if err != nil {
		if task.kind == EdgeOptional {
			dcontext.GetLogger(rc.ctx).Warnf("resolve: optional dependency %s failed: %v", task.name, err)
			return nil
		}
		return err
	}

	key := task.name + "@" + res.CacheKey()
	if existingID, ok := rc.byKey[key]; ok {
		rc.graph.Edges = append(rc.graph.Edges, Edge{From: task.parent.graphID, To: existingID, Kind: task.kind, Spec: task.raw})
		rc.placeInTree(task.parent, task.name, findTreeNodeByGraphID(task.parent, existingID))
		return nil
	}

	id := len(rc.graph.Nodes)
	node := Node{
		ID:         id,
		Name:       task.name,
		Resolution: res,
		Manifest:   vm,
		Dev:        task.kind == EdgeDev,
		Optional:   task.kind == EdgeOptional,
	}
	rc.graph.Nodes = append(rc.graph.Nodes, node)
	rc.byKey[key] = id
	rc.graph.Edges = append(rc.graph.Edges, Edge{From: task.parent.graphID, To: id, Kind: task.kind, Spec: task.raw})

	child := hoistPlacement(task.parent, task.name, id)
	rc.enqueueAll(child, depSetFromVersion(vm), false)
	return nil
}

// resolvePeer looks up task.name the same way a require() call would:
// task.parent's own children first, then each ancestor's children in
// turn, stopping at the first slot that satisfies spec. Peer
// dependencies never get a node of their own; a miss is a warning, not
// a failure, since the consuming package may tolerate its absence.
func (rc *resolveCtx) resolvePeer(task pendingDep, spec *specparser.PackageSpec) error {
	for n := task.parent; n != nil; n = n.parent {
		candidate, ok := n.children[task.name]
		if !ok {
			continue
		}
		node := rc.graph.Nodes[candidate.graphID]
		if !peerSatisfies(spec, node) {
			continue
		}
		rc.graph.Edges = append(rc.graph.Edges, Edge{From: task.parent.graphID, To: candidate.graphID, Kind: EdgePeer, Spec: task.raw})
		return nil
	}
	dcontext.GetLogger(rc.ctx).Warnf("resolve: unmet peer dependency %s@%s", task.name, task.raw)
	return nil
}

func peerSatisfies(spec *specparser.PackageSpec, node Node) bool {
	if node.Manifest == nil {
		return true
	}
	switch spec.Kind {
	case specparser.KindRegistryRange:
		c, err := semver.NewConstraint(spec.Range)
		if err != nil {
			return false
		}
		v, err := semver.NewVersion(node.Manifest.Version)
		if err != nil {
			return false
		}
		return c.Check(v)
	case specparser.KindRegistryVersion:
		return node.Manifest.Version == spec.Version
	default:
		return true
	}
}

// preferLocked rewrites spec to an exact-version spec matching a
// lockfile entry when one exists and still satisfies spec, keeping the
// resolved graph stable across runs.
func (rc *resolveCtx) preferLocked(spec *specparser.PackageSpec, name string) *specparser.PackageSpec {
	if rc.opts.Lockfile == nil {
		return spec
	}
	if spec.Kind != specparser.KindRegistryRange {
		return spec
	}
	for _, n := range rc.opts.Lockfile.Nodes {
		if n.Name != name || n.Version == "" {
			continue
		}
		c, err := semver.NewConstraint(spec.Range)
		if err != nil {
			continue
		}
		v, err := semver.NewVersion(n.Version)
		if err != nil {
			continue
		}
		if c.Check(v) {
			return &specparser.PackageSpec{Kind: specparser.KindRegistryVersion, Name: spec.Name, Scope: spec.Scope, Version: n.Version}
		}
	}
	return spec
}

// hoistPlacement inserts a freshly created node into parent's subtree
// at the shallowest ancestor where name is not already taken by a
// different resolution, returning the tree slot the node occupies
// (used as the parent for the node's own dependencies).
func hoistPlacement(parent *treeNode, name string, graphID int) *treeNode {
	target := parent
	for target.parent != nil {
		if _, taken := target.parent.children[name]; taken {
			break
		}
		target = target.parent
	}
	node := newTreeNode(graphID, target)
	target.children[name] = node
	return node
}

// placeInTree records that an existing node, reused for a new edge
// under parent, is visible there too (for placement purposes a reused
// node keeps its original, already-hoisted slot; this only guards
// against re-placing it).
func (rc *resolveCtx) placeInTree(parent *treeNode, name string, existing *treeNode) {
	if existing == nil {
		return
	}
	if _, taken := parent.children[name]; !taken {
		parent.children[name] = existing
	}
}

func findTreeNodeByGraphID(from *treeNode, graphID int) *treeNode {
	for n := from; n != nil; n = n.parent {
		if n.graphID == graphID {
			return n
		}
		for _, c := range n.children {
			if c.graphID == graphID {
				return c
			}
		}
	}
	return nil
}

// placeHoisted walks the discovery tree (which already embodies the
// hoisted placement choices made while resolving) and emits each
// node's node_modules-relative install path.
func placeHoisted(graph *Graph, root *treeNode) {
	type queued struct {
		node *treeNode
		path string
	}
	queue := []queued{{root, ""}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		names := make([]string, 0, len(cur.node.children))
		for name := range cur.node.children {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			child := cur.node.children[name]
			path := joinInstallPath(cur.path, name)
			if _, already := graph.InstallPath[child.graphID]; !already {
				graph.InstallPath[child.graphID] = path
			}
			queue = append(queue, queued{child, path})
		}
	}
}

func joinInstallPath(parentPath, name string) string {
	if parentPath == "" {
		return "node_modules/" + name
	}
	return parentPath + "/node_modules/" + name
}
