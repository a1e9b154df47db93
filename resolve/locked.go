package resolve

import (
	"sort"
	"strings"

	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/lockfile"
	"github.com/orepkg/ore/manifest"
)

// replayLockfile reconstructs a Graph purely from lf's recorded nodes
// and install paths, with no registry or git access: every node
// identity, edge, and install path is already pinned in the document.
// rootManifest is checked against lf.Root only to confirm the two
// still agree on the declared top-level dependency sets.
func replayLockfile(rootManifest *manifest.Manifest, lf *lockfile.Lockfile) (*Graph, error) {
	if err := checkRootInSync(rootManifest, lf.Root); err != nil {
		return nil, err
	}

	byInstallPath := map[string]int{}
	graph := &Graph{Nodes: []Node{{ID: 0}}, InstallPath: map[int]string{}}
	byInstallPath[""] = 0

	paths := make([]string, 0, len(lf.Nodes))
	for _, n := range lf.Nodes {
		paths = append(paths, n.InstallPath)
	}
	sort.Strings(paths)

	byPath := map[string]lockfile.Node{}
	for _, n := range lf.Nodes {
		byPath[n.InstallPath] = n
	}

	for _, path := range paths {
		n := byPath[path]
		id := len(graph.Nodes)
		graph.Nodes = append(graph.Nodes, Node{ID: id, Name: n.Name})
		graph.InstallPath[id] = path
		byInstallPath[path] = id
	}

	addRootEdges(graph, byInstallPath, lf.Root.Dependencies, EdgeRequires)
	addRootEdges(graph, byInstallPath, lf.Root.DevDependencies, EdgeDev)
	addRootEdges(graph, byInstallPath, lf.Root.Optional, EdgeOptional)
	addRootEdges(graph, byInstallPath, lf.Root.Peer, EdgePeer)

	for _, path := range paths {
		n := byPath[path]
		fromID := byInstallPath[path]
		names := make([]string, 0, len(n.Dependencies))
		for name := range n.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			childPath := n.Dependencies[name]
			toID, ok := byInstallPath[childPath]
			if !ok {
				return nil, oreerrors.New(oreerrors.KindLockfileCorrupt, map[string]any{
					"reason": "dependency points at unknown install path", "path": childPath,
				})
			}
			graph.Edges = append(graph.Edges, Edge{From: fromID, To: toID, Kind: EdgeRequires})
		}
	}

	return graph, nil
}

func addRootEdges(graph *Graph, byInstallPath map[string]int, specs map[string]string, kind EdgeKind) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := "node_modules/" + name
		toID, ok := byInstallPath[path]
		if !ok {
			continue
		}
		graph.Edges = append(graph.Edges, Edge{From: 0, To: toID, Kind: kind, Spec: specs[name]})
	}
}

// checkRootInSync confirms the manifest's declared dependency sets
// have not gained or lost a name the lockfile doesn't know about; a
// changed range on an already-locked name is not itself a conflict
// here, since an unmodified --locked run should still honor the
// recorded resolution.
func checkRootInSync(m *manifest.Manifest, root lockfile.Root) error {
	sets := [][2]map[string]string{
		{m.Dependencies, root.Dependencies},
		{m.DevDependencies, root.DevDependencies},
		{m.OptionalDependencies, root.Optional},
		{m.PeerDependencies, root.Peer},
	}
	for _, s := range sets {
		if missing := missingNames(s[0], s[1]); missing != "" {
			return outOfSyncErr(missing)
		}
		if lost := missingNames(s[1], s[0]); lost != "" {
			return outOfSyncErr(lost)
		}
	}
	return nil
}

func missingNames(declared, locked map[string]string) string {
	var missing []string
	for name := range declared {
		if _, ok := locked[name]; !ok {
			missing = append(missing, name)
		}
	}
	return strings.Join(missing, ", ")
}

func outOfSyncErr(missing string) error {
	return oreerrors.New(oreerrors.KindLockfileOutOfSync, map[string]any{"missing": missing})
}
