package resolve

import "sort"

// ApplyIsolatedPlacement overwrites graph.InstallPath with the flat,
// content-identity-deduplicated layout used in isolated mode: every
// distinct (name, resolution) pair gets exactly one real slot under a
// single top-level pool rather than the graph growing a nested
// node_modules tree. LinksFor reports which pool paths each consumer's
// node_modules would link to; nothing in this module creates those
// symlinks. Call this after Resolve when Options.Placement is
// PlacementIsolated; Resolve itself always performs hoisted discovery; isolated mode
// reinterprets the same graph's node identities afterward; it never
// changes which versions were picked, only where they land on disk.
func ApplyIsolatedPlacement(graph *Graph) {
	keyByID := map[int]string{}
	for _, n := range graph.Nodes {
		if n.ID == 0 {
			continue
		}
		keyByID[n.ID] = n.Name + "@" + n.Resolution.CacheKey()
	}

	slotOf := map[string]int{} // identity key -> the node id that owns the real pool slot
	ids := make([]int, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		if n.ID != 0 {
			ids = append(ids, n.ID)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		key := keyByID[id]
		if _, taken := slotOf[key]; !taken {
			slotOf[key] = id
		}
	}

	paths := map[int]string{}
	for _, ownerID := range slotOf {
		paths[ownerID] = "node_modules/.ore/" + graph.Nodes[ownerID].Name + "/" + graph.Nodes[ownerID].Resolution.CacheKey()
	}

	graph.InstallPath = map[int]string{}
	for _, id := range ids {
		key := keyByID[id]
		owner := slotOf[key]
		graph.InstallPath[id] = paths[owner]
	}
}

// LinksFor returns, for each edge out of fromID, the (name, real pool
// path) pairs that fromID's own node_modules directory should symlink
// to under isolated placement.
func LinksFor(graph *Graph, fromID int) map[string]string {
	links := map[string]string{}
	for _, e := range graph.Edges {
		if e.From != fromID {
			continue
		}
		if e.Kind == EdgePeer {
			continue
		}
		links[graph.Nodes[e.To].Name] = graph.InstallPath[e.To]
	}
	return links
}
