package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"

	"github.com/orepkg/ore/resolve"
)

// graphToDOT renders graph as a Graphviz digraph, walking nodes and edges
// the same way the lockfile codec walks them for serialization, so the two
// never drift out of sync with each other.
func graphToDOT(graph *resolve.Graph) string {
	var buf bytes.Buffer
	buf.WriteString("digraph ore {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [fontname=\"monospace\", fontsize=10, shape=box];\n\n")

	for _, n := range graph.Nodes {
		label := "root"
		if !n.IsRoot() {
			label = fmt.Sprintf("%s@%s", n.Name, n.Resolution.Version)
		}
		buf.WriteString(fmt.Sprintf("  n%d [label=%q];\n", n.ID, label))
	}
	buf.WriteString("\n")

	for _, e := range graph.Edges {
		style := ""
		switch e.Kind {
		case resolve.EdgeDev:
			style = " [style=dashed, color=gray]"
		case resolve.EdgePeer:
			style = " [style=dotted, color=blue]"
		case resolve.EdgeOptional:
			style = " [style=dashed, color=orange]"
		}
		buf.WriteString(fmt.Sprintf("  n%d -> n%d%s;\n", e.From, e.To, style))
	}

	buf.WriteString("}\n")
	return buf.String()
}

// renderGraphSVG parses dot with Graphviz and renders it to SVG, for
// --graph --svg. It exists so the CLI can hand an operator a viewable
// image instead of raw DOT text when they ask for one.
func renderGraphSVG(dot string) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
