package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/resolve"
	"github.com/orepkg/ore/specparser"
)

var (
	viewGraph bool
	viewSVG   bool
)

var viewCmd = &cobra.Command{
	Use:   "view NAME[@SPEC]",
	Short: "print resolved metadata for a single package specifier",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runView(args[0]))
	},
}

func init() {
	viewCmd.Flags().BoolVar(&viewGraph, "graph", false, "render the resolved graph to Graphviz DOT instead of looking up a single package")
	viewCmd.Flags().BoolVar(&viewSVG, "svg", false, "with --graph, render to SVG instead of printing DOT text")
}

func runView(raw string) int {
	ctx := dcontext.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return exitf(err)
	}
	defer a.Close()

	if viewGraph {
		return exitf(a.renderGraph(ctx))
	}

	spec, err := specparser.Parse(raw, a.root)
	if err != nil {
		return exitf(err)
	}

	meta, res, err := a.src.Resolve(ctx, spec)
	if err != nil {
		return exitf(err)
	}

	fmt.Printf("%s@%s\n", meta.Name, meta.Version)
	fmt.Printf("  resolved: %s\n", res.CacheKey())
	if res.Integrity != "" {
		fmt.Printf("  integrity: %s\n", res.Integrity)
	}
	if len(meta.Dependencies) > 0 {
		fmt.Println("  dependencies:")
		for name, r := range meta.Dependencies {
			fmt.Printf("    %s: %s\n", name, r)
		}
	}
	if len(meta.PeerDependencies) > 0 {
		fmt.Println("  peerDependencies:")
		for name, r := range meta.PeerDependencies {
			fmt.Printf("    %s: %s\n", name, r)
		}
	}
	return exitOK
}

// renderGraph resolves the current manifest against the existing
// lockfile (in locked mode, so it never touches the network) and
// prints its Graphviz DOT rendering to stdout, or its SVG with --svg.
func (a *app) renderGraph(ctx context.Context) error {
	lf, err := a.readLockfile()
	if err != nil {
		return err
	}
	if lf == nil {
		return fmt.Errorf("no lockfile at %s; run apply first", a.lockfilePath())
	}

	m, err := a.readManifest()
	if err != nil {
		return err
	}

	resolver := resolve.New(a.src)
	graph, err := resolver.Resolve(ctx, m, a.root, resolve.Options{
		Placement:  a.cfg.Placement,
		Lockfile:   lf,
		Locked:     true,
		IncludeDev: true,
	})
	if err != nil {
		return err
	}

	dot := graphToDOT(graph)
	if !viewSVG {
		_, err := os.Stdout.WriteString(dot)
		return err
	}

	svg, err := renderGraphSVG(dot)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(svg)
	return err
}
