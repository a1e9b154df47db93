package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/orepkg/ore/internal/dcontext"
)

var applyOpts resolveApplyOptions

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "resolve the manifest and materialize node_modules",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runApply(applyOpts))
	},
}

var reapplyOpts resolveApplyOptions

var reapplyCmd = &cobra.Command{
	Use:   "reapply",
	Short: "re-run apply from the existing lockfile (equivalent to apply --locked)",
	Run: func(cmd *cobra.Command, args []string) {
		reapplyOpts.locked = true
		os.Exit(runApply(reapplyOpts))
	},
}

func init() {
	bindApplyFlags(applyCmd, &applyOpts)
	bindApplyFlags(reapplyCmd, &reapplyOpts)
}

func runApply(opts resolveApplyOptions) int {
	ctx := dcontext.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return exitf(err)
	}
	defer a.Close()

	return exitf(a.resolveAndApply(ctx, opts))
}
