package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
)

var removeOpts resolveApplyOptions

var removeCmd = &cobra.Command{
	Use:   "remove NAME [NAME...]",
	Short: "remove one or more dependencies from the manifest, then apply",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runRemove(args, removeOpts))
	},
}

func init() {
	bindApplyFlags(removeCmd, &removeOpts)
}

func runRemove(names []string, opts resolveApplyOptions) int {
	ctx := dcontext.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return exitf(err)
	}
	defer a.Close()

	if err := a.removeDependencies(names); err != nil {
		return exitf(err)
	}
	return exitf(a.resolveAndApply(ctx, opts))
}

// removeDependencies deletes name from whichever of the four
// dependency sets it appears in, preserving everything else in the
// manifest document.
func (a *app) removeDependencies(names []string) error {
	path := a.manifestPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	doc := string(raw)

	fields := []string{"dependencies", "devDependencies", "optionalDependencies", "peerDependencies"}

	for _, name := range names {
		escaped := gjson.Escape(name)
		found := false
		for _, field := range fields {
			key := field + "." + escaped
			if !gjson.Get(doc, key).Exists() {
				continue
			}
			found = true
			doc, err = sjson.Delete(doc, key)
			if err != nil {
				return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path, "name": name})
			}
		}
		if !found {
			return oreerrors.New(oreerrors.KindNotFound, map[string]any{"name": name, "reason": "not a declared dependency"})
		}
		fmt.Printf("removed %s\n", name)
	}

	return os.WriteFile(path, []byte(doc), 0o644)
}
