package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/specparser"
)

var (
	addOpts resolveApplyOptions
	addDev  bool
)

var addCmd = &cobra.Command{
	Use:   "add SPEC [SPEC...]",
	Short: "add one or more dependencies to the manifest, then apply",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runAdd(args, addOpts, addDev))
	},
}

func init() {
	bindApplyFlags(addCmd, &addOpts)
	addCmd.Flags().BoolVar(&addDev, "dev", false, "add under devDependencies instead of dependencies")
}

func runAdd(specs []string, opts resolveApplyOptions, dev bool) int {
	ctx := dcontext.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return exitf(err)
	}
	defer a.Close()

	if err := a.addDependencies(specs, dev); err != nil {
		return exitf(err)
	}
	return exitf(a.resolveAndApply(ctx, opts))
}

// addDependencies parses each raw specifier and sets it under
// dependencies (or devDependencies, with --dev) in the on-disk
// manifest, preserving every other field and the document's key order.
func (a *app) addDependencies(specs []string, dev bool) error {
	path := a.manifestPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	doc := string(raw)

	field := "dependencies"
	if dev {
		field = "devDependencies"
	}

	for _, raw := range specs {
		spec, err := specparser.Parse(raw, a.root)
		if err != nil {
			return err
		}
		name := depName(spec)
		value := depValue(spec)

		doc, err = sjson.Set(doc, field+"."+gjson.Escape(name), value)
		if err != nil {
			return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path, "name": name})
		}
		fmt.Printf("added %s@%s\n", name, value)
	}

	return os.WriteFile(path, []byte(doc), 0o644)
}

func depName(spec *specparser.PackageSpec) string {
	switch spec.Kind {
	case specparser.KindGit:
		return gitSpecName(spec)
	case specparser.KindDir:
		return dirSpecName(spec)
	}
	if spec.Scope != "" {
		return "@" + spec.Scope + "/" + spec.Name
	}
	return spec.Name
}

// depValue renders the right-hand side that belongs in a dependencies
// map entry, the same grammar specparser.Parse accepts back in.
func depValue(spec *specparser.PackageSpec) string {
	switch spec.Kind {
	case specparser.KindRegistryRange:
		return spec.Range
	case specparser.KindRegistryTag:
		return spec.Tag
	case specparser.KindRegistryVersion:
		return spec.Version
	case specparser.KindAlias:
		return "npm:" + spec.Target.String()
	case specparser.KindGit:
		ref := spec.URL
		if spec.Committish != "" {
			ref += "#" + spec.Committish
		} else if spec.SemverRange != "" {
			ref += "#semver:" + spec.SemverRange
		}
		return "git+" + ref
	case specparser.KindDir:
		return "file:" + spec.Path
	default:
		return spec.String()
	}
}

// gitSpecName falls back to the last path segment of the repo URL,
// stripping a trailing ".git", when the caller didn't give a bare
// "name@git+url" form (specparser does not itself infer a name).
func gitSpecName(spec *specparser.PackageSpec) string {
	s := spec.URL
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".git")
}

func dirSpecName(spec *specparser.PackageSpec) string {
	s := spec.Path
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
