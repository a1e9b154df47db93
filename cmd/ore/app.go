// Package main is the `ore` command-line binary: a Cobra tree wiring
// the configuration loader, registry client, content-addressable
// store, resolver and layout applier together.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/internal/oreevents"
	"github.com/orepkg/ore/layout"
	"github.com/orepkg/ore/lockfile"
	"github.com/orepkg/ore/manifest"
	"github.com/orepkg/ore/registryclient"
	"github.com/orepkg/ore/resolve"
	"github.com/orepkg/ore/revalidation"
	"github.com/orepkg/ore/source"
	"github.com/orepkg/ore/store"
)

const manifestFile = "package.json"
const lockfileName = "ore.lock"

// app bundles every wired component a subcommand needs, built once
// from the resolved Configuration.
type app struct {
	cfg      *configuration.Configuration
	store    *store.Store
	reval    *revalidation.Cache
	registry *registryclient.Client
	src      *source.Source
	events   *oreevents.Sink
	root     string // project root, cwd unless overridden
}

// buildApp loads the configuration, then constructs every component in
// dependency order: config -> logging -> storage driver -> registry
// client -> source -> app.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfiguration()
	if err != nil {
		return nil, err
	}
	configureLogging(cfg)

	root, err := os.Getwd()
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, nil)
	}

	st, err := store.Open(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	var events *oreevents.Sink
	if cfg.Progress {
		events = oreevents.NewSink(oreevents.NewChannelSink(256), 256)
	}

	var reval *revalidation.Cache
	if cfg.Cache.Revalidation.Path != "" || cfg.Cache.Revalidation.Shared != nil {
		reval, err = revalidation.Open(cfg.Cache.Revalidation)
		if err != nil {
			return nil, err
		}
	}

	var revalidator registryclient.Revalidator
	if reval != nil {
		revalidator = reval
	}

	reg := registryclient.New(cfg.Registry, nil, cfg.Timeouts.HTTPRequest, revalidator)
	src := source.New(reg, st, filepath.Join(cfg.Cache.Dir, "tmp"))

	return &app{
		cfg:      cfg,
		store:    st,
		reval:    reval,
		registry: reg,
		src:      src,
		events:   events,
		root:     root,
	}, nil
}

func (a *app) Close() {
	if a.reval != nil {
		a.reval.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
}

// loadConfiguration reads $ORE_CONFIG (or ./.ore.yaml if unset) and
// falls back to the bare defaults with the public npm registry — a
// missing file is not an error.
func loadConfiguration() (*configuration.Configuration, error) {
	path := os.Getenv("ORE_CONFIG")
	if path == "" {
		path = ".ore.yaml"
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		cfg := configuration.Defaults(runtime.NumCPU())
		cfg.Registry.URL = "https://registry.npmjs.org"
		return &cfg, nil
	}
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	defer f.Close()

	cfg, err := configuration.Parse(f, runtime.NumCPU())
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	return cfg, nil
}

func configureLogging(cfg *configuration.Configuration) {
	level, err := logrus.ParseLevel(string(cfg.Log.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch cfg.Log.Formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	}
}

func (a *app) manifestPath() string {
	return filepath.Join(a.root, manifestFile)
}

func (a *app) lockfilePath() string {
	return filepath.Join(a.root, lockfileName)
}

func (a *app) readManifest() (*manifest.Manifest, error) {
	data, err := os.ReadFile(a.manifestPath())
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": a.manifestPath()})
	}
	return manifest.Parse(data)
}

func (a *app) readLockfile() (*lockfile.Lockfile, error) {
	f, err := os.Open(a.lockfilePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": a.lockfilePath()})
	}
	defer f.Close()
	return lockfile.Decode(f)
}

// resolveAndApply runs the resolve+apply pipeline shared by apply,
// reapply, add and remove.
func (a *app) resolveAndApply(ctx context.Context, opts resolveApplyOptions) error {
	if opts.preferOffline {
		ctx = dcontext.WithPreferOffline(ctx)
	}

	if opts.validate {
		if err := a.validateStore(ctx); err != nil {
			return err
		}
	}

	m, err := a.readManifest()
	if err != nil {
		return err
	}

	lf, _ := a.readLockfile()

	placement := a.cfg.Placement
	if opts.isolated {
		placement = configuration.PlacementIsolated
	}

	resolver := resolve.New(a.src)
	graph, err := resolver.Resolve(ctx, m, a.root, resolve.Options{
		Placement:  placement,
		Lockfile:   lf,
		Locked:     opts.locked,
		IncludeDev: true,
	})
	if err != nil {
		return err
	}

	if placement == configuration.PlacementIsolated {
		resolve.ApplyIsolatedPlacement(graph)
	}

	applier := layout.New(a.src, a.store, a.events, a.root)
	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = a.cfg.Concurrency
	}
	report, err := applier.Apply(ctx, graph, layout.Options{
		Concurrency:     concurrency,
		PruneExtraneous: true,
		NoLockfile:      opts.noLockfile,
		RunScripts:      !opts.noScripts,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "extracted %d, pruned %d, scripts run %d\n", report.Extracted, len(report.Pruned), report.ScriptsRun)
	for _, name := range report.OptionalFailed {
		dcontext.GetLogger(ctx).Warnf("ore: optional dependency %s failed; subtree pruned", name)
	}
	return nil
}

// resolveApplyOptions is the shared flag bag across apply/reapply/add/remove.
type resolveApplyOptions struct {
	locked        bool
	noScripts     bool
	noLockfile    bool
	preferOffline bool
	concurrency   int
	isolated      bool
	validate      bool
}

// validateStore recomputes every cached blob's digest and tombstones
// the index entry of any that no longer matches, failing the run so a
// corrupted cache is never silently resolved or extracted from.
func (a *app) validateStore(ctx context.Context) error {
	report, err := a.store.Verify(ctx)
	if err != nil {
		return err
	}
	if len(report.Pruned) == 0 {
		return nil
	}
	dcontext.GetLogger(ctx).Warnf("ore: validate pruned %d corrupt blob(s), tombstoned %d cache entr(y/ies)", len(report.Pruned), len(report.Tombstoned))
	return oreerrors.New(oreerrors.KindIntegrityMismatch, map[string]any{
		"checked":    report.Checked,
		"pruned":     len(report.Pruned),
		"tombstoned": len(report.Tombstoned),
	})
}
