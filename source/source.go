// Package source resolves a PackageSpec to a concrete, fetchable
// PackageResolution and a tarball stream: a blob fetch-and-cache
// pattern adapted from OCI blobs to npm packuments/tarballs for
// registry specs, and an "exec.Command git clone into a tracked temp
// dir" approach for git specs.
package source

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/orepkg/ore/integrity"
	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/manifest"
	"github.com/orepkg/ore/registryclient"
	"github.com/orepkg/ore/specparser"
	"github.com/orepkg/ore/store"
)

// Kind tags which PackageResolution variant a resolution holds.
type Kind int

const (
	KindRegistry Kind = iota
	KindGit
	KindDir
)

// Resolution is the concrete, fetchable identity a PackageSpec resolves
// to.
type Resolution struct {
	Kind Kind

	// KindRegistry
	Name       string
	Version    string
	TarballURL string
	Integrity  string

	// KindGit
	RepoURL     string
	Committish  string
	ResolvedSHA string
	Subpath     string

	// KindDir
	Path string
}

// CacheKey is the stable store key a resolution's tarball is cached
// under.
func (r Resolution) CacheKey() string {
	switch r.Kind {
	case KindRegistry:
		return "registry:" + r.Name + "@" + r.Version
	case KindGit:
		key := "git:" + r.RepoURL + "#" + r.ResolvedSHA
		if r.Subpath != "" {
			key += ":" + r.Subpath
		}
		return key
	default:
		return "dir:" + r.Path
	}
}

// Source resolves specs and streams their tarball content, using the
// registry client for registry specs, a temp-directory git clone for
// git specs, and the local filesystem directly for dir specs.
type Source struct {
	registry *registryclient.Client
	store    *store.Store
	workDir  string
}

// New builds a Source. workDir is the root under which git clones are
// made, one subdirectory per clone.
func New(registry *registryclient.Client, st *store.Store, workDir string) *Source {
	return &Source{registry: registry, store: st, workDir: workDir}
}

// Resolve picks a concrete version/commit for spec and returns its
// metadata subset alongside the resolution identity. For KindDir specs
// there is no tarball and VersionMetadata is populated by reading
// package.json in place.
func (s *Source) Resolve(ctx context.Context, spec *specparser.PackageSpec) (*registryclient.VersionMetadata, Resolution, error) {
	switch spec.Kind {
	case specparser.KindRegistryRange, specparser.KindRegistryTag, specparser.KindRegistryVersion:
		return s.resolveRegistry(ctx, spec)
	case specparser.KindAlias:
		return s.Resolve(ctx, spec.Target)
	case specparser.KindGit:
		return s.resolveGit(ctx, spec)
	case specparser.KindDir:
		return s.resolveDir(spec)
	default:
		return nil, Resolution{}, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"reason": "unresolvable spec kind"})
	}
}

func (s *Source) resolveRegistry(ctx context.Context, spec *specparser.PackageSpec) (*registryclient.VersionMetadata, Resolution, error) {
	p, err := s.registry.Packument(ctx, spec.Scope, fullName(spec.Scope, spec.Name))
	if err != nil {
		return nil, Resolution{}, err
	}

	version, err := pickVersion(p, spec)
	if err != nil {
		return nil, Resolution{}, err
	}

	vm, ok := p.Versions[version]
	if !ok {
		return nil, Resolution{}, oreerrors.New(oreerrors.KindNoSatisfyingVersion, map[string]any{"name": spec.Name, "version": version})
	}

	res := Resolution{
		Kind:       KindRegistry,
		Name:       vm.Name,
		Version:    vm.Version,
		TarballURL: vm.Dist.Tarball,
		Integrity:  vm.Dist.Integrity,
	}
	return &vm, res, nil
}

func pickVersion(p *registryclient.Packument, spec *specparser.PackageSpec) (string, error) {
	switch spec.Kind {
	case specparser.KindRegistryVersion:
		if _, ok := p.Versions[spec.Version]; !ok {
			return "", oreerrors.New(oreerrors.KindNoSatisfyingVersion, map[string]any{"name": spec.Name, "want": spec.Version})
		}
		return spec.Version, nil

	case specparser.KindRegistryTag:
		v, ok := p.DistTags[spec.Tag]
		if !ok {
			return "", oreerrors.New(oreerrors.KindNoSatisfyingVersion, map[string]any{"name": spec.Name, "tag": spec.Tag})
		}
		return v, nil

	case specparser.KindRegistryRange:
		constraint, err := semver.NewConstraint(spec.Range)
		if err != nil {
			return "", oreerrors.Wrap(oreerrors.KindSpecParse, err, map[string]any{"range": spec.Range})
		}
		includePrerelease := rangeHasPrerelease(spec.Range)

		var best *semver.Version
		var bestRaw string
		for raw := range p.Versions {
			v, err := semver.NewVersion(raw)
			if err != nil {
				continue
			}
			if v.Prerelease() != "" && !includePrerelease {
				continue
			}
			if !constraint.Check(v) {
				continue
			}
			if best == nil || v.GreaterThan(best) {
				best = v
				bestRaw = raw
			}
		}
		if best == nil {
			return "", oreerrors.New(oreerrors.KindNoSatisfyingVersion, map[string]any{"name": spec.Name, "range": spec.Range})
		}
		return bestRaw, nil

	default:
		return "", oreerrors.New(oreerrors.KindSpecParse, map[string]any{"reason": "not a registry spec"})
	}
}

var prereleaseTokenRe = regexp.MustCompile(`-[0-9A-Za-z.-]+`)

func rangeHasPrerelease(rangeStr string) bool {
	return prereleaseTokenRe.MatchString(rangeStr)
}

func fullName(scope, name string) string {
	if scope == "" {
		return name
	}
	return "@" + scope + "/" + name
}

// Stream opens a reader over res's tarball content: the store is
// consulted first by res's cache key, falling back to a live fetch
// that is teed into the store. KindDir resolutions have no tarball;
// callers read the directory tree directly instead.
func (s *Source) Stream(ctx context.Context, res Resolution) (io.ReadCloser, error) {
	if res.Kind == KindDir {
		return nil, oreerrors.New(oreerrors.KindIO, map[string]any{"reason": "dir resolutions have no tarball stream"})
	}

	key := res.CacheKey()
	if _, rc, err := s.store.Get(ctx, key, true); err == nil {
		return rc, nil
	}

	switch res.Kind {
	case KindRegistry:
		return s.fetchRegistryTarball(ctx, res)
	case KindGit:
		return s.packGitTarball(ctx, res)
	default:
		return nil, oreerrors.New(oreerrors.KindIO, map[string]any{"reason": "unknown resolution kind"})
	}
}

func (s *Source) fetchRegistryTarball(ctx context.Context, res Resolution) (io.ReadCloser, error) {
	body, err := s.registry.Tarball(ctx, res.TarballURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	w, err := s.store.Put(ctx, res.CacheKey(), nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, body); err != nil {
		w.Abandon()
		return nil, oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": res.TarballURL})
	}
	entry, err := w.Commit(ctx)
	if err != nil {
		return nil, err
	}
	if res.Integrity != "" {
		want, err := integrity.Parse(res.Integrity)
		if err != nil {
			return nil, oreerrors.Wrap(oreerrors.KindIntegrityMismatch, err, map[string]any{"want": res.Integrity})
		}
		got, err := integrity.Parse(entry.Integrity)
		if err != nil {
			return nil, oreerrors.Wrap(oreerrors.KindIntegrityMismatch, err, map[string]any{"got": entry.Integrity})
		}
		if !got.Matches(want) {
			return nil, oreerrors.New(oreerrors.KindIntegrityMismatch, map[string]any{
				"url": res.TarballURL, "want": res.Integrity, "got": entry.Integrity,
			})
		}
	}

	_, rc, err := s.store.Get(ctx, res.CacheKey(), true)
	return rc, err
}

// resolveGit resolves committish to a concrete sha via `git ls-remote`
// and returns metadata read from the cloned tree's package.json.
func (s *Source) resolveGit(ctx context.Context, spec *specparser.PackageSpec) (*registryclient.VersionMetadata, Resolution, error) {
	sha, err := lsRemoteResolve(ctx, spec.URL, spec.Committish)
	if err != nil {
		return nil, Resolution{}, err
	}

	res := Resolution{Kind: KindGit, RepoURL: spec.URL, Committish: spec.Committish, ResolvedSHA: sha}

	dir, err := s.cloneToTemp(ctx, res)
	if err != nil {
		return nil, Resolution{}, err
	}
	defer os.RemoveAll(dir)

	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, Resolution{}, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": dir})
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, Resolution{}, err
	}

	vm := &registryclient.VersionMetadata{
		Name:                 m.Name,
		Version:              m.Version,
		Dependencies:         m.Dependencies,
		OptionalDependencies: m.OptionalDependencies,
		PeerDependencies:     m.PeerDependencies,
		DevDependencies:      m.DevDependencies,
		BundledDependencies:  m.BundledDependencies,
		Scripts:              m.Scripts,
		Bin:                  m.Bin,
	}
	return vm, res, nil
}

var refLineRe = regexp.MustCompile(`^([0-9a-f]{40})\s+(\S+)`)

// lsRemoteResolve runs `git ls-remote` against url and picks the sha
// for committish, defaulting to HEAD when committish is empty.
func lsRemoteResolve(ctx context.Context, url, committish string) (string, error) {
	want := committish
	if want == "" {
		want = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "ls-remote", url, want)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": url, "stderr": stderr.String()})
	}

	lines := strings.Split(stdout.String(), "\n")
	for _, line := range lines {
		m := refLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if want == "HEAD" || strings.HasSuffix(m[2], "/"+want) || m[2] == want || m[2] == "refs/heads/"+want || m[2] == "refs/tags/"+want {
			return m[1], nil
		}
	}
	// committish may already be a full or abbreviated sha not present
	// as a named ref; ls-remote cannot resolve those, so fall back to
	// treating the literal value as the resolved sha.
	if committish != "" {
		return committish, nil
	}
	return "", oreerrors.New(oreerrors.KindNetworkError, map[string]any{"url": url, "reason": "no matching ref from ls-remote"})
}

func (s *Source) cloneToTemp(ctx context.Context, res Resolution) (string, error) {
	dir := filepath.Join(s.workDir, "git-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"dir": dir})
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", res.RepoURL, dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		return "", oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"url": res.RepoURL, "stderr": stderr.String()})
	}

	checkout := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "--quiet", res.ResolvedSHA)
	checkout.Stderr = &stderr
	if err := checkout.Run(); err != nil {
		os.RemoveAll(dir)
		return "", oreerrors.Wrap(oreerrors.KindNetworkError, err, map[string]any{"sha": res.ResolvedSHA, "stderr": stderr.String()})
	}

	dcontext.GetLogger(ctx).Debugf("source: cloned %s@%s to %s", res.RepoURL, res.ResolvedSHA, dir)
	return dir, nil
}

// packGitTarball clones the repository afresh at the resolved sha and
// packs the working tree, or its subpath, into a gzip tarball written
// through the store.
func (s *Source) packGitTarball(ctx context.Context, res Resolution) (io.ReadCloser, error) {
	dir, err := s.cloneToTemp(ctx, res)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	root := dir
	if res.Subpath != "" {
		root = filepath.Join(dir, res.Subpath)
	}

	w, err := s.store.Put(ctx, res.CacheKey(), nil)
	if err != nil {
		return nil, err
	}

	gz := gzip.NewWriter(w)
	if err := packDirectory(root, gz); err != nil {
		gz.Close()
		w.Abandon()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		w.Abandon()
		return nil, oreerrors.Wrap(oreerrors.KindTarExtract, err, nil)
	}
	if _, err := w.Commit(ctx); err != nil {
		return nil, err
	}

	_, rc, err := s.store.Get(ctx, res.CacheKey(), true)
	return rc, err
}

// resolveDir reads package.json at spec.Path without any tarball.
func (s *Source) resolveDir(spec *specparser.PackageSpec) (*registryclient.VersionMetadata, Resolution, error) {
	raw, err := os.ReadFile(filepath.Join(spec.Path, "package.json"))
	if err != nil {
		return nil, Resolution{}, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": spec.Path})
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, Resolution{}, err
	}
	vm := &registryclient.VersionMetadata{
		Name:                 m.Name,
		Version:              m.Version,
		Dependencies:         m.Dependencies,
		OptionalDependencies: m.OptionalDependencies,
		PeerDependencies:     m.PeerDependencies,
		DevDependencies:      m.DevDependencies,
		BundledDependencies:  m.BundledDependencies,
		Scripts:              m.Scripts,
		Bin:                  m.Bin,
	}
	return vm, Resolution{Kind: KindDir, Path: spec.Path}, nil
}

// packDirectory walks root and writes every regular file and symlink
// under it into a tar stream, with paths relative to root.
func packDirectory(root string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if info.Name() == ".git" && info.IsDir() {
			return filepath.SkipDir
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
}
