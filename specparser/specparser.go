// Package specparser parses raw package specifier strings — the
// right-hand side of a dependencies entry, or a CLI "add" argument —
// into a tagged PackageSpec variant.
package specparser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/orepkg/ore/internal/oreerrors"
)

// Kind tags which PackageSpec variant a parsed specifier holds.
type Kind int

const (
	KindRegistryRange Kind = iota
	KindRegistryTag
	KindRegistryVersion
	KindAlias
	KindGit
	KindDir
)

// PackageSpec is a tagged variant; only the fields relevant to Kind are
// populated. Variants are not expressed as an interface, per the design
// note that PackageSpec/PackageResolution stay tagged unions rather
// than polymorphic types.
type PackageSpec struct {
	Kind Kind

	// RegistryRange / RegistryTag / RegistryVersion / Alias / Git
	Name  string
	Scope string // without leading "@"

	Range   string // KindRegistryRange
	Tag     string // KindRegistryTag, defaults to "latest"
	Version string // KindRegistryVersion

	Target *PackageSpec // KindAlias: name@npm:other@range

	URL         string // KindGit
	Committish  string // KindGit, optional
	SemverRange string // KindGit, "user/repo#semver:^1" form

	Path string // KindDir, resolved absolute path
}

var nameRe = regexp.MustCompile(`^[a-z0-9._-]+$`)

// Parse parses raw into a PackageSpec. from is the directory relative
// paths (Dir specs) are resolved against; it may be empty if the caller
// knows raw cannot be a relative path.
func Parse(raw, from string) (*PackageSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": raw, "reason": "empty specifier"})
	}

	if looksLikeDir(raw) {
		p := strings.TrimPrefix(raw, "file:")
		if !filepath.IsAbs(p) {
			p = filepath.Join(from, p)
		}
		return &PackageSpec{Kind: KindDir, Path: filepath.Clean(p)}, nil
	}

	if isGitSpec(raw) {
		return parseGit(raw)
	}

	name, rest, err := splitNameAndRest(raw)
	if err != nil {
		return nil, err
	}
	scope, bare, err := splitScope(name)
	if err != nil {
		return nil, err
	}

	if rest == "" {
		return &PackageSpec{Kind: KindRegistryTag, Name: bare, Scope: scope, Tag: "latest"}, nil
	}

	if strings.HasPrefix(rest, "npm:") {
		targetRaw := strings.TrimPrefix(rest, "npm:")
		target, err := Parse(targetRaw, from)
		if err != nil {
			return nil, err
		}
		return &PackageSpec{Kind: KindAlias, Name: bare, Scope: scope, Target: target}, nil
	}

	// An exact version ("1.3.0") is also a valid (implicit "=") semver
	// constraint, so the exact-version check must run first or every
	// plain version would be misread as a range.
	if v, err := semver.NewVersion(rest); err == nil && v.Original() == rest {
		return &PackageSpec{Kind: KindRegistryVersion, Name: bare, Scope: scope, Version: v.Original()}, nil
	}

	if _, err := semver.NewConstraint(rest); err == nil {
		return &PackageSpec{Kind: KindRegistryRange, Name: bare, Scope: scope, Range: rest}, nil
	}

	return &PackageSpec{Kind: KindRegistryTag, Name: bare, Scope: scope, Tag: rest}, nil
}

// splitNameAndRest splits "name@rest", "@scope/name@rest" or "name"
// (no rest) apart, respecting that a scoped name itself contains an
// "@" before its first "/".
func splitNameAndRest(raw string) (name, rest string, err error) {
	if strings.HasPrefix(raw, "@") {
		idx := strings.Index(raw, "/")
		if idx < 0 {
			return "", "", oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": raw, "reason": "scoped name missing '/'"})
		}
		scopePart := raw[:idx]
		remainder := raw[idx+1:]
		if at := strings.Index(remainder, "@"); at >= 0 {
			return scopePart + "/" + remainder[:at], remainder[at+1:], nil
		}
		return scopePart + "/" + remainder, "", nil
	}
	if at := strings.Index(raw, "@"); at > 0 {
		return raw[:at], raw[at+1:], nil
	}
	return raw, "", nil
}

func splitScope(name string) (scope, bare string, err error) {
	if !strings.HasPrefix(name, "@") {
		if !nameRe.MatchString(name) {
			return "", "", oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": name, "reason": "invalid package name"})
		}
		return "", name, nil
	}
	idx := strings.Index(name, "/")
	if idx < 0 {
		return "", "", oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": name, "reason": "scoped name missing '/'"})
	}
	scope = name[1:idx]
	bare = name[idx+1:]
	if !nameRe.MatchString(scope) || !nameRe.MatchString(bare) || strings.Count(name, "/") != 1 {
		return "", "", oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": name, "reason": "invalid scoped package name"})
	}
	return scope, bare, nil
}

func looksLikeDir(raw string) bool {
	if strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") || strings.HasPrefix(raw, "/") {
		return true
	}
	// Bare Windows-ish or absolute-looking forms are out of scope; "file:"
	// prefix is the one other conventional directory marker.
	return strings.HasPrefix(raw, "file:")
}

func isGitSpec(raw string) bool {
	for _, prefix := range []string{"git+ssh://", "git+https://", "git+http://", "git://"} {
		if strings.HasPrefix(raw, prefix) {
			return true
		}
	}
	if strings.HasPrefix(raw, "github:") {
		return true
	}
	// "user/repo[#committish]" shorthand: exactly one slash, no "@", no
	// scheme, and not a bare name (which would have already returned from
	// splitNameAndRest with no slash present).
	if strings.Count(raw, "/") == 1 && !strings.Contains(raw, "@") && !strings.Contains(raw, "://") {
		return true
	}
	return false
}

func parseGit(raw string) (*PackageSpec, error) {
	spec := strings.TrimPrefix(raw, "git+")
	url := spec
	committish := ""
	semverRange := ""

	if idx := strings.Index(spec, "#"); idx >= 0 {
		url = spec[:idx]
		frag := spec[idx+1:]
		if strings.HasPrefix(frag, "semver:") {
			semverRange = strings.TrimPrefix(frag, "semver:")
		} else {
			committish = frag
		}
	}

	if strings.HasPrefix(url, "github:") {
		url = "https://github.com/" + strings.TrimPrefix(url, "github:") + ".git"
	} else if strings.Count(url, "/") == 1 && !strings.Contains(url, "://") {
		url = "https://github.com/" + url + ".git"
	}

	if url == "" {
		return nil, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": raw, "reason": "git specifier missing url"})
	}

	return &PackageSpec{Kind: KindGit, URL: url, Committish: committish, SemverRange: semverRange}, nil
}

// String renders spec back to its canonical specifier form, primarily
// for log messages and lockfile edge-spec fields.
func (s *PackageSpec) String() string {
	switch s.Kind {
	case KindRegistryRange:
		return fullName(s.Scope, s.Name) + "@" + s.Range
	case KindRegistryTag:
		return fullName(s.Scope, s.Name) + "@" + s.Tag
	case KindRegistryVersion:
		return fullName(s.Scope, s.Name) + "@" + s.Version
	case KindAlias:
		return fullName(s.Scope, s.Name) + "@npm:" + s.Target.String()
	case KindGit:
		ref := s.URL
		if s.Committish != "" {
			ref += "#" + s.Committish
		} else if s.SemverRange != "" {
			ref += "#semver:" + s.SemverRange
		}
		return "git+" + ref
	case KindDir:
		return "file:" + s.Path
	default:
		return fmt.Sprintf("<unknown spec kind %d>", s.Kind)
	}
}

func fullName(scope, name string) string {
	if scope == "" {
		return name
	}
	return "@" + scope + "/" + name
}
