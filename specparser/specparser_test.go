package specparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRegistryRange(t *testing.T) {
	s, err := Parse("left-pad@^1.3.0", "")
	require.NoError(t, err)
	require.Equal(t, KindRegistryRange, s.Kind)
	require.Equal(t, "left-pad", s.Name)
	require.Equal(t, "^1.3.0", s.Range)
	require.Equal(t, "left-pad@^1.3.0", s.String())
}

func TestParseRegistryVersion(t *testing.T) {
	s, err := Parse("left-pad@1.3.0", "")
	require.NoError(t, err)
	require.Equal(t, KindRegistryVersion, s.Kind)
	require.Equal(t, "1.3.0", s.Version)
}

func TestParseDefaultTag(t *testing.T) {
	s, err := Parse("left-pad", "")
	require.NoError(t, err)
	require.Equal(t, KindRegistryTag, s.Kind)
	require.Equal(t, "latest", s.Tag)
}

func TestParseNamedTag(t *testing.T) {
	s, err := Parse("left-pad@beta", "")
	require.NoError(t, err)
	require.Equal(t, KindRegistryTag, s.Kind)
	require.Equal(t, "beta", s.Tag)
}

func TestParseScoped(t *testing.T) {
	s, err := Parse("@types/node@^20", "")
	require.NoError(t, err)
	require.Equal(t, KindRegistryRange, s.Kind)
	require.Equal(t, "types", s.Scope)
	require.Equal(t, "node", s.Name)
	require.Equal(t, "^20", s.Range)
}

func TestParseAlias(t *testing.T) {
	s, err := Parse("lp@npm:left-pad@^1.3.0", "")
	require.NoError(t, err)
	require.Equal(t, KindAlias, s.Kind)
	require.Equal(t, "lp", s.Name)
	require.NotNil(t, s.Target)
	require.Equal(t, KindRegistryRange, s.Target.Kind)
	require.Equal(t, "left-pad", s.Target.Name)
}

func TestParseGitURL(t *testing.T) {
	s, err := Parse("git+https://example.com/foo/bar.git#v1.2.3", "")
	require.NoError(t, err)
	require.Equal(t, KindGit, s.Kind)
	require.Equal(t, "https://example.com/foo/bar.git", s.URL)
	require.Equal(t, "v1.2.3", s.Committish)
}

func TestParseGitShorthand(t *testing.T) {
	s, err := Parse("user/repo#semver:^1", "")
	require.NoError(t, err)
	require.Equal(t, KindGit, s.Kind)
	require.Equal(t, "https://github.com/user/repo.git", s.URL)
	require.Equal(t, "^1", s.SemverRange)
}

func TestParseDirRelative(t *testing.T) {
	s, err := Parse("../local-pkg", "/work/proj")
	require.NoError(t, err)
	require.Equal(t, KindDir, s.Kind)
	require.Equal(t, "/work/local-pkg", s.Path)
}

func TestParseInvalidScoped(t *testing.T) {
	_, err := Parse("@scope-only-no-slash", "")
	require.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("   ", "")
	require.Error(t, err)
}
