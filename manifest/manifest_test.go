package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "left-pad",
		"version": "1.3.0",
		"dependencies": {"a": "^1.0.0"}
	}`))
	require.NoError(t, err)
	require.Equal(t, "left-pad", m.Name)
	require.Equal(t, "1.3.0", m.Version)
	require.Equal(t, "^1.0.0", m.Dependencies["a"])
	require.Empty(t, m.DevDependencies)
}

func TestParseBinString(t *testing.T) {
	m, err := Parse([]byte(`{"name": "mytool", "bin": "./cli.js"}`))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"mytool": "./cli.js"}, m.Bin)
}

func TestParseBinObject(t *testing.T) {
	m, err := Parse([]byte(`{"name": "mytool", "bin": {"a": "./a.js", "b": "./b.js"}}`))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "./a.js", "b": "./b.js"}, m.Bin)
}

func TestParseBundledDependenciesBoolean(t *testing.T) {
	m, err := Parse([]byte(`{
		"name": "x",
		"dependencies": {"a": "1", "b": "2"},
		"bundledDependencies": true
	}`))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, m.BundledDependencies)
}

func TestParseBundledDependenciesArray(t *testing.T) {
	m, err := Parse([]byte(`{"name": "x", "bundleDependencies": ["a"]}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, m.BundledDependencies)
}

func TestParseDeprecatedString(t *testing.T) {
	m, err := Parse([]byte(`{"name": "x", "deprecated": "use y instead"}`))
	require.NoError(t, err)
	require.Equal(t, "use y instead", m.Deprecated)
}

func TestParseDeprecatedFalse(t *testing.T) {
	m, err := Parse([]byte(`{"name": "x", "deprecated": false}`))
	require.NoError(t, err)
	require.Empty(t, m.Deprecated)
}

func TestParseMissingFieldsDefaultEmpty(t *testing.T) {
	m, err := Parse([]byte(`{"name": "x"}`))
	require.NoError(t, err)
	require.NotNil(t, m.Dependencies)
	require.NotNil(t, m.Scripts)
	require.Empty(t, m.Bin)
}
