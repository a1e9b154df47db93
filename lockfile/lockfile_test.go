package lockfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sample() *Lockfile {
	return &Lockfile{
		Version: Version,
		Root: Root{
			Dependencies:    map[string]string{"left-pad": "^1.3.0"},
			DevDependencies: map[string]string{},
			Optional:        map[string]string{},
			Peer:            map[string]string{},
		},
		Nodes: []Node{
			{
				InstallPath: "node_modules/left-pad",
				Name:        "left-pad",
				Version:     "1.3.0",
				Resolved:    "https://registry.example/left-pad/-/left-pad-1.3.0.tgz",
				Integrity:   "sha512-aaaa",
				Dependencies: map[string]string{},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample()))

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, sample(), decoded)
}

func TestEncodeIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Encode(&a, sample()))
	require.NoError(t, Encode(&b, sample()))
	require.Equal(t, a.Bytes(), b.Bytes())
}

func TestSerializeParseSerializeByteIdentical(t *testing.T) {
	var first bytes.Buffer
	require.NoError(t, Encode(&first, sample()))

	decoded, err := Decode(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)

	var second bytes.Buffer
	require.NoError(t, Encode(&second, decoded))

	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	doc := `version 1
root {
    dependencies {}
    devDependencies {}
    optional {}
    peer {}
}
node "node_modules/foo" {
    name "foo"
    resolved "file:///tmp/foo"
    dependencies {}
    futureField "blah"
}
`
	lf, err := Decode(bytes.NewReader([]byte(doc)))
	require.NoError(t, err)
	require.Len(t, lf.Nodes, 1)
	require.Equal(t, "foo", lf.Nodes[0].Name)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not a lockfile")))
	require.Error(t, err)
}
