package integrity

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForAndParseRoundTrip(t *testing.T) {
	data := []byte("hello, world")
	sum := For(data, SHA512, SHA256)
	parsed, err := Parse(sum.String())
	require.NoError(t, err)
	require.True(t, sum.Matches(parsed))
}

func TestPreferredPicksHighestRank(t *testing.T) {
	sum := For([]byte("x"), SHA1, SHA256, SHA512)
	p, ok := sum.Preferred()
	require.True(t, ok)
	require.Equal(t, SHA512, p.Algorithm)
}

func TestMatchesRequiresCommonEntry(t *testing.T) {
	a := For([]byte("a"), SHA256)
	b := For([]byte("b"), SHA256)
	require.False(t, a.Matches(b))
	require.True(t, a.Matches(a))
}

func TestVerifyingReaderSuccess(t *testing.T) {
	data := []byte("package contents")
	expected := For(data, SHA512)
	vr := NewVerifyingReader(bytes.NewReader(data), expected)
	_, err := io.ReadAll(vr)
	require.NoError(t, err)
	require.NoError(t, vr.Verify())
}

func TestVerifyingReaderMismatch(t *testing.T) {
	expected := For([]byte("original"), SHA512)
	vr := NewVerifyingReader(bytes.NewReader([]byte("tampered")), expected)
	_, err := io.ReadAll(vr)
	require.NoError(t, err)
	require.Error(t, vr.Verify())
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("notanalgorithmtoken")
	require.Error(t, err)
	_, err = Parse("sha512-not_base64!!")
	require.Error(t, err)
	_, err = Parse("")
	require.Error(t, err)
}
