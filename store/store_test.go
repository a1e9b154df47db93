package store

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orepkg/ore/integrity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func putString(t *testing.T, s *Store, key, content string) *CacheEntry {
	t.Helper()
	w, err := s.Put(context.Background(), key, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	entry, err := w.Commit(context.Background())
	require.NoError(t, err)
	return entry
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	putString(t, s, "left-pad@1.3.0", "module.exports = leftPad;")

	entry, rc, err := s.Get(context.Background(), "left-pad@1.3.0", true)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "module.exports = leftPad;", string(data))
	require.Equal(t, entry.Size, int64(len(data)))
}

// TestCacheIntegrity is invariant 1: every Get that returns an entry,
// reading and hashing the blob matches e.Integrity.
func TestCacheIntegrity(t *testing.T) {
	s := newTestStore(t)
	putString(t, s, "k", "some content")

	_, rc, err := s.Get(context.Background(), "k", true)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	vrc := rc.(*verifyingReadCloser)
	require.NoError(t, vrc.Verify())
}

// TestCacheIdempotence is invariant 2: put(K, bytes); put(K, bytes)
// leaves the store equivalent; get(K) returns the latest entry.
func TestCacheIdempotence(t *testing.T) {
	s := newTestStore(t)
	first := putString(t, s, "k", "same bytes")
	second := putString(t, s, "k", "same bytes")
	require.Equal(t, first.Integrity, second.Integrity)

	entry, rc, err := s.Get(context.Background(), "k", false)
	require.NoError(t, err)
	rc.Close()
	require.Equal(t, second.TimeMS, entry.TimeMS)
}

// TestCacheConcurrency is invariant 3: N parallel writers writing
// distinct keys; ls() afterward yields exactly the written set.
func TestCacheConcurrency(t *testing.T) {
	s := newTestStore(t)
	const n = 32

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			putString(t, s, keyFor(i), contentFor(i))
		}(i)
	}
	wg.Wait()

	entries, err := s.Ls(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, n)

	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Key] = true
	}
	for i := 0; i < n; i++ {
		require.True(t, seen[keyFor(i)])
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Get(context.Background(), "missing", false)
	require.Error(t, err)
}

func TestRmHidesKey(t *testing.T) {
	s := newTestStore(t)
	putString(t, s, "k", "data")
	require.NoError(t, s.Rm(context.Background(), "k"))

	_, _, err := s.Get(context.Background(), "k", false)
	require.Error(t, err)

	entries, err := s.Ls(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLargeWriteSpillsToDisk(t *testing.T) {
	s := newTestStore(t)
	big := make([]byte, inlineThreshold*2)
	for i := range big {
		big[i] = byte(i)
	}
	w, err := s.Put(context.Background(), "big", nil)
	require.NoError(t, err)
	_, err = w.Write(big)
	require.NoError(t, err)
	_, err = w.Commit(context.Background())
	require.NoError(t, err)

	_, rc, err := s.Get(context.Background(), "big", true)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	require.Equal(t, big, data)
}

// TestVerifyTombstonesCorruptBlob is scenario S6: a blob truncated or
// tampered with out-of-band is pruned, and the key(s) that pointed at
// it are tombstoned so a later Get reports it missing rather than
// serving the corrupted bytes.
func TestVerifyTombstonesCorruptBlob(t *testing.T) {
	s := newTestStore(t)
	entry := putString(t, s, "k", "original content")

	sum, err := integrity.Parse(entry.Integrity)
	require.NoError(t, err)
	preferred, ok := sum.Preferred()
	require.True(t, ok)
	hexDigest, err := hexOf(preferred)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(blobPath(s.root, preferred.Algorithm, hexDigest), []byte("corrupted"), 0o644))

	report, err := s.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Pruned, 1)
	require.Equal(t, []string{"k"}, report.Tombstoned)

	_, _, err = s.Get(context.Background(), "k", false)
	require.Error(t, err)
}

func keyFor(i int) string     { return "key-" + itoa(i) }
func contentFor(i int) string { return "content-" + itoa(i) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
