// Package integrity parses and emits subresource-integrity (SSRI)
// strings and stream-verifies content against them, grounded on the
// registry's use of github.com/opencontainers/go-digest for content
// addressing, generalized here to the multi-algorithm, multi-entry SSRI
// wire format instead of a single digest.Digest.
package integrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/orepkg/ore/internal/oreerrors"
)

// Algorithm names a supported digest algorithm, ranked for preference
// (higher is preferred) by Rank.
type Algorithm string

const (
	SHA512 Algorithm = "sha512"
	SHA384 Algorithm = "sha384"
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
)

// Rank orders algorithms by preference: sha512 > sha384 > sha256 > sha1.
// Unknown algorithms rank below all known ones.
func Rank(a Algorithm) int {
	switch a {
	case SHA512:
		return 4
	case SHA384:
		return 3
	case SHA256:
		return 2
	case SHA1:
		return 1
	default:
		return 0
	}
}

func newHash(a Algorithm) (hash.Hash, bool) {
	switch a {
	case SHA512:
		return sha512.New(), true
	case SHA384:
		return sha512.New384(), true
	case SHA256:
		return sha256.New(), true
	case SHA1:
		return sha1.New(), true
	default:
		return nil, false
	}
}

// Entry is one (algorithm, base64-digest) pair within an Integrity
// value.
type Entry struct {
	Algorithm Algorithm
	Digest    string // base64-encoded
}

// Integrity is an ordered set of Entry, serializing as space-separated
// "alg-base64" tokens.
type Integrity struct {
	Entries []Entry
}

// Parse parses a space-separated sequence of "alg-base64digest" tokens.
func Parse(s string) (Integrity, error) {
	var out Integrity
	for _, tok := range strings.Fields(s) {
		dash := strings.IndexByte(tok, '-')
		if dash < 0 {
			return Integrity{}, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"token": tok, "reason": "malformed integrity token"})
		}
		alg := Algorithm(tok[:dash])
		digest := tok[dash+1:]
		if _, ok := newHash(alg); !ok {
			return Integrity{}, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"token": tok, "reason": "unsupported algorithm"})
		}
		if _, err := base64.StdEncoding.DecodeString(digest); err != nil {
			return Integrity{}, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"token": tok, "reason": "invalid base64 digest"})
		}
		out.Entries = append(out.Entries, Entry{Algorithm: alg, Digest: digest})
	}
	if len(out.Entries) == 0 {
		return Integrity{}, oreerrors.New(oreerrors.KindSpecParse, map[string]any{"input": s, "reason": "empty integrity string"})
	}
	return out, nil
}

// String renders Integrity back to its canonical "alg-b64 alg-b64…"
// form, entries sorted by descending preference then algorithm name so
// output is deterministic regardless of construction order.
func (i Integrity) String() string {
	sorted := append([]Entry(nil), i.Entries...)
	sort.SliceStable(sorted, func(a, b int) bool {
		if Rank(sorted[a].Algorithm) != Rank(sorted[b].Algorithm) {
			return Rank(sorted[a].Algorithm) > Rank(sorted[b].Algorithm)
		}
		return sorted[a].Algorithm < sorted[b].Algorithm
	})
	toks := make([]string, len(sorted))
	for idx, e := range sorted {
		toks[idx] = fmt.Sprintf("%s-%s", e.Algorithm, e.Digest)
	}
	return strings.Join(toks, " ")
}

// Preferred returns the highest-ranked entry, used as the content
// address when writing to the store.
func (i Integrity) Preferred() (Entry, bool) {
	if len(i.Entries) == 0 {
		return Entry{}, false
	}
	best := i.Entries[0]
	for _, e := range i.Entries[1:] {
		if Rank(e.Algorithm) > Rank(best.Algorithm) {
			best = e
		}
	}
	return best, true
}

// Matches reports whether i and other share at least one common
// (algorithm, digest) entry.
func (i Integrity) Matches(other Integrity) bool {
	for _, a := range i.Entries {
		for _, b := range other.Entries {
			if a.Algorithm == b.Algorithm && a.Digest == b.Digest {
				return true
			}
		}
	}
	return false
}

func (i Integrity) IsZero() bool { return len(i.Entries) == 0 }

// For computes an Integrity over the given algorithms for b in one
// pass.
func For(b []byte, algs ...Algorithm) Integrity {
	w := NewMultiWriter(algs...)
	_, _ = w.Write(b)
	return w.Sum()
}

// MultiWriter computes several digests of a stream in a single pass,
// grounded on the same multi-hash-while-writing approach the store's
// write path uses to avoid re-reading written bytes.
type MultiWriter struct {
	algs   []Algorithm
	hashes map[Algorithm]hash.Hash
}

// NewMultiWriter constructs a MultiWriter tracking the given
// algorithms. Unsupported algorithms are silently ignored.
func NewMultiWriter(algs ...Algorithm) *MultiWriter {
	m := &MultiWriter{hashes: make(map[Algorithm]hash.Hash, len(algs))}
	for _, a := range algs {
		h, ok := newHash(a)
		if !ok {
			continue
		}
		m.algs = append(m.algs, a)
		m.hashes[a] = h
	}
	return m
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	for _, h := range m.hashes {
		// hash.Hash.Write never returns an error.
		_, _ = h.Write(p)
	}
	return len(p), nil
}

// Sum returns the Integrity computed so far.
func (m *MultiWriter) Sum() Integrity {
	out := Integrity{}
	for _, a := range m.algs {
		sum := m.hashes[a].Sum(nil)
		out.Entries = append(out.Entries, Entry{Algorithm: a, Digest: base64.StdEncoding.EncodeToString(sum)})
	}
	return out
}

// VerifyingReader wraps an io.Reader, computing the digests named in
// expected as bytes are read, and returning IntegrityMismatch from
// Verify if, once the stream is fully consumed, no computed entry
// matches expected.
type VerifyingReader struct {
	r        io.Reader
	w        *MultiWriter
	expected Integrity
}

// NewVerifyingReader wraps r, computing every algorithm present in
// expected.
func NewVerifyingReader(r io.Reader, expected Integrity) *VerifyingReader {
	algs := make([]Algorithm, 0, len(expected.Entries))
	for _, e := range expected.Entries {
		algs = append(algs, e.Algorithm)
	}
	return &VerifyingReader{r: r, w: NewMultiWriter(algs...), expected: expected}
}

func (v *VerifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		_, _ = v.w.Write(p[:n])
	}
	return n, err
}

// Verify must be called after the stream has been fully read (EOF
// observed); it reports whether the computed digests match expected.
func (v *VerifyingReader) Verify() error {
	actual := v.w.Sum()
	if !actual.Matches(v.expected) {
		return oreerrors.New(oreerrors.KindIntegrityMismatch, map[string]any{
			"expected": v.expected.String(),
			"actual":   actual.String(),
		})
	}
	return nil
}
