// Package store implements the content-addressable disk cache: the
// immutable blob store plus per-key append-only indices it is fronted
// by. Layout and write/read paths are grounded directly on the
// registry's blobwriter.go (atomic rename-to-commit, digester-while-
// writing) and paths.go (split-directory content addressing), adapted
// from a repository-scoped OCI blob store into a single flat,
// process-external cache.
package store

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orepkg/ore/integrity"
	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
	"github.com/orepkg/ore/internal/oreevents"
	"github.com/orepkg/ore/internal/oremetrics"
)

const (
	contentDir = "content-v2"
	indexDir   = "index-v5"
	tmpDir     = "tmp"

	// inlineThreshold is the largest write buffered entirely in memory
	// before spilling to a temp file.
	inlineThreshold = 128 * 1024

	// defaultAlgorithms are hashed on every write so that a blob written
	// once can be looked up by any of these digests later.
)

var defaultAlgorithms = []integrity.Algorithm{integrity.SHA512, integrity.SHA256}

var (
	writesTotal  = oremetrics.StoreNamespace.NewCounter("writes_total", "The number of blobs committed to the store")
	readsTotal   = oremetrics.StoreNamespace.NewCounter("reads_total", "The number of blobs opened for reading")
	bytesWritten = oremetrics.StoreNamespace.NewCounter("bytes_written_total", "The number of bytes committed to the store")
)

// Store is a content-addressable cache rooted at a directory, safe for
// concurrent use within and across processes.
type Store struct {
	root   string
	events *oreevents.Sink // nil means "don't publish"
}

// Root returns the directory Store was opened against, for callers
// (the layout applier's extraction cache) that need a stable place to
// keep derived artifacts alongside the content/index trees.
func (s *Store) Root() string { return s.root }

// Option configures a Store at construction.
type Option func(*Store)

// WithEventSink attaches an event sink every write/read publishes onto.
func WithEventSink(sink *oreevents.Sink) Option {
	return func(s *Store) { s.events = sink }
}

// Open returns a Store rooted at dir, creating the layout directories
// if they do not already exist.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{root: dir}
	for _, o := range opts {
		o(s)
	}
	for _, d := range []string{contentDir, indexDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": dir})
		}
	}
	return s, nil
}

func (s *Store) publish(kind oreevents.Kind, fields map[string]any) {
	if s.events != nil {
		s.events.Publish(kind, fields)
	}
}

// CacheEntry is the on-disk representation of one (key, integrity,
// metadata?) tuple.
type CacheEntry struct {
	Key       string         `json:"key"`
	Integrity string         `json:"integrity,omitempty"`
	Size      int64          `json:"size,omitempty"`
	TimeMS    int64          `json:"time"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tombstone bool           `json:"tombstone,omitempty"`
}

func keyIndexPath(root, key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(root, indexDir, h[0:2], h[2:4], h)
}

func blobPath(root string, alg integrity.Algorithm, hexDigest string) string {
	return filepath.Join(root, contentDir, string(alg), hexDigest[0:2], hexDigest[2:4], hexDigest[4:])
}

func hexOf(e integrity.Entry) (string, error) {
	raw, err := decodeBase64(e.Digest)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Put begins a new write for key. Call Write on the returned Writer
// and then Commit to finalize; metadata (optional) is persisted
// alongside the index entry.
func (s *Store) Put(ctx context.Context, key string, metadata map[string]any) (*Writer, error) {
	tmpPath := filepath.Join(s.root, tmpDir, uuid.NewString())
	return &Writer{
		store:    s,
		ctx:      ctx,
		key:      key,
		metadata: metadata,
		tmpPath:  tmpPath,
		mw:       integrity.NewMultiWriter(defaultAlgorithms...),
	}, nil
}

// Writer accumulates bytes for one store write; bytes below
// inlineThreshold stay buffered in memory, larger writes spill to a
// temp file.
type Writer struct {
	store    *Store
	ctx      context.Context
	key      string
	metadata map[string]any

	tmpPath string
	tmpFile *os.File
	buf     []byte
	size    int64
	mw      *integrity.MultiWriter

	committed bool
}

func (w *Writer) Write(p []byte) (int, error) {
	_, _ = w.mw.Write(p)
	w.size += int64(len(p))

	if w.tmpFile == nil && w.size <= inlineThreshold {
		w.buf = append(w.buf, p...)
		return len(p), nil
	}

	if w.tmpFile == nil {
		f, err := os.OpenFile(w.tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return 0, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": w.tmpPath})
		}
		if len(w.buf) > 0 {
			if _, err := f.Write(w.buf); err != nil {
				f.Close()
				return 0, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": w.tmpPath})
			}
			w.buf = nil
		}
		w.tmpFile = f
	}

	n, err := w.tmpFile.Write(p)
	if err != nil {
		return n, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": w.tmpPath})
	}
	return n, nil
}

// Commit finalizes the write: the preferred digest becomes the
// content address, the temp data is moved into place with rename (or
// dropped if an identical blob already exists), and a JSON-lines
// index entry is appended.
func (w *Writer) Commit(ctx context.Context) (*CacheEntry, error) {
	if w.committed {
		return nil, oreerrors.New(oreerrors.KindIO, map[string]any{"reason": "writer already committed"})
	}
	w.committed = true

	sum := w.mw.Sum()
	preferred, ok := sum.Preferred()
	if !ok {
		return nil, oreerrors.New(oreerrors.KindIO, map[string]any{"reason": "no digest computed"})
	}
	hexDigest, err := hexOf(preferred)
	if err != nil {
		return nil, err
	}

	target := blobPath(w.store.root, preferred.Algorithm, hexDigest)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": target})
	}

	if err := w.commitBlob(target); err != nil {
		return nil, err
	}

	entry := &CacheEntry{
		Key:       w.key,
		Integrity: sum.String(),
		Size:      w.size,
		TimeMS:    time.Now().UnixMilli(),
		Metadata:  w.metadata,
	}
	if err := appendIndexEntry(w.store.root, w.key, entry); err != nil {
		return nil, err
	}

	writesTotal.Inc()
	bytesWritten.Add(float64(w.size))
	w.store.publish(oreevents.KindStoreWrite, map[string]any{"key": w.key, "integrity": entry.Integrity, "size": entry.Size})

	logger := dcontext.GetLogger(ctx)
	logger.Debugf("store: committed key=%s integrity=%s size=%d", w.key, entry.Integrity, entry.Size)

	return entry, nil
}

func (w *Writer) commitBlob(target string) error {
	if _, err := os.Stat(target); err == nil {
		// Identical content already present; drop the temp data.
		if w.tmpFile != nil {
			w.tmpFile.Close()
			os.Remove(w.tmpPath)
		}
		return nil
	}

	if w.tmpFile != nil {
		if err := w.tmpFile.Close(); err != nil {
			return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": w.tmpPath})
		}
		if err := os.Rename(w.tmpPath, target); err != nil {
			if os.IsExist(err) {
				os.Remove(w.tmpPath)
				return nil
			}
			return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": w.tmpPath, "target": target})
		}
		return nil
	}

	// Never spilled to disk: write the buffered bytes directly, via a
	// temp file in the same directory so the final rename stays atomic
	// within one filesystem.
	f, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": target})
	}
	if _, err := f.Write(w.buf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": target})
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": target})
	}
	if err := os.Rename(f.Name(), target); err != nil {
		os.Remove(f.Name())
		if os.IsExist(err) {
			return nil
		}
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": target})
	}
	return nil
}

// Abandon discards a Writer's in-flight temp file without committing,
// used when the calling context is cancelled. Temp files left behind
// by a crash stay under tmp/; the store does not remove them.
func (w *Writer) Abandon() {
	if w.tmpFile != nil {
		w.tmpFile.Close()
		os.Remove(w.tmpPath)
	}
}

func appendIndexEntry(root, key string, e *CacheEntry) error {
	path := keyIndexPath(root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	line, err := json.Marshal(e)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	return nil
}

// latestEntry scans every line of the index file at path and returns
// the last syntactically valid entry, skipping corrupt/partial lines.
func latestEntry(path string) (*CacheEntry, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": path})
	}
	defer f.Close()

	var latest *CacheEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e CacheEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		latest = &e
	}
	return latest, latest != nil, nil
}

// Get resolves key to its current CacheEntry and a reader over the
// addressed blob. verify, if true, wraps the reader in a
// VerifyingReadCloser; after reading to io.EOF the caller calls Verify
// to confirm the digest matches.
func (s *Store) Get(ctx context.Context, key string, verify bool) (*CacheEntry, io.ReadCloser, error) {
	path := keyIndexPath(s.root, key)
	entry, ok, err := latestEntry(path)
	if err != nil {
		return nil, nil, err
	}
	if !ok || entry.Tombstone {
		return nil, nil, oreerrors.New(oreerrors.KindNotFound, map[string]any{"key": key})
	}

	sum, err := integrity.Parse(entry.Integrity)
	if err != nil {
		return nil, nil, oreerrors.Wrap(oreerrors.KindLockfileCorrupt, err, map[string]any{"key": key})
	}
	rc, err := s.openBlob(sum)
	if err != nil {
		return nil, nil, err
	}

	readsTotal.Inc()
	s.publish(oreevents.KindStoreRead, map[string]any{"key": key})

	if !verify {
		return entry, rc, nil
	}
	return entry, &verifyingReadCloser{VerifyingReader: *integrity.NewVerifyingReader(rc, sum), closer: rc}, nil
}

// GetByHash opens the blob addressed directly by want, without going
// through a key index, used when the caller already has a known-good
// integrity (e.g. from a lockfile).
func (s *Store) GetByHash(ctx context.Context, want integrity.Integrity) (io.ReadCloser, error) {
	return s.openBlob(want)
}

func (s *Store) openBlob(sum integrity.Integrity) (io.ReadCloser, error) {
	var lastErr error
	for _, e := range sum.Entries {
		hexDigest, err := hexOf(e)
		if err != nil {
			lastErr = err
			continue
		}
		path := blobPath(s.root, e.Algorithm, hexDigest)
		f, err := os.Open(path)
		if err != nil {
			lastErr = err
			continue
		}
		return f, nil
	}
	return nil, oreerrors.Wrap(oreerrors.KindContentMissing, lastErr, map[string]any{"integrity": sum.String()})
}

// VerifyingReadCloser is the interface the reader returned by
// Get(ctx, key, true) satisfies. Callers that drain the stream to EOF
// can then call Verify to confirm the bytes they read matched the
// digest recorded for key; calling it before EOF reports a false
// mismatch.
type VerifyingReadCloser interface {
	io.ReadCloser
	Verify() error
}

type verifyingReadCloser struct {
	integrity.VerifyingReader
	closer io.Closer
}

func (v *verifyingReadCloser) Close() error { return v.closer.Close() }

// Ls folds every index file under the store and returns the current
// (non-tombstoned) entry for each key.
func (s *Store) Ls(ctx context.Context) ([]CacheEntry, error) {
	root := filepath.Join(s.root, indexDir)
	var out []CacheEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		entry, ok, err := latestEntry(path)
		if err != nil {
			return err
		}
		if ok && !entry.Tombstone {
			out = append(out, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": root})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Rm appends a tombstone entry for key, hiding it from Get/Ls without
// touching the underlying blob, which may still be referenced by
// other keys.
func (s *Store) Rm(ctx context.Context, key string) error {
	return appendIndexEntry(s.root, key, &CacheEntry{Key: key, TimeMS: time.Now().UnixMilli(), Tombstone: true})
}

// VerifyReport summarizes a Verify pass.
type VerifyReport struct {
	Checked    int
	Pruned     []string // blob paths removed for digest mismatch
	Tombstoned []string // index keys tombstoned because they pointed at a pruned blob
}

// Verify walks every blob under content-v2, recomputes its digest and
// compares it against the path-encoded digest. Any blob whose content
// no longer matches is deleted, and every index key whose latest entry
// pointed at that blob is tombstoned, so a subsequent Get reports it
// not found rather than serving truncated or tampered content.
func (s *Store) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{}
	root := filepath.Join(s.root, contentDir)
	corrupt := map[string]bool{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		alg, wantHex, ok := parseBlobPath(root, path)
		if !ok {
			return nil
		}
		report.Checked++
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		mw := integrity.NewMultiWriter(alg)
		if _, err := io.Copy(mw, f); err != nil {
			return err
		}
		got, _ := mw.Sum().Preferred()
		gotHex, err := hexOf(got)
		if err != nil || gotHex != wantHex {
			os.Remove(path)
			report.Pruned = append(report.Pruned, path)
			corrupt[digestIdent(alg, wantHex)] = true
		}
		return nil
	})
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": root})
	}

	if len(corrupt) > 0 {
		tombstoned, err := s.tombstoneByDigest(corrupt)
		if err != nil {
			return nil, err
		}
		report.Tombstoned = tombstoned
	}
	return report, nil
}

func digestIdent(alg integrity.Algorithm, hexDigest string) string {
	return string(alg) + ":" + hexDigest
}

// tombstoneByDigest scans every index key's latest entry and tombstones
// any whose integrity resolves to one of the digests in corrupt.
func (s *Store) tombstoneByDigest(corrupt map[string]bool) ([]string, error) {
	root := filepath.Join(s.root, indexDir)
	var tombstoned []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		entry, ok, err := latestEntry(path)
		if err != nil || !ok || entry.Tombstone {
			return err
		}
		sum, err := integrity.Parse(entry.Integrity)
		if err != nil {
			return nil
		}
		for _, e := range sum.Entries {
			hexDigest, err := hexOf(e)
			if err != nil {
				continue
			}
			if !corrupt[digestIdent(e.Algorithm, hexDigest)] {
				continue
			}
			if err := appendIndexEntry(s.root, entry.Key, &CacheEntry{
				Key: entry.Key, TimeMS: time.Now().UnixMilli(), Tombstone: true,
			}); err != nil {
				return err
			}
			tombstoned = append(tombstoned, entry.Key)
			break
		}
		return nil
	})
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": root})
	}
	return tombstoned, nil
}

func parseBlobPath(contentRoot, path string) (integrity.Algorithm, string, bool) {
	rel, err := filepath.Rel(contentRoot, path)
	if err != nil {
		return "", "", false
	}
	parts := filepathSplit(rel)
	if len(parts) != 4 {
		return "", "", false
	}
	alg := integrity.Algorithm(parts[0])
	hexDigest := parts[1] + parts[2] + parts[3]
	return alg, hexDigest, true
}

func filepathSplit(rel string) []string {
	var parts []string
	for {
		dir, file := filepath.Split(rel)
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		if dir == "" {
			break
		}
		rel = filepath.Clean(dir)
		if rel == "." || rel == string(filepath.Separator) {
			break
		}
	}
	return parts
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindSpecParse, err, map[string]any{"digest": s})
	}
	return b, nil
}
