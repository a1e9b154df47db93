// Package revalidation persists HTTP ETag validators and cached bodies
// so repeated packument fetches can send If-None-Match instead of
// re-downloading unchanged responses. The local tier plays the role a
// redis-backed blob descriptor cache plays for digests, and the
// optional shared tier reuses the same go-redis/v9 client
// construction for a second, cross-host cache.
package revalidation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"

	"github.com/orepkg/ore/configuration"
	"github.com/orepkg/ore/internal/dcontext"
	"github.com/orepkg/ore/internal/oreerrors"
)

var bucketName = []byte("revalidation")

// Cache is a local bbolt-backed ETag/body cache with an optional
// shared redis tier consulted before falling back to a live fetch.
type Cache struct {
	db     *bolt.DB
	shared *redis.Client
}

// Open opens (creating if necessary) the bbolt database at cfg.Path
// and, if cfg.Shared is set, a connection to the shared redis tier.
func Open(cfg configuration.RevalidationCache) (*Cache, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, map[string]any{"path": cfg.Path})
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, oreerrors.Wrap(oreerrors.KindIO, err, nil)
	}

	c := &Cache{db: db}
	if cfg.Shared != nil {
		c.shared = redis.NewClient(&redis.Options{
			Addr:         firstOrEmpty(cfg.Shared.Addrs),
			Username:     cfg.Shared.Username,
			Password:     cfg.Shared.Password,
			DB:           cfg.Shared.DB,
			DialTimeout:  cfg.Shared.Timeout,
			ReadTimeout:  cfg.Shared.Timeout,
			WriteTimeout: cfg.Shared.Timeout,
			MaxRetries:   3,
		})
	}
	return c, nil
}

func firstOrEmpty(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// Close releases the local database handle and, if present, the
// shared redis connection.
func (c *Cache) Close() error {
	if c.shared != nil {
		c.shared.Close()
	}
	return c.db.Close()
}

type record struct {
	ETag string
	Body []byte
}

// Lookup satisfies registryclient.Revalidator. It checks the shared
// tier first (so a cold local cache on a fresh host still benefits
// from another host's warm entry), falling back to the local bbolt
// store, and populates whichever tier missed on a hit in the other.
func (c *Cache) Lookup(ctx context.Context, url string) (string, []byte, bool) {
	if c.shared != nil {
		if etag, body, ok := c.lookupShared(ctx, url); ok {
			c.storeLocal(url, etag, body)
			return etag, body, true
		}
	}
	etag, body, ok := c.lookupLocal(url)
	if ok && c.shared != nil {
		c.storeShared(ctx, url, etag, body)
	}
	return etag, body, ok
}

// Store satisfies registryclient.Revalidator, writing through to both
// configured tiers.
func (c *Cache) Store(ctx context.Context, url, etag string, body []byte) {
	c.storeLocal(url, etag, body)
	if c.shared != nil {
		c.storeShared(ctx, url, etag, body)
	}
}

func (c *Cache) lookupLocal(url string) (string, []byte, bool) {
	var rec record
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(url))
		if v == nil {
			return nil
		}
		if err := decodeRecord(v, &rec); err == nil {
			found = true
		}
		return nil
	})
	if !found {
		return "", nil, false
	}
	return rec.ETag, rec.Body, true
}

func (c *Cache) storeLocal(url, etag string, body []byte) {
	encoded := encodeRecord(record{ETag: etag, Body: body})
	_ = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(url), encoded)
	})
}

const sharedKeyPrefix = "ore:revalidation:"

func (c *Cache) lookupShared(ctx context.Context, url string) (string, []byte, bool) {
	v, err := c.shared.Get(ctx, sharedKeyPrefix+url).Bytes()
	if err != nil {
		if err != redis.Nil {
			dcontext.GetLogger(ctx).Debugf("revalidation: shared lookup failed: %v", err)
		}
		return "", nil, false
	}
	var rec record
	if err := decodeRecord(v, &rec); err != nil {
		return "", nil, false
	}
	return rec.ETag, rec.Body, true
}

func (c *Cache) storeShared(ctx context.Context, url, etag string, body []byte) {
	encoded := encodeRecord(record{ETag: etag, Body: body})
	if err := c.shared.Set(ctx, sharedKeyPrefix+url, encoded, 24*time.Hour).Err(); err != nil {
		dcontext.GetLogger(ctx).Debugf("revalidation: shared store failed: %v", err)
	}
}

func encodeRecord(r record) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// record holds only a string and a byte slice; Marshal cannot
		// fail for this shape.
		panic(err)
	}
	return b
}

func decodeRecord(data []byte, r *record) error {
	return json.Unmarshal(data, r)
}
