package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/pipwright-dev/pipwright/internal/dist"
)

// RedisSnapshot caches a finalized bucket selection keyed by
// (name, version, tag fingerprint), so a second resolver process with
// an identical environment can skip reclassification entirely. It is
// nil-safe: with no client configured, every method is a harmless no-op
// reporting "no snapshot" rather than an error, the same "no URL,
// no-op" shape the example pack's RedisQueue uses.
//
// The core's sum types (dist.CompatibleDist and friends) have no public
// constructor or wire format, so a snapshot does not attempt to
// round-trip them. It persists and recovers the caller-supplied payload
// bytes verbatim; it is up to the caller (the resolver) to decide what
// that payload holds.
type RedisSnapshot struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshot connects to url. An empty url, or a url that fails to
// parse, yields a disabled snapshot rather than an error: resolution
// degrades to "always reclassify," never to a hard failure.
func NewRedisSnapshot(url string) *RedisSnapshot {
	if url == "" {
		return &RedisSnapshot{}
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return &RedisSnapshot{}
	}

	return &RedisSnapshot{client: redis.NewClient(opt), ttl: 24 * time.Hour}
}

func (r *RedisSnapshot) ensure() error {
	if r == nil || r.client == nil {
		return errors.New("redis snapshot not configured")
	}

	return nil
}

func snapshotKey(key BucketKey, tagFingerprint string) string {
	return fmt.Sprintf("pipwright:select:%s:%s:%s", key.Name, key.Version, tagFingerprint)
}

// Store persists data under (key, tagFingerprint). A disabled snapshot
// silently does nothing.
func (r *RedisSnapshot) Store(ctx context.Context, key BucketKey, tagFingerprint string, data []byte) error {
	if err := r.ensure(); err != nil {
		// Disabled snapshot: proceed as if uncached rather than failing resolution.
		return nil
	}

	return r.client.Set(ctx, snapshotKey(key, tagFingerprint), data, r.ttl).Err()
}

// Load retrieves the payload previously stored under (key, tagFingerprint).
// ok is false both when the snapshot is disabled and when there is no
// entry, so callers always have a single "reclassify" fallback path.
func (r *RedisSnapshot) Load(ctx context.Context, key BucketKey, tagFingerprint string) ([]byte, bool) {
	if err := r.ensure(); err != nil {
		return nil, false
	}

	data, err := r.client.Get(ctx, snapshotKey(key, tagFingerprint)).Bytes()
	if err != nil {
		return nil, false
	}

	return data, true
}

// TagFingerprint summarizes an environment's accepted tags into a short
// cache-key component, stable across runs with the same interpreter and
// platform.
func TagFingerprint(tags []dist.RankedTag) string {
	var b strings.Builder

	for i, t := range tags {
		if i > 0 {
			b.WriteByte(',')
		}

		fmt.Fprintf(&b, "%s-%s-%s", t.Tag.Python, t.Tag.ABI, t.Tag.Platform)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(b.String()))

	return fmt.Sprintf("%x", h.Sum32())
}
