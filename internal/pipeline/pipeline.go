// Package pipeline accumulates concurrently-arriving index responses
// into per-(package, version) buckets and projects them to a selection,
// without ever letting two goroutines race on the same bucket.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"

	"github.com/pipwright-dev/pipwright/internal/dist"
)

// BucketKey identifies one (package, version) accumulation target.
type BucketKey struct {
	Name    string
	Version string
}

func (k BucketKey) stripe(n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.Name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.Version))

	return int(h.Sum32()) % n
}

// Accumulator holds one dist.Bucket per BucketKey, guarded by a striped
// set of mutexes so concurrent inserts for different keys never
// contend while inserts for the same key still serialize. This is the
// "serial per-package actor" concurrency model expressed as locking
// rather than a literal goroutine-per-key actor: dist.Bucket insertion
// is monotone and commutative regardless of arrival order, so a mutex
// around the same bucket is behaviorally equivalent to routing all of
// that key's inserts through a single actor goroutine.
type Accumulator struct {
	stripes []sync.Mutex
	mu      sync.RWMutex // guards buckets map structure (not its values)
	buckets map[BucketKey]*dist.Bucket
}

// NewAccumulator creates an Accumulator with GOMAXPROCS(0)*4 stripes.
func NewAccumulator() *Accumulator {
	n := runtime.GOMAXPROCS(0) * 4
	if n < 1 {
		n = 1
	}

	return &Accumulator{
		stripes: make([]sync.Mutex, n),
		buckets: make(map[BucketKey]*dist.Bucket),
	}
}

func (a *Accumulator) bucketFor(key BucketKey) *dist.Bucket {
	a.mu.RLock()
	b, ok := a.buckets[key]
	a.mu.RUnlock()

	if ok {
		return b
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.buckets[key]; ok {
		return b
	}

	b = &dist.Bucket{}
	a.buckets[key] = b

	return b
}

// Insert classifies one candidate artifact and merges the verdict into
// key's bucket. classify is called with the stripe lock for key held,
// so it must not block on anything that could itself wait on this
// Accumulator (no reentrant Insert/Get for the same process).
func (a *Accumulator) Insert(
	ctx context.Context,
	key BucketKey,
	art dist.Artifact,
	hash *dist.Hashes,
	classify func() (dist.WheelCompatibility, dist.SourceCompatibility),
) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("accumulator insert for %s %s: %w", key.Name, key.Version, err)
	}

	b := a.bucketFor(key)

	stripe := &a.stripes[key.stripe(len(a.stripes))]
	stripe.Lock()
	defer stripe.Unlock()

	wheelVerdict, sourceVerdict := classify()

	if art.Kind() == dist.KindWheel {
		b.InsertBuilt(art, hash, wheelVerdict)
	} else {
		b.InsertSource(art, hash, sourceVerdict)
	}

	return nil
}

// Get projects key's bucket through dist.Get. The projection runs with
// key's stripe lock held, since a Bucket value shares its state with the
// stored bucket and would otherwise be read while an Insert mutates it.
func (a *Accumulator) Get(key BucketKey) (dist.CompatibleDist, bool) {
	a.mu.RLock()
	b, ok := a.buckets[key]
	a.mu.RUnlock()

	if !ok {
		return dist.CompatibleDist{}, false
	}

	stripe := &a.stripes[key.stripe(len(a.stripes))]
	stripe.Lock()
	defer stripe.Unlock()

	return dist.Get(*b)
}

// Explain projects key's bucket through dist.Explain for error reporting
// when Get returns false. Reports dist.Unavailable() if key was never seen.
func (a *Accumulator) Explain(key BucketKey) dist.IncompatibleDist {
	a.mu.RLock()
	b, ok := a.buckets[key]
	a.mu.RUnlock()

	if !ok {
		return dist.Unavailable()
	}

	stripe := &a.stripes[key.stripe(len(a.stripes))]
	stripe.Lock()
	defer stripe.Unlock()

	return dist.Explain(*b)
}
