package place

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// defaultLookupTimeout bounds a single external lookup
const defaultLookupTimeout = 15 * time.Second

var errReset = errors.New("resolver reset")

// Resolver turns coordinates into place names. Lookups are shared per
// coordinate key: at most one external call is outstanding for a key, and a
// successful name is cached until the next Reset. Failures are not
// cached and never retried automatically.
type Resolver struct {
	lookup  Lookup
	timeout time.Duration
	metrics *Metrics
	group   singleflight.Group
	names   *cache.Cache

	mu        sync.Mutex
	gen       uint64
	inflight  map[string]struct{}
	listeners []func(loading bool)
}

// NewResolver creates a Resolver with default settings
func NewResolver(lookup Lookup) *Resolver {
	return NewResolverWithDeps(lookup, nil, defaultLookupTimeout)
}

// NewResolverWithDeps creates a Resolver with metrics and a custom lookup timeout
func NewResolverWithDeps(lookup Lookup, metrics *Metrics, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Resolver{
		lookup:   lookup,
		timeout:  timeout,
		metrics:  metrics,
		names:    cache.New(cache.NoExpiration, 0),
		inflight: make(map[string]struct{}),
	}
}

// Resolve returns the place name for a position. Concurrent calls for the same
// coordinate key attach to the one outstanding lookup. The caller's context
// only bounds its own wait; the shared lookup keeps running for other waiters.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) (string, error) {
	key := Key(lat, lon)
	if name, ok := r.cached(key); ok {
		r.metrics.observeCacheHit()
		return name, nil
	}

	// flights are scoped to a generation so that nothing started before a
	// Reset is joined or cached after it
	gen := r.generation()
	ch := r.group.DoChan(fmt.Sprintf("%d:%s", gen, key), func() (any, error) {
		return r.fetch(ctx, gen, key, lat, lon)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, gen uint64, key string, lat, lon float64) (string, error) {
	// The previous flight for this key may have finished between the cache
	// check and joining the group.
	if name, ok := r.cached(key); ok {
		r.metrics.observeCacheHit()
		return name, nil
	}

	if !r.begin(gen, key) {
		return "", fmt.Errorf("resolving %s: %w", key, errReset)
	}
	defer r.end(gen, key)

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	name, err := r.lookup.Lookup(lookupCtx, lat, lon)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.observeLookup("not_found")
		} else {
			r.metrics.observeLookup("error")
		}
		slog.Debug("Place lookup failed", "key", key, "error", err)
		return "", fmt.Errorf("resolving %s: %w", key, err)
	}

	r.metrics.observeLookup("ok")
	r.store(gen, key, name)
	return name, nil
}

// store caches a name unless the resolver was reset since the lookup began
func (r *Resolver) store(gen uint64, key, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		slog.Debug("Dropping place name from before reset", "key", key)
		return
	}
	r.names.Set(key, name, cache.NoExpiration)
}

func (r *Resolver) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Resolver) cached(key string) (string, bool) {
	if v, found := r.names.Get(key); found {
		if name, ok := v.(string); ok {
			return name, true
		}
	}
	return "", false
}

func (r *Resolver) begin(gen uint64, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		return false
	}
	wasLoading := len(r.inflight) > 0
	r.inflight[key] = struct{}{}
	r.metrics.setInflight(len(r.inflight))
	if !wasLoading {
		r.notifyLocked(true)
	}
	return true
}

func (r *Resolver) end(gen uint64, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		return
	}
	delete(r.inflight, key)
	r.metrics.setInflight(len(r.inflight))
	if len(r.inflight) == 0 {
		r.notifyLocked(false)
	}
}

func (r *Resolver) notifyLocked(loading bool) {
	for _, fn := range r.listeners {
		fn(loading)
	}
}

// Loading reports whether any lookup is outstanding
func (r *Resolver) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight) > 0
}

// OnLoadingChange registers a listener called whenever the aggregate loading
// state flips. Listeners run synchronously and must not call back into the
// Resolver.
func (r *Resolver) OnLoadingChange(fn func(loading bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reset drops every cached name and disowns outstanding lookups: they may
// still finish for their current waiters but their names are not cached, and
// later calls start fresh lookups.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	r.names.Flush()
	wasLoading := len(r.inflight) > 0
	r.inflight = make(map[string]struct{})
	r.metrics.setInflight(0)
	if wasLoading {
		r.notifyLocked(false)
	}
}
