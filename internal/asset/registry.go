package asset

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/zombor/shiori/internal/media"
	"github.com/zombor/shiori/internal/metadata"
	"github.com/zombor/shiori/internal/place"
)

// defaultExtractionWorkers bounds concurrent metadata extraction
const defaultExtractionWorkers = 4

// Extractor reads embedded metadata from a blob
type Extractor interface {
	Extract(b media.Blob) (metadata.Result, error)
}

// Resolver turns coordinates into a place name
type Resolver interface {
	Resolve(ctx context.Context, lat, lon float64) (string, error)
}

// PlaceSource identifies who is writing a place name
type PlaceSource int

const (
	// SourceUser writes always overwrite
	SourceUser PlaceSource = iota
	// SourceResolver writes never replace a non-empty name
	SourceResolver
)

// EventKind names an observable registry event
type EventKind string

const (
	EventDuplicatesSkipped EventKind = "duplicates_skipped"
	EventExtracted         EventKind = "extracted"
	EventExtractionFailed  EventKind = "extraction_failed"
	EventPlaceResolved     EventKind = "place_resolved"
)

// Event is delivered to the registry listener after the state change it
// describes has been applied
type Event struct {
	Kind        EventKind
	IdentityKey string
	Count       int
	Err         error
}

// extraction is one outstanding extraction job. A finished job only applies
// its result if it is still the registered job for its asset.
type extraction struct {
	cancel context.CancelFunc
}

// Registry holds the ordered collection of uploaded assets and is the only
// component that mutates them. Extraction and place resolution run in the
// background and are merged back by identity key.
type Registry struct {
	extractor Extractor
	resolver  Resolver
	sem       *semaphore.Weighted
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.Mutex
	gen       uint64
	assets    []*Asset
	index     map[string]*Asset
	jobs      map[string]*extraction
	requested map[string]bool
	resolving map[string]struct{}
	places    map[string]string
	listener  func(Event)
}

// NewRegistry creates a Registry with the default extraction concurrency
func NewRegistry(extractor Extractor, resolver Resolver) *Registry {
	return NewRegistryWithDeps(extractor, resolver, defaultExtractionWorkers)
}

// NewRegistryWithDeps creates a Registry extracting at most workers assets at once
func NewRegistryWithDeps(extractor Extractor, resolver Resolver, workers int) *Registry {
	if workers <= 0 {
		workers = defaultExtractionWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		extractor: extractor,
		resolver:  resolver,
		sem:       semaphore.NewWeighted(int64(workers)),
		ctx:       ctx,
		cancel:    cancel,
		index:     make(map[string]*Asset),
		jobs:      make(map[string]*extraction),
		requested: make(map[string]bool),
		resolving: make(map[string]struct{}),
		places:    make(map[string]string),
	}
}

// OnEvent sets the listener for registry events. It is called outside the
// registry lock.
func (r *Registry) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// Add ingests blobs in arrival order. Non-images are ignored and blobs whose
// identity key is already present are skipped. It returns the full collection
// and the number of skipped duplicates.
func (r *Registry) Add(blobs []media.Blob) ([]Asset, int) {
	r.mu.Lock()
	skipped := 0
	for _, b := range blobs {
		if b == nil || !media.IsImage(b.ContentType()) {
			continue
		}
		key := IdentityKey(b)
		if _, exists := r.index[key]; exists {
			skipped++
			continue
		}
		a := &Asset{IdentityKey: key, Blob: b, Status: StatusPending}
		r.index[key] = a
		r.assets = append(r.assets, a)
	}
	r.schedulePendingLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if skipped > 0 {
		slog.Info("Skipped duplicate assets", "count", skipped)
		r.emit(Event{Kind: EventDuplicatesSkipped, Count: skipped})
	}
	return snapshot, skipped
}

// schedulePendingLocked starts extraction for every pending asset that has no
// outstanding job, so each asset is extracted exactly once
func (r *Registry) schedulePendingLocked() {
	for _, a := range r.assets {
		if a.Status != StatusPending {
			continue
		}
		if _, running := r.jobs[a.IdentityKey]; running {
			continue
		}

		ctx, cancel := context.WithCancel(r.ctx)
		job := &extraction{cancel: cancel}
		r.jobs[a.IdentityKey] = job
		r.wg.Add(1)
		go r.extract(ctx, a, job)
	}
}

func (r *Registry) extract(ctx context.Context, a *Asset, job *extraction) {
	defer r.wg.Done()
	defer job.cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		// removed or closed before a worker slot freed up
		return
	}
	result, err := r.extractor.Extract(a.Blob)
	r.sem.Release(1)

	r.mu.Lock()
	if r.jobs[a.IdentityKey] != job {
		r.mu.Unlock()
		return
	}
	delete(r.jobs, a.IdentityKey)

	if err != nil {
		a.Status = StatusError
		r.mu.Unlock()
		slog.Warn("EXIF extraction failed", "file", a.Blob.Name(), "error", err)
		r.emit(Event{Kind: EventExtractionFailed, IdentityKey: a.IdentityKey, Err: err})
		return
	}

	events := r.mergeLocked(a, result)
	r.mu.Unlock()
	r.emit(events...)
}

// OnExtractionComplete merges an extraction result into the asset with the
// given key, superseding any outstanding job for it. It reports whether the
// asset exists.
func (r *Registry) OnExtractionComplete(identityKey string, result metadata.Result) bool {
	r.mu.Lock()
	a, ok := r.index[identityKey]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if job, running := r.jobs[identityKey]; running {
		job.cancel()
		delete(r.jobs, identityKey)
	}
	events := r.mergeLocked(a, result)
	r.mu.Unlock()

	r.emit(events...)
	return true
}

func (r *Registry) mergeLocked(a *Asset, result metadata.Result) []Event {
	a.Status = StatusOK
	if result.CaptureTime != nil {
		t := *result.CaptureTime
		a.CaptureTime = &t
	}

	events := []Event{{Kind: EventExtracted, IdentityKey: a.IdentityKey}}
	if result.Coordinates == nil {
		return events
	}
	if a.Coordinates != nil && *a.Coordinates == *result.Coordinates {
		return events
	}

	coords := *result.Coordinates
	a.Coordinates = &coords
	return append(events, r.requestPlaceLocked(a)...)
}

// requestPlaceLocked applies a known name for the asset's coordinate key or
// requests one if nobody has yet
func (r *Registry) requestPlaceLocked(a *Asset) []Event {
	key := place.Key(a.Coordinates.Latitude, a.Coordinates.Longitude)
	if name, ok := r.places[key]; ok {
		if r.applyPlaceLocked(a, name, SourceResolver) {
			return []Event{{Kind: EventPlaceResolved, IdentityKey: a.IdentityKey}}
		}
		return nil
	}
	if r.resolver == nil || r.requested[key] {
		return nil
	}

	r.requested[key] = true
	r.resolving[key] = struct{}{}
	r.wg.Add(1)
	go r.resolve(r.gen, key, a.Coordinates.Latitude, a.Coordinates.Longitude)
	return nil
}

// resolve looks up one coordinate key. Results from before the last Clear are
// dropped.
func (r *Registry) resolve(gen uint64, key string, lat, lon float64) {
	defer r.wg.Done()

	name, err := r.resolver.Resolve(r.ctx, lat, lon)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	delete(r.resolving, key)
	if err != nil {
		r.mu.Unlock()
		slog.Debug("Place name left unresolved", "key", key, "error", err)
		return
	}

	r.places[key] = name
	var events []Event
	for _, a := range r.assets {
		if a.Coordinates == nil || place.Key(a.Coordinates.Latitude, a.Coordinates.Longitude) != key {
			continue
		}
		if r.applyPlaceLocked(a, name, SourceResolver) {
			events = append(events, Event{Kind: EventPlaceResolved, IdentityKey: a.IdentityKey})
		}
	}
	r.mu.Unlock()
	r.emit(events...)
}

// SetPlaceName writes the place name of an asset. Resolver writes never
// replace a name that is already set. It reports whether the name was written.
func (r *Registry) SetPlaceName(identityKey, name string, source PlaceSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.index[identityKey]
	if !ok {
		return false
	}
	return r.applyPlaceLocked(a, name, source)
}

func (r *Registry) applyPlaceLocked(a *Asset, name string, source PlaceSource) bool {
	if source == SourceResolver && strings.TrimSpace(a.PlaceName) != "" {
		return false
	}
	a.PlaceName = name
	return true
}

// Remove drops an asset and abandons its outstanding extraction
func (r *Registry) Remove(identityKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[identityKey]; !ok {
		return false
	}
	delete(r.index, identityKey)
	if job, running := r.jobs[identityKey]; running {
		job.cancel()
		delete(r.jobs, identityKey)
	}
	for i, a := range r.assets {
		if a.IdentityKey == identityKey {
			r.assets = append(r.assets[:i:i], r.assets[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every asset and forgets resolved place names
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, job := range r.jobs {
		job.cancel()
		delete(r.jobs, key)
	}
	r.gen++
	r.assets = nil
	r.index = make(map[string]*Asset)
	r.requested = make(map[string]bool)
	r.resolving = make(map[string]struct{})
	r.places = make(map[string]string)
}

// Assets returns a copy of the ordered collection
func (r *Registry) Assets() []Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Get returns a copy of one asset
func (r *Registry) Get(identityKey string) (Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.index[identityKey]
	if !ok {
		return Asset{}, false
	}
	return a.clone(), true
}

// Pending reports whether any asset is still waiting for extraction
func (r *Registry) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs) > 0
}

// Resolving reports whether a place lookup requested by the registry has not
// finished yet. It turns true as soon as a lookup is requested.
func (r *Registry) Resolving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolving) > 0
}

// Wait blocks until all background extraction and resolution has finished
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Close abandons all background work and waits for it to stop
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) snapshotLocked() []Asset {
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a.clone())
	}
	return out
}

func (r *Registry) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	r.mu.Lock()
	fn := r.listener
	r.mu.Unlock()
	if fn == nil {
		return
	}
	for _, e := range events {
		fn(e)
	}
}
