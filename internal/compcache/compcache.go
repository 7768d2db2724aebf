// Package compcache implements the process-local composed-object cache
// (spec §4.4): a DbRef-keyed view over the object graph that resolves an
// object's location, contents and parent in one shot, admits only
// "perfectly composed" results, and evicts entries once their TTL has run
// out. The TTL counts from the moment an entry was admitted; a cache hit
// does not extend it.
//
// The cache idiom (watch for changes, hold a hot in-memory view, refresh on
// miss) follows internal/core/db.go's config-reload pattern; the concrete
// storage is hashicorp/golang-lru/v2's expirable LRU, already pulled in
// indirectly and promoted here to a direct dependency.
package compcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
)

// DefaultTTL is the eviction window applied when New is given no TTL: an
// entry is evicted this long after it was admitted.
const DefaultTTL = 10 * time.Minute

// ComposedObject bundles an object with its resolved relations. A Location
// or Parent that failed to resolve is nil, and a child that failed to
// resolve is left out of Contents; only compositions in which every
// relation resolved (the "perfect composition" admission test) are cached.
type ComposedObject struct {
	Object   model.Object
	Location model.Object
	Contents []model.Object
	Parent   model.Object
}

// RetrieveFunc loads the raw object plus its declared (unresolved)
// relation refs; compcache resolves those refs itself via resolveFn.
type RetrieveFunc func(ctx context.Context, ref dbref.DbRef) (model.Object, error)

// Cache is the process-local DbRef -> ComposedObject view described in
// spec §4.4.
type Cache struct {
	lru *lru.LRU[dbref.DbRef, ComposedObject]

	mu     sync.Mutex
	inFlight map[dbref.DbRef]*flight
}

type flight struct {
	done chan struct{}
	val  ComposedObject
	ok   bool
	err  error
}

// New builds a Cache with the given TTL (DefaultTTL if ttl <= 0). size
// bounds the number of resident entries; size <= 0 selects 10000.
func New(ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = 10000
	}
	return &Cache{
		lru:      lru.NewLRU[dbref.DbRef, ComposedObject](size, nil, ttl),
		inFlight: make(map[dbref.DbRef]*flight),
	}
}

// LookupOrRetrieve implements the contract from spec §4.4: it returns nil
// immediately for a sentinel ref, serves a cache hit, or invokes
// retrieveFn and resolveFn to compose the object's relations, caching the
// result only if every relation resolved. Concurrent calls for the same
// ref are coalesced (single-flight), matching the "at-most-one concurrent
// composition per ref" desideratum.
func (c *Cache) LookupOrRetrieve(ctx context.Context, ref dbref.DbRef, retrieve RetrieveFunc, resolve func(context.Context, dbref.DbRef) (model.Object, bool)) (*ComposedObject, error) {
	if !ref.IsReal() {
		return nil, nil
	}
	if v, ok := c.lru.Get(ref); ok {
		cp := v
		return &cp, nil
	}

	c.mu.Lock()
	f, exists := c.inFlight[ref]
	if !exists {
		f = &flight{done: make(chan struct{})}
		c.inFlight[ref] = f
	}
	c.mu.Unlock()

	if !exists {
		c.composeInto(ctx, ref, f, retrieve, resolve)
		c.mu.Lock()
		delete(c.inFlight, ref)
		c.mu.Unlock()
		close(f.done)
	} else {
		<-f.done
	}
	if f.err != nil {
		return nil, f.err
	}
	if !f.ok {
		return &f.val, nil
	}
	cp := f.val
	return &cp, nil
}

func (c *Cache) composeInto(ctx context.Context, ref dbref.DbRef, f *flight, retrieve RetrieveFunc, resolve func(context.Context, dbref.DbRef) (model.Object, bool)) {
	obj, err := retrieve(ctx, ref)
	if err != nil {
		f.err = err
		return
	}
	b := obj.Base()

	composed := ComposedObject{Object: obj}
	perfect := true

	if b.Location.IsReal() {
		loc, ok := resolve(ctx, b.Location)
		if !ok {
			perfect = false
		}
		composed.Location = loc
	}
	if b.Parent.IsReal() {
		p, ok := resolve(ctx, b.Parent)
		if !ok {
			perfect = false
		}
		composed.Parent = p
	}
	for _, childRef := range b.Contents {
		child, ok := resolve(ctx, childRef)
		if !ok {
			perfect = false
			continue
		}
		composed.Contents = append(composed.Contents, child)
	}

	f.val = composed
	f.ok = perfect
	if perfect {
		c.lru.Add(ref, composed)
	}
}

// Update evicts ref then re-composes and re-admits it, per spec §4.4's
// update path.
func (c *Cache) Update(ctx context.Context, ref dbref.DbRef, retrieve RetrieveFunc, resolve func(context.Context, dbref.DbRef) (model.Object, bool)) (*ComposedObject, error) {
	c.lru.Remove(ref)
	return c.LookupOrRetrieve(ctx, ref, retrieve, resolve)
}

// Evict removes ref from the cache without re-composing it.
func (c *Cache) Evict(ref dbref.DbRef) {
	c.lru.Remove(ref)
}

// Len reports the number of resident entries, for tests and diagnostics.
func (c *Cache) Len() int {
	return c.lru.Len()
}
