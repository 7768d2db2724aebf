// Package world implements the object operations of spec §4.3
// (get/save/move/reparent; sanitize is model.Sanitize) over the persistence port and
// composed-object cache, and wires them into the session.World and
// script.DatabaseLibrary seams so internal/session and internal/script
// never talk to internal/store or internal/compcache directly.
//
// Per-type dispatch (which set a ref belongs to, which struct to decode
// into) follows spec §4.2's "probe membership in parallel, first match
// wins" directly rather than a virtual-method hierarchy (spec §9's
// "Deep virtual-method chains" redesign flag), grounded on
// core/modules.go's tagged-struct style (its Module/Hook types).
package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mudpienet/mudpie/internal/auth"
	"github.com/mudpienet/mudpie/internal/compcache"
	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/match"
	"github.com/mudpienet/mudpie/internal/model"
	"github.com/mudpienet/mudpie/internal/script"
	"github.com/mudpienet/mudpie/internal/store"
)

// ErrUnknownRef is returned when no per-type membership set claims a ref
// (spec §4.2's "Fails with NotFound when no set contains the reference").
var ErrUnknownRef = errors.New("world: dbref not found in any type set")

// ErrCycle is returned by Reparent when the new parent would create a
// cycle (spec §4.3's "acyclicity must hold").
var ErrCycle = errors.New("world: reparenting would create a cycle")

var typeSets = []struct {
	name string
	kind model.Kind
}{
	{"rooms", model.KindRoom},
	{"things", model.KindThing},
	{"players", model.KindPlayer},
	{"links", model.KindLink},
	{"programs", model.KindProgram},
}

// World is the object-operations layer: the authoritative store plus the
// process-local composed cache, scoped to a single persisted namespace.
type World struct {
	app   string
	store store.Store
	cache *compcache.Cache
	now   func() time.Time

	mu sync.Mutex
}

// New builds a World over store persisted under app, backed by cache.
func New(app string, s store.Store, cache *compcache.Cache) *World {
	return &World{app: app, store: s, cache: cache, now: time.Now}
}

// AllocateRef reserves the next dbref from the persistent counter.
func (w *World) AllocateRef(ctx context.Context) (dbref.DbRef, error) {
	n, err := w.store.Incr(ctx, store.CounterKey(w.app))
	if err != nil {
		return dbref.Nothing, err
	}
	return dbref.DbRef(n), nil
}

// typeOf probes the per-type membership sets to find which kind ref
// belongs to (spec §4.2).
func (w *World) typeOf(ctx context.Context, ref dbref.DbRef) (model.Kind, error) {
	key := ref.String()
	found := make([]bool, len(typeSets))
	errs := make([]error, len(typeSets))
	var wg sync.WaitGroup
	for i, ts := range typeSets {
		wg.Add(1)
		go func(i int, kind model.Kind) {
			defer wg.Done()
			found[i], errs[i] = w.store.SetContains(ctx, store.MembershipSetKey(w.app, string(kind)), key)
		}(i, ts.kind)
	}
	wg.Wait()
	for i, ts := range typeSets {
		if errs[i] != nil {
			return "", errs[i]
		}
		if found[i] {
			return ts.kind, nil
		}
	}
	return "", ErrUnknownRef
}

// Get loads and decodes the object at ref, dispatched on its kind (spec
// §4.3's get).
func (w *World) Get(ctx context.Context, ref dbref.DbRef) (model.Object, error) {
	kind, err := w.typeOf(ctx, ref)
	if err != nil {
		return nil, err
	}
	raw, err := w.store.Get(ctx, store.RecordKey(w.app, string(kind), ref.String()))
	if err != nil {
		return nil, err
	}
	return decode(kind, raw)
}

func decode(kind model.Kind, raw []byte) (model.Object, error) {
	switch kind {
	case model.KindRoom:
		var o model.Room
		return &o, json.Unmarshal(raw, &o)
	case model.KindThing:
		var o model.Thing
		return &o, json.Unmarshal(raw, &o)
	case model.KindPlayer:
		var o model.Player
		return &o, json.Unmarshal(raw, &o)
	case model.KindLink:
		var o model.Link
		return &o, json.Unmarshal(raw, &o)
	case model.KindProgram:
		var o model.Program
		return &o, json.Unmarshal(raw, &o)
	default:
		return nil, fmt.Errorf("world: unknown kind %q", kind)
	}
}

// ListByKind returns every object currently recorded in kind's membership
// set, decoded. Used by seeding (internal/config) to find programs whose
// source should be reloaded from disk, and by tests; not part of the
// object-operations contract spec §4.3 names, so callers on the hot path
// should prefer Get with a known ref.
func (w *World) ListByKind(ctx context.Context, kind model.Kind) ([]model.Object, error) {
	members, err := w.store.SetMembers(ctx, store.MembershipSetKey(w.app, string(kind)))
	if err != nil {
		return nil, err
	}
	objs := make([]model.Object, 0, len(members))
	for _, m := range members {
		ref, err := dbref.Parse(m)
		if err != nil {
			continue
		}
		raw, err := w.store.Get(ctx, store.RecordKey(w.app, string(kind), m))
		if err != nil {
			continue
		}
		obj, err := decode(kind, raw)
		if err != nil {
			continue
		}
		if obj.Ref() != ref {
			continue
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Save persists obj idempotently and refreshes its cache entry (spec
// §4.3's save).
func (w *World) Save(ctx context.Context, obj model.Object) error {
	b := obj.Base()
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err := w.store.Set(ctx, store.RecordKey(w.app, string(b.Kind), b.DbRef.String()), raw); err != nil {
		return err
	}
	if err := w.store.SetAdd(ctx, store.MembershipSetKey(w.app, string(b.Kind)), b.DbRef.String()); err != nil {
		return err
	}
	if b.Kind == model.KindPlayer {
		if p, ok := obj.(*model.Player); ok && p.Username != "" {
			if err := w.store.HashSet(ctx, store.UsernameHashKey(w.app), strings.ToLower(p.Username), b.DbRef.String()); err != nil {
				return err
			}
		}
	}
	_, err = w.cache.Update(ctx, b.DbRef, w.retrieve, w.resolve)
	return err
}

// retrieve and resolve are compcache.Cache's fetch callbacks: retrieve
// loads the ref itself, resolve loads a relation target without
// recursing into composition (spec §4.4's cache bundles one level of
// relations, not a transitive closure).
func (w *World) retrieve(ctx context.Context, ref dbref.DbRef) (model.Object, error) {
	return w.Get(ctx, ref)
}

func (w *World) resolve(ctx context.Context, ref dbref.DbRef) (model.Object, bool) {
	o, err := w.Get(ctx, ref)
	if err != nil {
		return nil, false
	}
	return o, true
}

func (w *World) composed(ctx context.Context, ref dbref.DbRef) (*compcache.ComposedObject, error) {
	return w.cache.LookupOrRetrieve(ctx, ref, w.retrieve, w.resolve)
}

// Move implements spec §4.3's move: no-op if already there, otherwise
// updates both locations' contents and the object's own location, then
// persists all three and refreshes the new location's cache entry.
func (w *World) Move(ctx context.Context, ref, newLoc dbref.DbRef) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	obj, err := w.Get(ctx, ref)
	if err != nil {
		return err
	}
	if _, isRoom := obj.(*model.Room); isRoom {
		return fmt.Errorf("world: %s is a room and cannot be moved", ref)
	}
	b := obj.Base()
	if b.Location == newLoc {
		return nil
	}
	oldLoc := b.Location

	if oldLoc.IsReal() {
		oldLocObj, err := w.Get(ctx, oldLoc)
		if err != nil {
			return err
		}
		oldLocObj.Base().RemoveContent(ref)
		if err := w.Save(ctx, oldLocObj); err != nil {
			return err
		}
	}

	var newLocObj model.Object
	if newLoc.IsReal() {
		newLocObj, err = w.Get(ctx, newLoc)
		if err != nil {
			return err
		}
		newLocObj.Base().AddContent(ref)
	}

	b.Location = newLoc
	if err := w.Save(ctx, obj); err != nil {
		return err
	}
	if newLocObj != nil {
		return w.Save(ctx, newLocObj)
	}
	return nil
}

// Reparent implements spec §4.3's reparent, rejecting a change that would
// create a cycle in the parent chain.
func (w *World) Reparent(ctx context.Context, ref, newParent dbref.DbRef) error {
	cursor := newParent
	for cursor.IsReal() {
		if cursor == ref {
			return ErrCycle
		}
		parentObj, err := w.Get(ctx, cursor)
		if err != nil {
			return err
		}
		cursor = parentObj.Base().Parent
	}

	obj, err := w.Get(ctx, ref)
	if err != nil {
		return err
	}
	obj.Base().Parent = newParent
	return w.Save(ctx, obj)
}

// Authenticate satisfies session.World: resolves username (case-insensitive,
// spec §8) through the username hash, loads the Player, verifies password,
// and stamps lastLogin (spec §4.8's "set identity and update lastLogin").
func (w *World) Authenticate(ctx context.Context, username, password string) (dbref.DbRef, error) {
	refStr, err := w.store.HashGet(ctx, store.UsernameHashKey(w.app), strings.ToLower(username))
	if err != nil {
		return dbref.Nothing, err
	}
	ref, err := dbref.Parse(refStr)
	if err != nil {
		return dbref.Nothing, err
	}
	obj, err := w.Get(ctx, ref)
	if err != nil {
		return dbref.Nothing, err
	}
	p, ok := obj.(*model.Player)
	if !ok {
		return dbref.Nothing, fmt.Errorf("world: %s is not a player", ref)
	}
	if !auth.VerifyPassword(password, p.PasswordHash, p.PasswordSalt) {
		return dbref.Nothing, errors.New("world: bad credentials")
	}
	p.LastLogin = w.now()
	if err := w.Save(ctx, p); err != nil {
		return dbref.Nothing, err
	}
	return ref, nil
}

// Scope satisfies session.World: carried is the player's own contents,
// here is the contents of their current location (spec §4.5's matcher
// scope).
func (w *World) Scope(ctx context.Context, player dbref.DbRef) ([]model.Object, []model.Object, error) {
	if !player.IsReal() {
		return nil, nil, nil
	}
	composedPlayer, err := w.composed(ctx, player)
	if err != nil {
		return nil, nil, err
	}
	if composedPlayer == nil {
		return nil, nil, nil
	}

	var here []model.Object
	if composedPlayer.Location != nil {
		composedLoc, err := w.composed(ctx, composedPlayer.Location.Ref())
		if err != nil {
			return nil, nil, err
		}
		if composedLoc != nil {
			here = composedLoc.Contents
		}
	}
	return composedPlayer.Contents, here, nil
}

// PlayerLocation satisfies session.World.
func (w *World) PlayerLocation(ctx context.Context, player dbref.DbRef) dbref.DbRef {
	obj, err := w.Get(ctx, player)
	if err != nil {
		return dbref.Nothing
	}
	return obj.Base().Location
}

// ResolveVerb satisfies session.World by gathering Link candidates from
// scope plus the resolved direct/indirect objects' own contents (spec
// §4.5's matchVerb fallback).
func (w *World) ResolveVerb(ctx context.Context, player dbref.DbRef, verbText string, directObj, indirectObj dbref.DbRef) dbref.DbRef {
	carried, here, err := w.Scope(ctx, player)
	if err != nil {
		return dbref.FailedMatch
	}
	scope := append(append([]model.Object{}, carried...), here...)

	doContents := w.contentsOf(ctx, directObj)
	ioContents := w.contentsOf(ctx, indirectObj)

	return match.MatchVerb(verbText, scope, doContents, ioContents)
}

func (w *World) contentsOf(ctx context.Context, ref dbref.DbRef) []model.Object {
	if !ref.IsReal() {
		return nil
	}
	composed, err := w.composed(ctx, ref)
	if err != nil || composed == nil {
		return nil
	}
	return composed.Contents
}

// LinkTarget satisfies session.World.
func (w *World) LinkTarget(ctx context.Context, linkRef dbref.DbRef) (dbref.DbRef, bool, error) {
	obj, err := w.Get(ctx, linkRef)
	if err != nil {
		return dbref.Nothing, false, err
	}
	link, ok := obj.(*model.Link)
	if !ok {
		return dbref.Nothing, false, fmt.Errorf("world: %s is not a link", linkRef)
	}
	target, err := w.Get(ctx, link.Target)
	if err != nil {
		return link.Target, false, err
	}
	_, isProgram := target.(*model.Program)
	return link.Target, isProgram, nil
}

// ProgramName returns ref's object name, for client-visible outcome
// messages that name the program (spec §6's "Paused: <name>.",
// "Running... <name>.", "STUCK: <name> loaded but not completed.").
func (w *World) ProgramName(ctx context.Context, ref dbref.DbRef) (string, error) {
	obj, err := w.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	return obj.Base().Name, nil
}

// CreateRoom satisfies script.DatabaseLibrary.
func (w *World) CreateRoom(ctx context.Context, name string, owner dbref.DbRef) (dbref.DbRef, error) {
	ref, err := w.AllocateRef(ctx)
	if err != nil {
		return dbref.Nothing, err
	}
	room := &model.Room{B: model.NewBase(ref, model.KindRoom, name, owner)}
	if err := w.Save(ctx, room); err != nil {
		return dbref.Nothing, err
	}
	return ref, nil
}

// Rename satisfies script.DatabaseLibrary.
func (w *World) Rename(ctx context.Context, ref dbref.DbRef, name string) error {
	obj, err := w.Get(ctx, ref)
	if err != nil {
		return err
	}
	obj.Base().Name = name
	return w.Save(ctx, obj)
}

// GetProperty satisfies script.DatabaseLibrary.
func (w *World) GetProperty(ctx context.Context, ref dbref.DbRef, name string) (string, error) {
	obj, err := w.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	for _, p := range obj.Base().Properties {
		if p.Name == name {
			return p.Value, nil
		}
	}
	return "", nil
}

// SetProperty satisfies script.DatabaseLibrary.
func (w *World) SetProperty(ctx context.Context, ref dbref.DbRef, name, value string) error {
	obj, err := w.Get(ctx, ref)
	if err != nil {
		return err
	}
	b := obj.Base()
	for i, p := range b.Properties {
		if p.Name == name {
			b.Properties[i].Value = value
			return w.Save(ctx, obj)
		}
	}
	b.Properties = append(b.Properties, model.Property{Name: name, Value: value, Owner: b.Owner})
	return w.Save(ctx, obj)
}

var _ script.DatabaseLibrary = (*World)(nil)
