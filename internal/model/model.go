// Package model defines the Mudpie object graph: the abstract object base
// and its five variants (Room, Thing, Player, Link, Program), plus the
// property bag attached to every object.
//
// Struct shapes follow internal/core/modules.go's plain-struct-with-
// JSON-tags style (its Module/Hook types), since every object round-trips
// through the store as a JSON blob keyed by its DbRef.
package model

import (
	"strings"
	"time"

	"github.com/mudpienet/mudpie/internal/dbref"
)

// Kind tags which variant an object is, used for the dispatch table instead
// of a virtual-method hierarchy (spec §9, "Deep virtual-method chains").
type Kind string

const (
	KindRoom    Kind = "room"
	KindThing   Kind = "thing"
	KindPlayer  Kind = "player"
	KindLink    Kind = "link"
	KindProgram Kind = "program"
)

// Property is a named, owned, access-controlled attribute attached to an
// object (e.g. "_/de" for description).
type Property struct {
	Name             string `json:"name"`
	Value            string `json:"value"`
	Owner            dbref.DbRef `json:"owner"`
	PublicRead       bool   `json:"public_read"`
	PublicWrite      bool   `json:"public_write"`
	InheritChangeOwner bool `json:"inherit_change_owner"`
}

// Base holds the attributes common to every object variant.
type Base struct {
	DbRef      dbref.DbRef   `json:"dbref"`
	Kind       Kind          `json:"kind"`
	Name       string        `json:"name"`
	Aliases    []string      `json:"aliases,omitempty"`
	Owner      dbref.DbRef   `json:"owner"`
	Location   dbref.DbRef   `json:"location"`
	Contents   []dbref.DbRef `json:"contents,omitempty"`
	Parent     dbref.DbRef   `json:"parent"`
	Properties []Property    `json:"properties,omitempty"`
}

// Object is satisfied by every variant; it exposes the attributes the
// matcher, cache and connection layers need without caring which concrete
// kind they're holding.
type Object interface {
	Base() *Base
	Ref() dbref.DbRef
}

// Room is a container, never movable.
type Room struct {
	B Base `json:"base"`
}

func (r *Room) Base() *Base      { return &r.B }
func (r *Room) Ref() dbref.DbRef { return r.B.DbRef }

// Thing is a moveable generic object.
type Thing struct {
	B Base `json:"base"`
}

func (t *Thing) Base() *Base      { return &t.B }
func (t *Thing) Ref() dbref.DbRef { return t.B.DbRef }

// Player is an authenticated user's avatar in the world.
type Player struct {
	B            Base      `json:"base"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"password_hash"`
	PasswordSalt []byte    `json:"password_salt"`
	LastLogin    time.Time `json:"last_login"`
}

func (p *Player) Base() *Base      { return &p.B }
func (p *Player) Ref() dbref.DbRef { return p.B.DbRef }

// Equal compares players by identity, per spec §3 ("Equality on dbref").
func (p *Player) Equal(other *Player) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.B.DbRef == other.B.DbRef
}

// Link is an exit or action: naming it as a verb transfers control to
// Target, which may be a destination room (a travel exit) or a Program (a
// verb).
type Link struct {
	B      Base        `json:"base"`
	Target dbref.DbRef `json:"target"`
}

func (l *Link) Base() *Base      { return &l.B }
func (l *Link) Ref() dbref.DbRef { return l.B.DbRef }

// Program is persisted script source plus the flags controlling who may
// invoke it and whether it may read player input. Compiled is deliberately
// untyped — the embedded script language's compiler is an external
// collaborator (spec §1) and is never constructed by this package.
type Program struct {
	B               Base   `json:"base"`
	Source          string `json:"source"`
	Interactive     bool   `json:"interactive"`
	Unauthenticated bool   `json:"unauthenticated"`

	compiled Compiled
}

func (p *Program) Base() *Base      { return &p.B }
func (p *Program) Ref() dbref.DbRef { return p.B.DbRef }

// Compiled is the opaque compiled form of a Program's source. The concrete
// compiler lives outside this module's scope (spec §1); Compiled is the
// seam an implementation plugs into.
type Compiled interface {
	// Close releases any resources the compiled form holds.
	Close() error
}

// CompiledArtifact returns the memoised compiled form, or nil if the
// program has never been compiled. It is never persisted (spec §4.7).
func (p *Program) CompiledArtifact() Compiled {
	return p.compiled
}

// SetCompiledArtifact memoises the compiled form on the in-memory instance.
func (p *Program) SetCompiledArtifact(c Compiled) {
	p.compiled = c
}

// NewBase builds a Base with a trimmed name; it does not validate the
// result (see Valid). Callers (the
// store's create path) are expected to have already allocated DbRef from
// the persistent counter.
func NewBase(ref dbref.DbRef, kind Kind, name string, owner dbref.DbRef) Base {
	return Base{
		DbRef:    ref,
		Kind:     kind,
		Name:     strings.TrimSpace(name),
		Owner:    owner,
		Location: dbref.Nothing,
		Parent:   dbref.Nothing,
	}
}

// Valid reports whether b satisfies the base invariants from spec §3: a
// non-empty trimmed name and a positive owner.
func (b *Base) Valid() bool {
	return strings.TrimSpace(b.Name) != "" && b.Owner.IsReal()
}

// HasAlias reports whether b carries alias, compared case-insensitively.
func (b *Base) HasAlias(alias string) bool {
	for _, a := range b.Aliases {
		if strings.EqualFold(a, alias) {
			return true
		}
	}
	return false
}

// AddContent records child as contained in b, keeping Contents deduplicated.
func (b *Base) AddContent(child dbref.DbRef) {
	for _, c := range b.Contents {
		if c == child {
			return
		}
	}
	b.Contents = append(b.Contents, child)
}

// RemoveContent drops child from b's contents, if present.
func (b *Base) RemoveContent(child dbref.DbRef) {
	out := b.Contents[:0]
	for _, c := range b.Contents {
		if c != child {
			out = append(out, c)
		}
	}
	b.Contents = out
}

// Sanitized is the shallow projection handed to program globals (spec
// §4.3): secrets (password material) and inessential bookkeeping are
// blanked.
type Sanitized struct {
	DbRef    dbref.DbRef   `json:"dbref"`
	Kind     Kind          `json:"kind"`
	Name     string        `json:"name"`
	Location dbref.DbRef   `json:"location"`
	Contents []dbref.DbRef `json:"contents,omitempty"`
}

// Sanitize projects any Object down to the fields safe to expose to a
// running program.
func Sanitize(o Object) Sanitized {
	b := o.Base()
	return Sanitized{
		DbRef:    b.DbRef,
		Kind:     b.Kind,
		Name:     b.Name,
		Location: b.Location,
		Contents: append([]dbref.DbRef(nil), b.Contents...),
	}
}
