// Package match implements the two-pass object and verb matcher (spec
// §4.5): scope accumulation through the composed-object cache, exact vs.
// partial (glob) candidate tracking, and DbRef-sum based ambiguity
// resolution.
//
// No example repo models a text-adventure object resolver, so the
// algorithm itself is new code; it is written in the plain,
// heavily-tested, no-receiver-methods style used for pure logic elsewhere
// in this codebase (core/db_test.go's table-driven cases), built entirely
// atop internal/dbref and internal/compcache rather than any ecosystem
// matching library.
package match

import (
	"context"
	"regexp"
	"strings"

	"github.com/mudpienet/mudpie/internal/compcache"
	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
)

// Resolver fetches a composed object by ref, the same shape
// compcache.Cache.LookupOrRetrieve returns through a player's scope.
type Resolver interface {
	LookupOrRetrieve(ctx context.Context, ref dbref.DbRef, retrieve compcache.RetrieveFunc, resolve func(context.Context, dbref.DbRef) (model.Object, bool)) (*compcache.ComposedObject, error)
}

// Player is the minimum a caller needs to supply about the invoker; nil
// means an unauthenticated/absent player (text "me" and "here" then never
// match).
type Player struct {
	Ref      dbref.DbRef
	Location dbref.DbRef
}

// MatchObject resolves text against a player's carried items and the
// contents of their current location, per spec §4.5. exists reports
// whether a literal "#n" reference names a real object; it may be nil if
// the caller only ever matches within scope.
func MatchObject(ctx context.Context, player *Player, text string, scope []model.Object, exists func(dbref.DbRef) bool) dbref.DbRef {
	text = strings.TrimSpace(text)
	if text == "" {
		return dbref.FailedMatch
	}

	if ref, err := dbref.Parse(text); err == nil {
		if exists != nil && exists(ref) {
			return ref
		}
		for _, o := range scope {
			if o.Ref() == ref {
				return ref
			}
		}
		return dbref.FailedMatch
	}
	if player != nil {
		if strings.EqualFold(text, "me") {
			return player.Ref
		}
		if strings.EqualFold(text, "here") {
			return player.Location
		}
	}

	return matchByNameOrAlias(text, scope)
}

// MatchVerb resolves text against Link objects visible in scope, falling
// back to the direct and then indirect object's own contents (spec
// §4.5, "a verb may live on its direct object").
func MatchVerb(text string, scope, directObjContents, indirectObjContents []model.Object) dbref.DbRef {
	text = strings.TrimSpace(text)
	if text == "" {
		return dbref.FailedMatch
	}

	if ref := matchByNameOrAlias(text, onlyLinks(scope)); ref.IsReal() || ref == dbref.Ambiguous {
		return ref
	}
	if ref := matchByNameOrAlias(text, onlyLinks(directObjContents)); ref.IsReal() || ref == dbref.Ambiguous {
		return ref
	}
	return matchByNameOrAlias(text, onlyLinks(indirectObjContents))
}

func onlyLinks(objs []model.Object) []model.Object {
	var links []model.Object
	for _, o := range objs {
		if _, ok := o.(*model.Link); ok {
			links = append(links, o)
		}
	}
	return links
}

func matchByNameOrAlias(text string, candidates []model.Object) dbref.DbRef {
	exact := dbref.FailedMatch
	partial := dbref.FailedMatch

	for _, c := range candidates {
		b := c.Base()
		if strings.EqualFold(b.Name, text) || b.HasAlias(text) {
			exact = dbref.Sum(exact, c.Ref())
			continue
		}
		if globMatch(b.Name, text) {
			partial = dbref.Sum(partial, c.Ref())
		}
	}

	if exact != dbref.Ambiguous && exact != dbref.FailedMatch {
		return exact
	}
	if exact == dbref.Ambiguous {
		return dbref.Ambiguous
	}
	return partial
}

// globMatch reports whether name, interpreted as a shell-style glob with
// "*" meaning any run of characters, matches text (case-insensitive), per
// spec §4.5 ("* -> .*?").
func globMatch(name, text string) bool {
	pattern := "^" + regexp.QuoteMeta(strings.ToLower(name)) + "$"
	pattern = strings.ReplaceAll(pattern, regexp.QuoteMeta("*"), ".*?")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(strings.ToLower(text))
}
