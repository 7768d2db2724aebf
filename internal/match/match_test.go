package match

import (
	"testing"

	"github.com/mudpienet/mudpie/internal/dbref"
	"github.com/mudpienet/mudpie/internal/model"
)

func thing(ref dbref.DbRef, name string, aliases ...string) model.Object {
	return &model.Thing{B: model.Base{DbRef: ref, Kind: model.KindThing, Name: name, Aliases: aliases}}
}

func link(ref dbref.DbRef, name string) model.Object {
	return &model.Link{B: model.Base{DbRef: ref, Kind: model.KindLink, Name: name}}
}

func TestMatchObjectExplicitRef(t *testing.T) {
	scope := []model.Object{thing(5, "sword")}
	exists := func(r dbref.DbRef) bool { return r == 5 }
	if got := MatchObject(nil, nil, "#5", scope, exists); got != 5 {
		t.Errorf("MatchObject(#5) = %v, want 5", got)
	}
	if got := MatchObject(nil, nil, "#9", scope, exists); got != dbref.FailedMatch {
		t.Errorf("MatchObject(#9) = %v, want FailedMatch", got)
	}
}

func TestMatchObjectMeAndHere(t *testing.T) {
	p := &Player{Ref: 3, Location: 1}
	if got := MatchObject(nil, p, "me", nil, nil); got != 3 {
		t.Errorf("MatchObject(me) = %v, want 3", got)
	}
	if got := MatchObject(nil, p, "HERE", nil, nil); got != 1 {
		t.Errorf("MatchObject(HERE) = %v, want 1", got)
	}
	if got := MatchObject(nil, nil, "me", nil, nil); got != dbref.FailedMatch {
		t.Errorf("MatchObject(me) with nil player = %v, want FailedMatch", got)
	}
}

func TestMatchObjectExactName(t *testing.T) {
	scope := []model.Object{thing(5, "sword"), thing(6, "shield")}
	if got := MatchObject(nil, nil, "sword", scope, nil); got != 5 {
		t.Errorf("MatchObject(sword) = %v, want 5", got)
	}
	if got := MatchObject(nil, nil, "SwOrD", scope, nil); got != 5 {
		t.Errorf("case-insensitive MatchObject = %v, want 5", got)
	}
}

func TestMatchObjectAlias(t *testing.T) {
	scope := []model.Object{thing(5, "longsword", "blade", "sword")}
	if got := MatchObject(nil, nil, "blade", scope, nil); got != 5 {
		t.Errorf("MatchObject(blade) = %v, want 5", got)
	}
}

func TestMatchObjectAmbiguousExact(t *testing.T) {
	scope := []model.Object{thing(5, "rock"), thing(6, "rock")}
	if got := MatchObject(nil, nil, "rock", scope, nil); got != dbref.Ambiguous {
		t.Errorf("MatchObject(rock) with two exact matches = %v, want Ambiguous", got)
	}
}

func TestMatchObjectPartialGlob(t *testing.T) {
	scope := []model.Object{thing(5, "rusty*")}
	if got := MatchObject(nil, nil, "rock", scope, nil); got != dbref.FailedMatch {
		t.Errorf("MatchObject(rock) = %v, want FailedMatch", got)
	}
	if got := MatchObject(nil, nil, "rusty sword", scope, nil); got != 5 {
		t.Errorf("MatchObject(rusty sword) = %v, want 5", got)
	}
}

func TestMatchObjectExactBeatsPartial(t *testing.T) {
	scope := []model.Object{thing(5, "sword"), thing(6, "sw*rd")}
	if got := MatchObject(nil, nil, "sword", scope, nil); got != 5 {
		t.Errorf("MatchObject(sword) = %v, want exact match 5 over glob match 6", got)
	}
}

func TestMatchObjectFailedMatch(t *testing.T) {
	scope := []model.Object{thing(5, "sword")}
	if got := MatchObject(nil, nil, "gemstone", scope, nil); got != dbref.FailedMatch {
		t.Errorf("MatchObject(gemstone) = %v, want FailedMatch", got)
	}
}

func TestMatchVerbFallsBackToDirectObjectContents(t *testing.T) {
	scope := []model.Object{thing(1, "table")}
	doContents := []model.Object{link(7, "open")}
	if got := MatchVerb("open", scope, doContents, nil); got != 7 {
		t.Errorf("MatchVerb(open) = %v, want 7 from direct object contents", got)
	}
}

func TestMatchVerbFallsBackToIndirectObjectContents(t *testing.T) {
	ioContents := []model.Object{link(9, "unlock")}
	if got := MatchVerb("unlock", nil, nil, ioContents); got != 9 {
		t.Errorf("MatchVerb(unlock) = %v, want 9 from indirect object contents", got)
	}
}

func TestMatchVerbIgnoresNonLinks(t *testing.T) {
	scope := []model.Object{thing(1, "open")}
	if got := MatchVerb("open", scope, nil, nil); got != dbref.FailedMatch {
		t.Errorf("MatchVerb(open) matched a non-Link = %v, want FailedMatch", got)
	}
}

func TestMatchVerbEmptyText(t *testing.T) {
	if got := MatchVerb("", nil, nil, nil); got != dbref.FailedMatch {
		t.Errorf("MatchVerb(\"\") = %v, want FailedMatch", got)
	}
}
