// Package dbref implements the tagged-integer identity scheme used for every
// object in the Mudpie world: rooms, things, players, links and programs are
// all addressed by DbRef.
package dbref

import (
	"fmt"
	"strconv"
	"strings"
)

// DbRef is a signed integer identity. Zero, -1 and -2 are reserved
// sentinels (see the Nothing/Ambiguous/FailedMatch constants); negative
// values below -2 are invalid.
type DbRef int

const (
	// Nothing marks the absence of a reference (an unplaced object's
	// location, an exit with no target, etc).
	Nothing DbRef = 0
	// Ambiguous is returned by the matcher when more than one candidate
	// matched equally well.
	Ambiguous DbRef = -1
	// FailedMatch is returned by the matcher when nothing matched.
	FailedMatch DbRef = -2
	// Void is the bootstrap room every server seeds before any other
	// content exists.
	Void DbRef = 1
)

// IsReal reports whether r addresses an actual, persisted object.
func (r DbRef) IsReal() bool {
	return r > 0
}

// IsValid reports whether r is one of the defined sentinels or a real
// (positive) reference. Negative values other than Ambiguous/FailedMatch
// are never produced and are not valid.
func (r DbRef) IsValid() bool {
	return r.IsReal() || r == Nothing || r == Ambiguous || r == FailedMatch
}

// String formats r as "#" followed by a six-digit zero-padded decimal, e.g.
// "#000001". Sentinels format the same way ("#-00001" etc.) so that Parse
// round-trips any value String produces.
func (r DbRef) String() string {
	if r < 0 {
		return fmt.Sprintf("#-%05d", -int(r))
	}
	return fmt.Sprintf("#%06d", int(r))
}

// Parse reads a DbRef from its "#<n>" wire form. Leading/trailing whitespace
// is trimmed; the numeric part may be zero-padded or not.
func Parse(s string) (DbRef, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return 0, fmt.Errorf("dbref: missing '#' prefix in %q", s)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil {
		return 0, fmt.Errorf("dbref: %q: %w", s, err)
	}
	return DbRef(n), nil
}

// Sum is the matcher's tie-breaking combinator (spec §4.1). It lets the
// matcher accumulate candidates across scopes without ever branching on
// "have I seen one already?" — every candidate just gets summed in.
//
//   - either side Ambiguous            -> Ambiguous
//   - both FailedMatch                 -> FailedMatch
//   - one side Nothing                 -> the other side
//   - both real and equal              -> that value
//   - both real and distinct           -> Ambiguous
//   - one FailedMatch, other real      -> the real one
func Sum(a, b DbRef) DbRef {
	switch {
	case a == Ambiguous || b == Ambiguous:
		return Ambiguous
	case a == FailedMatch && b == FailedMatch:
		return FailedMatch
	case a == Nothing:
		return b
	case b == Nothing:
		return a
	case a == FailedMatch:
		return b
	case b == FailedMatch:
		return a
	case a == b:
		return a
	default:
		return Ambiguous
	}
}

// SumAll folds Sum over a sequence of candidates, starting from FailedMatch
// (nothing matched yet). FailedMatch leaves real refs and Ambiguous
// unchanged, but absorbs Nothing: SumAll(Nothing) is FailedMatch.
func SumAll(candidates ...DbRef) DbRef {
	acc := FailedMatch
	for _, c := range candidates {
		acc = Sum(acc, c)
	}
	return acc
}
