// Package cmdparse tokenizes an inbound command line and splits its
// remainder into direct-object, preposition and indirect-object strings
// (spec §4.6).
//
// Tokenizing itself is delegated to github.com/google/shlex (used the same
// way aretext's config-command reader uses it) so quoted runs are honored
// by a battle-tested lexer instead of a hand-rolled scanner; the
// verb/preposition/object split on top of that is new logic shaped after
// a regex-dispatch style.
package cmdparse

import (
	"strings"

	"github.com/google/shlex"
)

// prepositions is the closed list from spec §4.6. Longer multi-word
// prepositions are checked before their single-word prefixes so "in front
// of" is not swallowed by a bare "in".
var prepositions = []string{
	"in front of",
	"from inside",
	"on top of",
	"out of",
	"off of",
	"with", "using", "at", "in", "inside", "into", "on", "onto", "upon",
	"from", "over", "through", "under", "underneath", "beneath", "behind",
	"beside", "for", "about", "as", "off",
}

// Command is the parsed shape of one inbound line.
type Command struct {
	Verb                string
	DirectObjectString  string
	Preposition         string
	IndirectObjectString string
}

// HasPreposition reports whether the command's remainder contained one of
// the recognised prepositions.
func (c Command) HasPreposition() bool {
	return c.Preposition != ""
}

// Tokenize splits line into shell-style words, honoring "..."-quoted runs
// as single tokens (spec §4.6).
func Tokenize(line string) ([]string, error) {
	return shlex.Split(line)
}

// Parse tokenizes line, takes its first word as the verb, and splits the
// remainder on the first recognised preposition per spec §4.6.
func Parse(line string) (Command, error) {
	tokens, err := Tokenize(line)
	if err != nil {
		return Command{}, err
	}
	if len(tokens) == 0 {
		return Command{}, nil
	}

	cmd := Command{Verb: tokens[0]}
	rest := strings.Join(tokens[1:], " ")
	cmd.DirectObjectString, cmd.Preposition, cmd.IndirectObjectString = splitOnPreposition(rest)
	return cmd, nil
}

// splitOnPreposition finds the first recognised preposition as a
// whole-word match within rest and splits around it.
func splitOnPreposition(rest string) (directObj, prep, indirectObj string) {
	lower := strings.ToLower(rest)

	bestIdx := -1
	bestPrep := ""
	for _, p := range prepositions {
		idx := indexWholeWord(lower, p)
		if idx < 0 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx || (idx == bestIdx && len(p) > len(bestPrep)) {
			bestIdx = idx
			bestPrep = p
		}
	}
	if bestIdx == -1 {
		return strings.TrimSpace(rest), "", ""
	}

	directObj = strings.TrimSpace(rest[:bestIdx])
	indirectObj = strings.TrimSpace(rest[bestIdx+len(bestPrep):])
	return directObj, bestPrep, indirectObj
}

// indexWholeWord finds phrase within s bounded by word boundaries (start
// of string / end of string / whitespace), so "in" does not match inside
// "inside" or "a coin".
func indexWholeWord(s, phrase string) int {
	start := 0
	for {
		idx := strings.Index(s[start:], phrase)
		if idx < 0 {
			return -1
		}
		abs := start + idx
		before := abs == 0 || s[abs-1] == ' '
		afterPos := abs + len(phrase)
		after := afterPos == len(s) || s[afterPos] == ' '
		if before && after {
			return abs
		}
		start = abs + 1
	}
}
