// Package filterrule turns include/exclude selections into the ordered filter
// arguments rsync consumes.
//
// rsync evaluates filter rules top to bottom and stops at the first match, so
// the order produced by Build is part of its contract:
//
//	[includes for dirs + their ancestors] [includes for files + their ancestors]
//	[excludes for dirs] [excludes for files] [catch-all "*" if anything was included]
//
// Patterns always use "/" regardless of the host OS.
package filterrule

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// Verb is the action of a filter rule.
type Verb int

const (
	Include Verb = iota
	Exclude
)

var verbToString = map[Verb]string{
	Include: "include",
	Exclude: "exclude",
}

var stringToVerb map[string]Verb

func init() {
	stringToVerb = util.InvertMap(verbToString)
}

// String returns the string representation of a Verb.
func (v Verb) String() string {
	if str, ok := verbToString[v]; ok {
		return str
	}
	return fmt.Sprintf("unknown_verb(%d)", v)
}

// Flag returns the rsync command-line flag for the verb.
func (v Verb) Flag() string {
	return "--" + v.String()
}

// ParseVerb parses a string and returns the corresponding Verb.
func ParseVerb(s string) (Verb, error) {
	if v, ok := stringToVerb[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("invalid filter verb: %q. Must be 'include' or 'exclude'", s)
}

// MarshalJSON implements the json.Marshaler interface for Verb.
func (v Verb) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Verb.
func (v *Verb) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Verb should be a string, got %s", data)
	}
	verb, err := ParseVerb(s)
	if err != nil {
		return err
	}
	*v = verb
	return nil
}

// Rule is a single (verb, pattern) pair.
type Rule struct {
	Verb    Verb   `json:"verb"`
	Pattern string `json:"pattern"`
}

func (r Rule) String() string {
	return r.Verb.Flag() + " " + r.Pattern
}

// Rules is an ordered filter list. Order is significant.
type Rules []Rule

// Args renders the rules as rsync arguments: "--include", "a/", "--exclude", "*", ...
func (rs Rules) Args() []string {
	args := make([]string, 0, 2*len(rs))
	for _, r := range rs {
		args = append(args, r.Verb.Flag(), r.Pattern)
	}
	return args
}

// Selection is the user's choice of what to back up and what to leave out.
// Directory entries may be given with or without a trailing slash.
type Selection struct {
	IncludeFiles []string `json:"includeFiles"`
	IncludeDirs  []string `json:"includeDirs"`
	ExcludeFiles []string `json:"excludeFiles"`
	ExcludeDirs  []string `json:"excludeDirs"`
}

// HasIncludes reports whether the selection restricts the transfer to an explicit set.
func (s Selection) HasIncludes() bool {
	return len(s.IncludeFiles) > 0 || len(s.IncludeDirs) > 0
}

// IsEmpty reports whether the selection has no entries at all.
func (s Selection) IsEmpty() bool {
	return !s.HasIncludes() && len(s.ExcludeFiles) == 0 && len(s.ExcludeDirs) == 0
}

// CatchAll is the pattern appended last whenever something was explicitly included.
const CatchAll = "*"

// builder accumulates rules and remembers which directory include patterns were emitted.
type builder struct {
	rules Rules
	seen  map[string]struct{}
}

// Build translates a Selection into an ordered rule list. An empty selection
// yields an empty list (rsync transfers everything). Excludes alone never get a
// catch-all, so everything not excluded is still transferred.
func Build(sel Selection) Rules {
	b := &builder{
		rules: make(Rules, 0, len(sel.IncludeDirs)+len(sel.IncludeFiles)+len(sel.ExcludeDirs)+len(sel.ExcludeFiles)+1),
		seen:  make(map[string]struct{}),
	}

	for _, dir := range sel.IncludeDirs {
		dir = NormalizeDir(dir)
		b.includeAncestors(dir)
		b.includeDir(dir)
	}

	// Files are not deduplicated against each other, only their ancestors are.
	for _, file := range sel.IncludeFiles {
		b.includeAncestors(file)
		b.rules = append(b.rules, Rule{Verb: Include, Pattern: file})
	}

	for _, dir := range sel.ExcludeDirs {
		b.rules = append(b.rules, Rule{Verb: Exclude, Pattern: NormalizeDir(dir)})
	}

	for _, file := range sel.ExcludeFiles {
		b.rules = append(b.rules, Rule{Verb: Exclude, Pattern: file})
	}

	if sel.HasIncludes() {
		b.rules = append(b.rules, Rule{Verb: Exclude, Pattern: CatchAll})
	}
	return b.rules
}

func (b *builder) includeDir(pattern string) {
	if _, ok := b.seen[pattern]; ok {
		return
	}
	b.seen[pattern] = struct{}{}
	b.rules = append(b.rules, Rule{Verb: Include, Pattern: pattern})
}

// includeAncestors emits an include for every proper ancestor of p, root to leaf.
func (b *builder) includeAncestors(p string) {
	for _, parent := range Ancestors(p) {
		b.includeDir(parent)
	}
}

// NormalizeDir returns dir with exactly one trailing slash.
func NormalizeDir(dir string) string {
	return strings.TrimRight(dir, "/") + "/"
}

// Ancestors returns the directory patterns (each with a trailing slash) of every
// proper ancestor of p, ordered from the root down. Empty and "." components are
// dropped and the filesystem root itself is never returned, so "/home/u/docs/"
// yields ["/home/", "/home/u/"] and "a/b/c.txt" yields ["a/", "a/b/"].
func Ancestors(p string) []string {
	absolute := strings.HasPrefix(p, "/")

	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) < 2 {
		return nil
	}

	ancestors := make([]string, 0, len(parts)-1)
	var prefix strings.Builder
	if absolute {
		prefix.WriteString("/")
	}
	for _, part := range parts[:len(parts)-1] {
		prefix.WriteString(part)
		prefix.WriteString("/")
		ancestors = append(ancestors, prefix.String())
	}
	return ancestors
}
