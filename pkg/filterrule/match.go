package filterrule

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher evaluates a compiled rule list against paths relative to the transfer root,
// the same way rsync does: rules are tried in order and the first match wins.
type Matcher struct {
	rules []compiledRule
}

type compiledRule struct {
	rule    Rule
	dirOnly bool
	re      *regexp.Regexp
}

// Compile prepares the rules for repeated matching.
//
// Pattern semantics follow rsync's filter rules:
//   - a trailing "/" restricts the rule to directories
//   - a leading "/" anchors the pattern to the transfer root
//   - unanchored patterns match the end of the path at a component boundary
//   - "*" and "?" never cross "/", "**" does
func (rs Rules) Compile() (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rs))}
	for _, r := range rs {
		cr, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

func compileRule(r Rule) (compiledRule, error) {
	pattern := r.Pattern
	dirOnly := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimRight(pattern, "/")

	anchored := strings.HasPrefix(pattern, "/")
	pattern = strings.TrimLeft(pattern, "/")

	var expr strings.Builder
	if anchored {
		expr.WriteString("^")
	} else {
		expr.WriteString("(?:^|/)")
	}
	expr.WriteString(globToRegexp(pattern))
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return compiledRule{}, fmt.Errorf("invalid filter pattern %q: %w", r.Pattern, err)
	}
	return compiledRule{rule: r, dirOnly: dirOnly, re: re}, nil
}

// globToRegexp translates an rsync wildcard pattern into a regular expression body.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// Match returns the first rule matching rel. rel uses "/" separators and is
// relative to the transfer root. ok is false if no rule matched.
func (m *Matcher) Match(rel string, isDir bool) (rule Rule, ok bool) {
	rel = strings.Trim(rel, "/")
	for _, cr := range m.rules {
		if cr.dirOnly && !isDir {
			continue
		}
		if cr.re.MatchString(rel) {
			return cr.rule, true
		}
	}
	return Rule{}, false
}

// Included reports whether rsync would transfer rel. Paths no rule matches are included.
func (m *Matcher) Included(rel string, isDir bool) bool {
	rule, ok := m.Match(rel, isDir)
	return !ok || rule.Verb == Include
}
