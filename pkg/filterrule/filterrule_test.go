package filterrule

import (
	"encoding/json"
	"reflect"
	"testing"
)

func inc(p string) Rule { return Rule{Verb: Include, Pattern: p} }
func exc(p string) Rule { return Rule{Verb: Exclude, Pattern: p} }

func TestBuild(t *testing.T) {
	testCases := []struct {
		name     string
		sel      Selection
		expected Rules
	}{
		{
			name:     "Empty selection yields no rules",
			sel:      Selection{},
			expected: Rules{},
		},
		{
			name:     "Single directory includes its parent and a catch-all",
			sel:      Selection{IncludeDirs: []string{"a/b/"}},
			expected: Rules{inc("a/"), inc("a/b/"), exc("*")},
		},
		{
			name:     "Directory without trailing slash is normalized",
			sel:      Selection{IncludeDirs: []string{"a/b"}},
			expected: Rules{inc("a/"), inc("a/b/"), exc("*")},
		},
		{
			name:     "Absolute directory skips the filesystem root",
			sel:      Selection{IncludeDirs: []string{"/home/u/docs/"}},
			expected: Rules{inc("/home/"), inc("/home/u/"), inc("/home/u/docs/"), exc("*")},
		},
		{
			name: "Shared ancestors are emitted once",
			sel:  Selection{IncludeDirs: []string{"a/b/", "a/c/", "a/b/"}},
			expected: Rules{
				inc("a/"), inc("a/b/"), inc("a/c/"), exc("*"),
			},
		},
		{
			name: "File includes reuse directory ancestors but are not deduplicated",
			sel: Selection{
				IncludeDirs:  []string{"a/b/"},
				IncludeFiles: []string{"a/x.txt", "c/y.txt", "a/x.txt"},
			},
			expected: Rules{
				inc("a/"), inc("a/b/"),
				inc("a/x.txt"), inc("c/"), inc("c/y.txt"), inc("a/x.txt"),
				exc("*"),
			},
		},
		{
			name:     "Excludes alone never get a catch-all",
			sel:      Selection{ExcludeDirs: []string{"cache"}, ExcludeFiles: []string{"*.tmp"}},
			expected: Rules{exc("cache/"), exc("*.tmp")},
		},
		{
			name: "Full ordering",
			sel: Selection{
				IncludeFiles: []string{"docs/notes.md"},
				IncludeDirs:  []string{"photos/2024/"},
				ExcludeFiles: []string{"*.bak"},
				ExcludeDirs:  []string{"photos/2024/raw/"},
			},
			expected: Rules{
				inc("photos/"), inc("photos/2024/"),
				inc("docs/"), inc("docs/notes.md"),
				exc("photos/2024/raw/"),
				exc("*.bak"),
				exc("*"),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Build(tc.sel)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("expected rules %v, but got %v", tc.expected, got)
			}
		})
	}
}

func TestBuild_CatchAllIsLast(t *testing.T) {
	rules := Build(Selection{IncludeFiles: []string{"a"}, ExcludeFiles: []string{"b"}})
	if len(rules) == 0 || rules[len(rules)-1] != exc(CatchAll) {
		t.Fatalf("expected catch-all exclude as last rule, got %v", rules)
	}
	for _, r := range rules[:len(rules)-1] {
		if r.Pattern == CatchAll {
			t.Errorf("catch-all appeared before the end: %v", rules)
		}
	}
}

func TestRulesArgs(t *testing.T) {
	rules := Rules{inc("a/"), exc("*")}
	want := []string{"--include", "a/", "--exclude", "*"}
	if got := rules.Args(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected args %v, got %v", want, got)
	}
	if got := (Rules{}).Args(); len(got) != 0 {
		t.Errorf("expected no args for empty rules, got %v", got)
	}
}

func TestAncestors(t *testing.T) {
	testCases := map[string][]string{
		"file.txt":      nil,
		"a/":            nil,
		"a/b/c.txt":     {"a/", "a/b/"},
		"/home/u/docs/": {"/home/", "/home/u/"},
		"/top":          nil,
		"./a//b/":       {"a/"},
		"/var/lib/x.db": {"/var/", "/var/lib/"},
	}
	for in, want := range testCases {
		if got := Ancestors(in); !reflect.DeepEqual(got, want) {
			t.Errorf("Ancestors(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestVerbJSON(t *testing.T) {
	data, err := json.Marshal(Rule{Verb: Exclude, Pattern: "*"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"verb":"exclude","pattern":"*"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var v Verb
	if err := json.Unmarshal([]byte(`"sideways"`), &v); err == nil {
		t.Error("expected an error for an unknown verb")
	}
}

func TestMatcher(t *testing.T) {
	testCases := []struct {
		name  string
		rules Rules
		path  string
		isDir bool
		want  bool
	}{
		{"No rules include everything", Rules{}, "any/file", false, true},
		{"Basename pattern matches at any depth", Rules{exc("*.tmp")}, "a/b/c.tmp", false, false},
		{"Star does not cross slash", Rules{exc("a/*.txt")}, "a/b/c.txt", false, true},
		{"Double star crosses slash", Rules{exc("a/**.txt")}, "a/b/c.txt", false, false},
		{"Anchored pattern only at root", Rules{exc("/build")}, "src/build", true, true},
		{"Anchored pattern at root", Rules{exc("/build")}, "build", true, false},
		{"Directory rule skips files", Rules{exc("cache/")}, "cache", false, true},
		{"Directory rule matches directories", Rules{exc("cache/")}, "x/cache", true, false},
		{"Inner slash matches path suffix", Rules{exc("b/c")}, "a/b/c", false, false},
		{"Inner slash respects component boundary", Rules{exc("b/c")}, "a/xb/c", false, true},
		{"First match wins", Rules{inc("keep.tmp"), exc("*.tmp")}, "keep.tmp", false, true},
		{"Catch-all excludes the rest", Build(Selection{IncludeDirs: []string{"a/b/"}}), "z.txt", false, false},
		{"Catch-all keeps included dir", Build(Selection{IncludeDirs: []string{"a/b/"}}), "a/b", true, true},
		{"Question mark", Rules{exc("file?.log")}, "file1.log", false, false},
		{"Character class", Rules{exc("[!a]*.log")}, "b.log", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := tc.rules.Compile()
			if err != nil {
				t.Fatalf("Compile returned error: %v", err)
			}
			if got := m.Included(tc.path, tc.isDir); got != tc.want {
				t.Errorf("Included(%q, %v) = %v, want %v", tc.path, tc.isDir, got, tc.want)
			}
		})
	}
}
