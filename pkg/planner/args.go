package planner

import (
	"github.com/paulschiretz/pgl-rsync/pkg/filterrule"
)

// baseFlags are passed to every rsync run: archive mode with ACLs, extended
// attributes, hard links, modification and access times, checksum comparison,
// compression in transit and resumable partial transfers.
var baseFlags = []string{
	"--archive",
	"--acls",
	"--xattrs",
	"--hard-links",
	"--times",
	"--atimes",
	"--checksum",
	"--compress",
	"--partial",
}

// Flags are the optional parts of an rsync argument vector.
type Flags struct {
	DryRun   bool
	Progress bool
	Delete   bool
	// LinkDest is the absolute path of a previous backup to hard-link unchanged files against.
	LinkDest string
	// Extra is appended after the built-in flags and before the filter rules.
	Extra []string
}

// BuildArgs assembles the rsync arguments (without the binary name):
//
//	base flags, --dry-run, --progress, --delete, --link-dest=..., extra flags,
//	filter rules, source, destination
//
// source must already carry its trailing separator; rsync copies the contents
// of "src/" but the directory itself for "src".
func BuildArgs(source, destination string, rules filterrule.Rules, f Flags) []string {
	args := make([]string, 0, len(baseFlags)+4+len(f.Extra)+2*len(rules)+2)
	args = append(args, baseFlags...)

	if f.DryRun {
		args = append(args, "--dry-run")
	}
	if f.Progress {
		args = append(args, "--progress")
	}
	if f.Delete {
		args = append(args, "--delete")
	}
	if f.LinkDest != "" {
		args = append(args, "--link-dest="+f.LinkDest)
	}

	args = append(args, f.Extra...)
	args = append(args, rules.Args()...)
	return append(args, source, destination)
}
