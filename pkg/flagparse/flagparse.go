package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool
	DataDir  *string

	// Shared: Backup / Init
	Job          *string
	Source       *string
	Destination  *string
	Mode         *string
	IncludeFiles *string
	IncludeDirs  *string
	ExcludeFiles *string
	ExcludeDirs  *string
	Description  *string
	Repeat       *bool
	Interval     *string

	PreBackupHooks  *string
	PostBackupHooks *string

	RsyncBinary    *string
	RsyncProgress  *bool
	RsyncExtraArgs *string

	HistoryBackend   *string
	LogCompress      *string
	LogCompressLevel *string
	ScanWorkers      *int

	// Due specific
	Run *bool

	// Schedule specific
	LastRun *string

	// List specific
	Asc   *bool
	LogID *string
	Limit *int

	// Init specific
	Force *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.DataDir = fs.String("data-dir", "", "Directory holding the config file, history and logs. (Default: the user config directory)")
}

func registerJobFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Job = fs.String("job", "", "Name of the job to run or define.")
	f.Source = fs.String("source", "", "Source directory to copy from.")
	f.Destination = fs.String("destination", "", "Destination directory or rsync target (host:path). For incremental jobs, the base directory.")
	f.Mode = fs.String("mode", "", "Backup mode: 'plain', 'sync' or 'incremental'.")
	f.IncludeFiles = fs.String("include-files", "", "Comma-separated list of files to include. Everything else is excluded.")
	f.IncludeDirs = fs.String("include-dirs", "", "Comma-separated list of directories to include. Everything else is excluded.")
	f.ExcludeFiles = fs.String("exclude-files", "", "Comma-separated list of file patterns to exclude.")
	f.ExcludeDirs = fs.String("exclude-dirs", "", "Comma-separated list of directory patterns to exclude.")
	f.Description = fs.String("description", "", "Free text stored with the backup record.")
	f.Repeat = fs.Bool("repeat", false, "Mark the job as repeating on its schedule.")
	f.Interval = fs.String("interval", "", "Schedule: 'hourly', 'daily', 'weekly', 'monthly' or 'custom:N:hours|days|weeks'.")
	f.PreBackupHooks = fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before the backup.")
	f.PostBackupHooks = fs.String("post-backup-hooks", "", "Comma-separated list of commands to run after the backup.")
}

func registerRsyncFlags(fs *flag.FlagSet, f *cliFlags) {
	f.RsyncBinary = fs.String("rsync-binary", "", "Path or name of the rsync executable.")
	f.RsyncProgress = fs.Bool("progress", false, "Pass --progress to rsync.")
	f.RsyncExtraArgs = fs.String("rsync-extra-args", "", "Comma-separated list of extra arguments appended to every rsync command.")
	f.HistoryBackend = fs.String("history-backend", "", "History storage: 'json' or 'sqlite'.")
	f.LogCompress = fs.String("log-compress", "", "Compression for finished run logs: 'none', 'gzip' or 'zstd'.")
	f.LogCompressLevel = fs.String("log-compress-level", "", "Compression level: 'default', 'fastest', 'better', 'best'.")
	f.ScanWorkers = fs.Int("scan-workers", 0, "Number of worker goroutines for the pre-flight scan.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

func registerDueFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Run = fs.Bool("run", false, "Run the due jobs one after another.")
	f.Job = fs.String("job", "", "Only check this job.")
}

func registerScheduleFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Interval = fs.String("interval", "", "Schedule to describe, e.g. 'daily' or 'custom:3:days'. (Required)")
	f.LastRun = fs.String("last-run", "", "Last run as 'YYYY-MM-DD HH:MM' (local time). Empty means now.")
}

func registerListFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Job = fs.String("job", "", "Only list backups of this job.")
	f.Asc = fs.Bool("asc", false, "List oldest backups first.")
	f.LogID = fs.String("log", "", "Print the run log of the backup with this id.")
	f.Limit = fs.Int("limit", 0, "Show at most this many backups (0 = all).")
	f.HistoryBackend = fs.String("history-backend", "", "History storage: 'json' or 'sqlite'.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the action and config map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// Handle top-level help
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	var desc string
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)

	switch command {
	case Init:
		registerGlobalFlags(fs, f)
		registerInitFlags(fs, f)
		registerJobFlags(fs, f)
		registerRsyncFlags(fs, f)
		desc = "Write a configuration file, optionally with a first job."

	case Backup:
		registerGlobalFlags(fs, f)
		registerJobFlags(fs, f)
		registerRsyncFlags(fs, f)
		desc = "Run a configured job, or an ad hoc job defined by flags."

	case Due:
		registerGlobalFlags(fs, f)
		registerDueFlags(fs, f)
		desc = "List the jobs whose schedule is due, and optionally run them."

	case Schedule:
		registerScheduleFlags(fs, f)
		f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
		desc = "Describe a schedule and compute its next run time."

	case List:
		registerGlobalFlags(fs, f)
		registerListFlags(fs, f)
		desc = "List the backup history or print a run log."

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %s", command, strings.Join(fs.Args(), " "))
	}

	flagMap, err := flagsToMap(command, fs, f)
	return command, flagMap, err
}

func flagsToMap(c Command, fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "data-dir", f.DataDir)

	addIfUsed(flagMap, usedFlags, "job", f.Job)
	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "destination", f.Destination)
	addIfUsed(flagMap, usedFlags, "mode", f.Mode)
	addIfUsed(flagMap, usedFlags, "description", f.Description)
	addIfUsed(flagMap, usedFlags, "repeat", f.Repeat)
	addIfUsed(flagMap, usedFlags, "interval", f.Interval)

	addIfUsed(flagMap, usedFlags, "rsync-binary", f.RsyncBinary)
	addIfUsed(flagMap, usedFlags, "progress", f.RsyncProgress)
	addIfUsed(flagMap, usedFlags, "history-backend", f.HistoryBackend)
	addIfUsed(flagMap, usedFlags, "log-compress", f.LogCompress)
	addIfUsed(flagMap, usedFlags, "log-compress-level", f.LogCompressLevel)
	addIfUsed(flagMap, usedFlags, "scan-workers", f.ScanWorkers)

	addIfUsed(flagMap, usedFlags, "run", f.Run)
	addIfUsed(flagMap, usedFlags, "last-run", f.LastRun)
	addIfUsed(flagMap, usedFlags, "asc", f.Asc)
	addIfUsed(flagMap, usedFlags, "log", f.LogID)
	addIfUsed(flagMap, usedFlags, "limit", f.Limit)
	addIfUsed(flagMap, usedFlags, "force", f.Force)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "include-files", f.IncludeFiles, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "include-dirs", f.IncludeDirs, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "exclude-files", f.ExcludeFiles, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "exclude-dirs", f.ExcludeDirs, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "rsync-extra-args", f.RsyncExtraArgs, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "pre-backup-hooks", f.PreBackupHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-backup-hooks", f.PostBackupHooks, ParseCmdList)

	if c == Schedule {
		if _, ok := flagMap["interval"]; !ok {
			return flagMap, fmt.Errorf("the schedule command requires -interval")
		}
	}
	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Scheduled rsync backups with history.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup      Run a backup job\n")
	fmt.Fprintf(fs.Output(), "  due         List (and run) jobs whose schedule is due\n")
	fmt.Fprintf(fs.Output(), "  schedule    Describe a schedule and its next run time\n")
	fmt.Fprintf(fs.Output(), "  list        Show the backup history\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Scheduled rsync backups with history.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// It removes quotes, as they are only used for grouping items with spaces.
// It treats backslashes as literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
