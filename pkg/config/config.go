package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-rsync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-rsync/pkg/filterrule"
	"github.com/paulschiretz/pgl-rsync/pkg/flagparse"
	"github.com/paulschiretz/pgl-rsync/pkg/history"
	"github.com/paulschiretz/pgl-rsync/pkg/logarchive"
	"github.com/paulschiretz/pgl-rsync/pkg/planner"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/rsync"
	"github.com/paulschiretz/pgl-rsync/pkg/schedule"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-rsync.config.json"

// AppDirName is the directory created under the user config directory.
const AppDirName = "pgl-rsync"

// LogDirName is the default run log directory inside the data directory.
const LogDirName = "logs"

type RsyncConfig struct {
	Binary   string `json:"binary"`
	DryRun   bool   `json:"dryRun"`
	Progress bool   `json:"progress"`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	ExtraArgs []string `json:"extraArgs"`
}

type HistoryConfig struct {
	Backend history.Backend `json:"backend"`
	// Path overrides the history file location. Empty means <dataDir>/<backend default>.
	Path string `json:"path,omitempty"`
}

type LogsConfig struct {
	Compress logarchive.Format `json:"compress"`
	Level    logarchive.Level  `json:"level"`
}

type ScanConfig struct {
	Workers int `json:"workers"`
}

type JobConfig struct {
	Name        string       `json:"name"`
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	Mode        planner.Mode `json:"mode"`

	IncludeFiles []string `json:"includeFiles"`
	IncludeDirs  []string `json:"includeDirs"`
	ExcludeFiles []string `json:"excludeFiles"`
	ExcludeDirs  []string `json:"excludeDirs"`

	// Schedule is a schedule.Spec in text form. Empty means the job only runs on demand.
	Schedule    string `json:"schedule"`
	Repeat      bool   `json:"repeat"`
	Description string `json:"description"`

	// PreBackup is a list of shell commands to execute before the job runs.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreBackup []string `json:"preBackup"`
	// PostBackup is a list of shell commands to execute after the job ran.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PostBackup []string `json:"postBackup"`
}

type Config struct {
	Version string `json:"version"`
	// DataDir is the directory the config was loaded from. Never added to config file.
	DataDir  string `json:"-"`
	LogLevel string `json:"logLevel"`
	// LogRoot holds one sub-directory of run logs per job. Empty means <dataDir>/logs.
	LogRoot string        `json:"logRoot"`
	Rsync   RsyncConfig   `json:"rsync"`
	History HistoryConfig `json:"history"`
	Logs    LogsConfig    `json:"logs"`
	Scan    ScanConfig    `json:"scan"`

	DefaultExcludeFiles []string `json:"defaultExcludeFiles"`
	DefaultExcludeDirs  []string `json:"defaultExcludeDirs"`

	Jobs []JobConfig `json:"jobs"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Rsync: RsyncConfig{
			Binary:    rsync.DefaultBinary,
			ExtraArgs: []string{},
		},
		History: HistoryConfig{
			Backend: history.JSON,
		},
		Logs: LogsConfig{
			Compress: logarchive.Zstd,
			Level:    logarchive.Default,
		},
		Scan: ScanConfig{
			Workers: 4, // Safe for HDDs, decent for SSDs.
		},
		DefaultExcludeFiles: []string{
			// Common temporary and system files across platforms.
			"*.tmp",       // Temporary files
			"*.temp",      // Temporary files
			"*.swp",       // Vim swap files
			"~*",          // Files starting with a tilde (often temporary)
			"desktop.ini", // Windows folder customization file
			".DS_Store",   // macOS folder customization file
			"Thumbs.db",   // Windows image thumbnail cache
		},
		DefaultExcludeDirs: []string{
			// Common temporary, system, and trash directories.
			"@eaDir",          // Synology index folder
			"#recycle",        // Synology recycle bin
			"$RECYCLE.BIN",    // Windows recycle bin
			".Trash-*",        // Linux trash on removable media
			".Spotlight-V100", // macOS index folder
		},
		Jobs: []JobConfig{},
	}
}

// DefaultDataDir returns <user config dir>/pgl-rsync.
func DefaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(dir, AppDirName), nil
}

// Load reads "pgl-rsync.config.json" from dataDir.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(dataDir string) (Config, error) {
	expanded, err := util.ExpandPath(dataDir)
	if err != nil {
		return Config{}, err
	}
	absDataDir, err := filepath.Abs(expanded)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for data directory %s: %w", dataDir, err)
	}

	configPath := filepath.Join(absDataDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config := NewDefault()
			config.DataDir = absDataDir
			return config, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.DataDir = absDataDir

	// At this point our config has been migrated if needed so override the version in the struct
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites the config file in the config's data directory.
func Generate(configToGenerate Config) error {
	if err := os.MkdirAll(configToGenerate.DataDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", configToGenerate.DataDir, err)
	}
	configPath := filepath.Join(configToGenerate.DataDir, ConfigFileName)
	// Marshal the config into nicely formatted JSON.
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := util.WriteFileAtomic(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// Job paths are expanded ("~") and cleaned in place; remote destinations are left as is.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if _, err := history.ParseBackend(c.History.Backend.String()); err != nil {
		return fmt.Errorf("history.backend: %w", err)
	}
	if _, err := logarchive.ParseFormat(string(c.Logs.Compress)); err != nil {
		return fmt.Errorf("logs.compress: %w", err)
	}
	if _, err := logarchive.ParseLevel(string(c.Logs.Level)); err != nil {
		return fmt.Errorf("logs.level: %w", err)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be at least 1")
	}
	if c.Rsync.Binary == "" {
		return fmt.Errorf("rsync.binary cannot be empty")
	}

	if err := validateGlobPatterns("defaultExcludeFiles", c.DefaultExcludeFiles); err != nil {
		return err
	}
	if err := validateGlobPatterns("defaultExcludeDirs", c.DefaultExcludeDirs); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i := range c.Jobs {
		job := &c.Jobs[i]
		if err := job.validate(); err != nil {
			return err
		}
		if _, dup := seen[job.Name]; dup {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		seen[job.Name] = struct{}{}
	}
	return nil
}

func (j *JobConfig) validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	// The name becomes part of log file and incremental directory names.
	if strings.ContainsAny(j.Name, `\/`) || j.Name == "." || j.Name == ".." {
		return fmt.Errorf("job %q: name cannot contain path separators ('/' or '\\')", j.Name)
	}
	if j.Source == "" {
		return fmt.Errorf("job %q: source cannot be empty", j.Name)
	}
	if j.Destination == "" {
		return fmt.Errorf("job %q: destination cannot be empty", j.Name)
	}
	if _, err := planner.ParseMode(j.Mode.String()); err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	if j.Mode == planner.Incremental && util.IsRemotePath(j.Destination) {
		return fmt.Errorf("job %q: incremental backups need a local destination", j.Name)
	}
	if j.Schedule != "" {
		if _, ok := schedule.Parse(j.Schedule); !ok {
			return fmt.Errorf("job %q: invalid schedule %q", j.Name, j.Schedule)
		}
	}

	var err error
	if j.Source, err = util.ExpandPath(j.Source); err != nil {
		return fmt.Errorf("job %q: could not expand source path: %w", j.Name, err)
	}
	j.Source = filepath.Clean(j.Source)
	if !util.IsRemotePath(j.Destination) {
		if j.Destination, err = util.ExpandPath(j.Destination); err != nil {
			return fmt.Errorf("job %q: could not expand destination path: %w", j.Name, err)
		}
		j.Destination = filepath.Clean(j.Destination)
	}

	for field, patterns := range map[string][]string{
		"includeFiles": j.IncludeFiles,
		"includeDirs":  j.IncludeDirs,
		"excludeFiles": j.ExcludeFiles,
		"excludeDirs":  j.ExcludeDirs,
	} {
		if err := validateGlobPatterns(fmt.Sprintf("job %q %s", j.Name, field), patterns); err != nil {
			return err
		}
	}
	return nil
}

// Job returns the job called name.
func (c *Config) Job(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}

// Selection returns the filter selection for a job. The configured default
// excludes are merged in front of the job's own excludes.
func (c *Config) Selection(j JobConfig) filterrule.Selection {
	return filterrule.Selection{
		IncludeFiles: j.IncludeFiles,
		IncludeDirs:  j.IncludeDirs,
		ExcludeFiles: util.MergeAndDeduplicate(c.DefaultExcludeFiles, j.ExcludeFiles),
		ExcludeDirs:  util.MergeAndDeduplicate(c.DefaultExcludeDirs, j.ExcludeDirs),
	}
}

// HistoryPath returns the history file location.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.DataDir, c.History.Backend.DefaultFileName())
}

// LogDir returns the run log root.
func (c *Config) LogDir() string {
	if c.LogRoot != "" {
		return c.LogRoot
	}
	return filepath.Join(c.DataDir, LogDirName)
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"data_dir", c.DataDir,
		"log_level", c.LogLevel,
		"log_dir", c.LogDir(),
		"dry_run", c.Rsync.DryRun,
		"rsync", c.Rsync.Binary,
		"history", fmt.Sprintf("%s (%s)", c.History.Backend, c.HistoryPath()),
		"log_compress", fmt.Sprintf("%s (%s)", c.Logs.Compress, c.Logs.Level),
		"scan_workers", c.Scan.Workers,
		"jobs", len(c.Jobs),
	}
	if len(c.Rsync.ExtraArgs) > 0 {
		logArgs = append(logArgs, "rsync_extra_args", strings.Join(c.Rsync.ExtraArgs, " "))
	}
	if len(c.DefaultExcludeFiles) > 0 {
		logArgs = append(logArgs, "default_exclude_files", strings.Join(c.DefaultExcludeFiles, ", "))
	}
	if len(c.DefaultExcludeDirs) > 0 {
		logArgs = append(logArgs, "default_exclude_dirs", strings.Join(c.DefaultExcludeDirs, ", "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// validateGlobPatterns checks if a list of strings are valid glob patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid glob pattern for %s: %q - %w", fieldName, pattern, err)
		}
	}
	return nil
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
//
// Job flags (-source, -destination, -mode, ...) apply to the job named by -job. If
// no such job exists and a source is given, a new ad hoc job is appended.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) (Config, error) {
	merged := base
	merged.Jobs = append([]JobConfig(nil), base.Jobs...)
	merged.Rsync.ExtraArgs = append([]string(nil), base.Rsync.ExtraArgs...)

	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Rsync.DryRun = value.(bool)
		case "rsync-binary":
			merged.Rsync.Binary = value.(string)
		case "progress":
			merged.Rsync.Progress = value.(bool)
		case "rsync-extra-args":
			merged.Rsync.ExtraArgs = value.([]string)
		case "history-backend":
			backend, err := history.ParseBackend(value.(string))
			if err != nil {
				return Config{}, err
			}
			merged.History.Backend = backend
		case "log-compress":
			format, err := logarchive.ParseFormat(value.(string))
			if err != nil {
				return Config{}, err
			}
			merged.Logs.Compress = format
		case "log-compress-level":
			level, err := logarchive.ParseLevel(value.(string))
			if err != nil {
				return Config{}, err
			}
			merged.Logs.Level = level
		case "scan-workers":
			merged.Scan.Workers = value.(int)
		case "data-dir", "job", "source", "destination", "mode", "include-files", "include-dirs",
			"exclude-files", "exclude-dirs", "description", "repeat", "interval",
			"pre-backup-hooks", "post-backup-hooks":
			// Handled below or by the caller.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}

	if command != flagparse.Backup && command != flagparse.Init {
		return merged, nil
	}

	jobName, _ := setFlags["job"].(string)
	if jobName == "" {
		if hasJobFlags(setFlags) {
			return Config{}, fmt.Errorf("job flags require -job NAME")
		}
		return merged, nil
	}

	idx := -1
	for i := range merged.Jobs {
		if merged.Jobs[i].Name == jobName {
			idx = i
			break
		}
	}
	if idx == -1 {
		if !hasJobFlags(setFlags) {
			// Unknown job without a definition; the caller reports it.
			return merged, nil
		}
		merged.Jobs = append(merged.Jobs, JobConfig{Name: jobName, Mode: planner.Sync})
		idx = len(merged.Jobs) - 1
	}
	job := &merged.Jobs[idx]

	for name, value := range setFlags {
		switch name {
		case "source":
			job.Source = value.(string)
		case "destination":
			job.Destination = value.(string)
		case "mode":
			mode, err := planner.ParseMode(value.(string))
			if err != nil {
				return Config{}, err
			}
			job.Mode = mode
		case "include-files":
			job.IncludeFiles = value.([]string)
		case "include-dirs":
			job.IncludeDirs = value.([]string)
		case "exclude-files":
			job.ExcludeFiles = value.([]string)
		case "exclude-dirs":
			job.ExcludeDirs = value.([]string)
		case "description":
			job.Description = value.(string)
		case "repeat":
			job.Repeat = value.(bool)
		case "interval":
			job.Schedule = value.(string)
		case "pre-backup-hooks":
			job.PreBackup = value.([]string)
		case "post-backup-hooks":
			job.PostBackup = value.([]string)
		}
	}
	return merged, nil
}

// jobFlags are the flags that define or modify a job.
var jobFlags = []string{
	"source", "destination", "mode", "include-files", "include-dirs", "exclude-files",
	"exclude-dirs", "description", "repeat", "interval", "pre-backup-hooks", "post-backup-hooks",
}

func hasJobFlags(setFlags map[string]any) bool {
	for _, name := range jobFlags {
		if _, ok := setFlags[name]; ok {
			return true
		}
	}
	return false
}
