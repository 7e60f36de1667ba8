package hook

type Plan struct {
	Enabled bool

	PreHookCommands  []string
	PostHookCommands []string

	// Global Flags
	DryRun   bool
	FailFast bool
}

// NewPlan returns an enabled plan for a job's commands. Failures are logged, not returned.
func NewPlan(pre, post []string, dryRun bool) *Plan {
	return &Plan{
		Enabled:          len(pre) > 0 || len(post) > 0,
		PreHookCommands:  pre,
		PostHookCommands: post,
		DryRun:           dryRun,
	}
}
