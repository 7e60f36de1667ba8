package preflight

// Plan selects the checks Run performs.
type Plan struct {
	SourceAccessible bool
	TargetAccessible bool
	BinaryAvailable  bool
	FreeSpace        bool

	// Global Flags
	DryRun bool
}

// DefaultPlan enables every check.
func DefaultPlan(dryRun bool) *Plan {
	return &Plan{
		SourceAccessible: true,
		TargetAccessible: true,
		BinaryAvailable:  true,
		FreeSpace:        true,
		DryRun:           dryRun,
	}
}
