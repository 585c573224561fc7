package preflight

import (
	"context"

	"reelchain/internal/config"
	"reelchain/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Report is the full set of readiness results.
type Report struct {
	Checks       []Result
	Dependencies []deps.Status
	Render       RenderResult
}

// Passed reports whether every check passed and no required binary is missing.
func (r Report) Passed() bool {
	for _, check := range r.Checks {
		if !check.Passed {
			return false
		}
	}
	return len(deps.MissingRequired(r.Dependencies)) == 0 && r.Render.Reachable
}

// RunAll executes every check for cfg. A nil probe skips the render service
// check.
func RunAll(ctx context.Context, cfg *config.Config, probe RenderProbe) Report {
	if cfg == nil {
		return Report{}
	}
	report := Report{
		Checks: []Result{
			CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
			CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		},
		Dependencies: CheckSystemDeps(ctx, cfg),
	}
	if probe != nil {
		report.Render = CheckRenderService(ctx, cfg.Render.URL, probe)
		report.Checks = append(report.Checks, report.Render.Result())
	}
	return report
}
