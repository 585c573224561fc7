package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"reelchain/internal/api"
	"reelchain/internal/apiclient"
	"reelchain/internal/preflight"
	"reelchain/internal/services/comfyui"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, render service and dependency status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			client, err := ctx.apiClient()
			if err == nil {
				status, statusErr := client.Status(cmd.Context())
				if statusErr == nil {
					if asJSON {
						return writeJSON(cmd, status)
					}
					fmt.Fprint(out, renderDaemonStatus(status, colorize))
					return nil
				}
				if !apiclient.IsAPIUnavailable(statusErr) {
					return wrapAPIError(statusErr, ctx.apiBind())
				}
			}

			status, err := localStatus(cmd, ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			fmt.Fprint(out, renderDaemonStatus(status, colorize))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// localStatus runs the preflight checks in-process when no daemon answers.
func localStatus(cmd *cobra.Command, ctx *commandContext) (api.DaemonStatus, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return api.DaemonStatus{}, err
	}
	status := api.DaemonStatus{
		OutputDir:    cfg.Paths.OutputDir,
		IndexPath:    cfg.IndexPath(),
		LockFilePath: cfg.LockPath(),
	}
	var probe preflight.RenderProbe
	if client, err := comfyui.New(cfg.Render.URL, comfyui.WithRequestTimeout(cfg.RenderRequestTimeout())); err == nil {
		probe = client
	}
	report := preflight.RunAll(cmd.Context(), cfg, probe)
	for _, check := range report.Checks {
		status.Checks = append(status.Checks, api.CheckResult{Name: check.Name, Passed: check.Passed, Detail: check.Detail})
	}
	for _, dep := range report.Dependencies {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		})
	}
	status.Render = api.RenderStatus{
		URL:       report.Render.URL,
		Reachable: report.Render.Reachable,
		Running:   report.Render.Running,
		Pending:   report.Render.Pending,
		Detail:    report.Render.Detail,
	}
	return status, nil
}

func renderDaemonStatus(status api.DaemonStatus, colorize bool) string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if status.Running {
		detail := fmt.Sprintf("PID %d", status.PID)
		if status.StartedAt != "" {
			detail += ", since " + formatDisplayTime(status.StartedAt)
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
		lines = append(lines, renderStatusLine("Scheduler", statusInfo,
			fmt.Sprintf("%d workers, %d pending, %d active, %d completed", status.Scheduler.Workers, status.Scheduler.Pending, status.Scheduler.Active, status.Scheduler.Completed), colorize))
		if status.Scheduler.Panics > 0 {
			lines = append(lines, renderStatusLine("Task panics", statusWarn, fmt.Sprintf("%d", status.Scheduler.Panics), colorize))
		}
		lines = append(lines, renderStatusLine("Event clients", statusInfo, fmt.Sprintf("%d", status.EventClients), colorize))
		lines = append(lines, renderStatusLine("Jobs", statusInfo, formatJobCounts(status.Jobs), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
	}
	lines = append(lines, renderStatusLine("Output", statusInfo, status.OutputDir, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Render service", colorize)...)
	renderKind := statusOK
	if !status.Render.Reachable {
		renderKind = statusError
	}
	detail := status.Render.Detail
	if detail == "" {
		detail = status.Render.URL
	}
	lines = append(lines, renderStatusLine("ComfyUI", renderKind, detail, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Checks", colorize)...)
	for _, check := range status.Checks {
		if check.Name == "Render service" {
			continue
		}
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	for _, dep := range status.Dependencies {
		kind := statusOK
		message := dep.Command
		if dep.Version != "" {
			message = dep.Version
		}
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			message = dep.Detail
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, message, colorize))
	}
	return strings.Join(lines, "\n") + "\n"
}

func formatJobCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", humanLabel(key), counts[key]))
	}
	return strings.Join(parts, ", ")
}
