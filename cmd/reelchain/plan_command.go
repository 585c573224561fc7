package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"reelchain/internal/api"
	"reelchain/internal/apiclient"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "plan <seconds>",
		Short:       "Show the stage plan and render estimate for a target duration",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.Atoi(args[0])
			if err != nil || seconds <= 0 {
				return fmt.Errorf("duration must be a positive number of seconds, got %q", args[0])
			}
			plan, err := fetchPlan(cmd, ctx, seconds)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, plan)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderPlan(plan))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// fetchPlan asks the daemon and falls back to local planning when it is not
// running.
func fetchPlan(cmd *cobra.Command, ctx *commandContext, seconds int) (api.PlanResponse, error) {
	client, err := ctx.apiClient()
	if err == nil {
		plan, err := client.Plan(cmd.Context(), seconds)
		if err == nil {
			return plan, nil
		}
		if !apiclient.IsAPIUnavailable(err) {
			return api.PlanResponse{}, wrapAPIError(err, ctx.apiBind())
		}
	}
	return api.FromPlan(seconds), nil
}

func renderPlan(plan api.PlanResponse) string {
	rows := make([][]string, 0, len(plan.Stages))
	frames := 0
	for _, stage := range plan.Stages {
		rows = append(rows, []string{strconv.Itoa(stage.Stage), strconv.Itoa(stage.Seconds), strconv.Itoa(stage.Frames)})
		frames += stage.Frames
	}
	table := renderTable(planColumns, rows, []string{"Total", strconv.Itoa(plan.TotalSeconds), strconv.Itoa(frames)})
	return fmt.Sprintf("%s\nTarget %ds, planned %ds in %d stages of %ds (%d frames each)\nEstimated render time: %s\n",
		table, plan.DurationSeconds, plan.TotalSeconds, len(plan.Stages), plan.SegmentSeconds, plan.FramesPerSegment, plan.Estimate)
}
