package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reelchain/internal/api"
	"reelchain/internal/apiclient"
	"reelchain/internal/events"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Create, review and inspect jobs",
	}
	jobCmd.AddCommand(newJobCreateCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobDecisionCommand(ctx, "continue", "Accept the latest stage and render the next one (or assemble after the last)"))
	jobCmd.AddCommand(newJobDecisionCommand(ctx, "regenerate", "Render the latest stage again with a new seed"))
	jobCmd.AddCommand(newJobDecisionCommand(ctx, "abandon", "Give up on the job"))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobAssembleCommand(ctx))
	jobCmd.AddCommand(newJobWatchCommand(ctx))
	return jobCmd
}

func newJobCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateJobRequest
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job and submit its first stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(req.StartImage) != "" {
				abs, err := filepath.Abs(req.StartImage)
				if err != nil {
					return fmt.Errorf("resolve start image: %w", err)
				}
				req.StartImage = abs
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				created, err := client.CreateJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, created)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created job %s (%s)\n", created.ID, created.Name)
				fmt.Fprintf(out, "Planned stages: %d, frames per segment: %d\n", created.PlannedStages, created.Settings.FramesPerSegment)
				fmt.Fprintf(out, "Directory: %s\n", created.Dir)
				fmt.Fprintf(out, "Next: %s\n", created.NextAction)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&req.Name, "name", "n", "", "Job name")
	flags.StringVarP(&req.Prompt, "prompt", "p", "", "Prompt for the first stage")
	flags.StringVarP(&req.StartImage, "image", "i", "", "Start image for the first stage")
	flags.IntVar(&req.Stages, "stages", 0, "Number of stages to plan")
	flags.IntVar(&req.DurationSeconds, "duration", 0, "Target duration in seconds (plans stages and segment length)")
	flags.Int64Var(&req.Seed, "seed", 0, "Seed for the first stage (random when 0)")
	flags.IntVar(&req.Width, "width", 0, "Override generation.width")
	flags.IntVar(&req.Height, "height", 0, "Override generation.height")
	flags.IntVar(&req.FramesPerSegment, "frames", 0, "Override frames per segment")
	flags.StringVar(&req.NegativePrompt, "negative", "", "Override the negative prompt")
	flags.StringVar(&req.HighNoiseLoRA, "high-lora", "", "LoRA applied to the high noise model")
	flags.StringVar(&req.LowNoiseLoRA, "low-lora", "", "LoRA applied to the low noise model")
	flags.BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("image")
	cmd.MarkFlagsMutuallyExclusive("stages", "duration")
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(jobs, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (created, running, awaiting_review, completed, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job and its attempt log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				j, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, j)
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderJobDetail(j, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobDecisionCommand(ctx *commandContext, action, short string) *cobra.Command {
	var prompt, image string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.DecisionRequest{Action: action, Prompt: prompt}
			if strings.TrimSpace(image) != "" {
				abs, err := filepath.Abs(image)
				if err != nil {
					return fmt.Errorf("resolve start image: %w", err)
				}
				req.StartImage = abs
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				j, err := client.Decide(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				return printJobOutcome(cmd, j, asJSON)
			})
		},
	}
	switch action {
	case "continue":
		cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt for the next stage (defaults to the previous prompt)")
	case "regenerate":
		cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Replacement prompt (defaults to the previous prompt)")
		cmd.Flags().StringVarP(&image, "image", "i", "", "Replacement start image (first stage only)")
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Stop the in-flight stage and fail the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				j, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJobOutcome(cmd, j, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobAssembleCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "assemble <id>",
		Short: "Retry assembly of a completed job whose assembly failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				j, err := client.Assemble(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJobOutcome(cmd, j, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

var errWatchDone = errors.New("watch finished")

func newJobWatchCommand(ctx *commandContext) *cobra.Command {
	var untilReview bool
	var since uint64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch [id]",
		Short: "Stream job events (all jobs when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID string
			if len(args) == 1 {
				jobID = strings.TrimSpace(args[0])
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := newJSONLines(out)
			return ctx.withClient(func(client *apiclient.Client) error {
				err := client.Watch(cmd.Context(), jobID, since, func(evt events.Event) error {
					if asJSON {
						if err := lines.write(evt); err != nil {
							return err
						}
					} else {
						fmt.Fprintln(out, formatEvent(evt, colorize))
					}
					if jobID != "" && watchFinished(evt, untilReview) {
						return errWatchDone
					}
					return nil
				})
				if errors.Is(err, errWatchDone) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&untilReview, "until-review", false, "Exit when the job is waiting for a review decision")
	cmd.Flags().Uint64Var(&since, "since", 0, "Replay buffered events after this sequence number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print each event as one JSON line")
	return cmd
}

// watchFinished reports whether a single-job watch should stop after evt.
func watchFinished(evt events.Event, untilReview bool) bool {
	switch evt.Type {
	case events.JobCompleted, events.JobFailed, events.AssemblyFailed:
		return true
	case events.JobAwaitingReview:
		return untilReview
	case events.StageFailed:
		return untilReview
	default:
		return false
	}
}

func printJobOutcome(cmd *cobra.Command, j api.Job, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, j)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s: %s\n", j.ID, humanLabel(j.Phase))
	fmt.Fprintf(out, "Next: %s\n", j.NextAction)
	return nil
}
