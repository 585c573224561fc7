package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"reelchain/internal/apiclient"
)

func newLoRAsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "loras",
		Short: "List LoRA files installed on the render service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				loras, err := client.LoRAs(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, loras)
				}
				out := cmd.OutOrStdout()
				if len(loras) == 0 {
					fmt.Fprintln(out, "No LoRAs installed")
					return nil
				}
				rows := make([][]string, 0, len(loras))
				for i, name := range loras {
					rows = append(rows, []string{strconv.Itoa(i + 1), name})
				}
				fmt.Fprintln(out, renderTable(loraColumns, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
