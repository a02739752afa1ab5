package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/roundsync/internal/model"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Round state commands",
	}

	cmd.AddCommand(newStateSetCmd())

	return cmd
}

func newStateSetCmd() *cobra.Command {
	var (
		roundFlag string
		hole      int
		status    string
		expect    int64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the current hole or status of a round",
		Example: `  roundsync state set --hole 4
  roundsync state set --status completed --expect-version 7
  roundsync state set --status none`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID, err := cfg.Round([]string{roundFlag})
			if err != nil {
				return err
			}

			body := map[string]any{}
			if cmd.Flags().Changed("hole") {
				body["currentHole"] = hole
			}
			if cmd.Flags().Changed("status") {
				switch status {
				case "none", "":
					body["status"] = nil
				default:
					if !model.RoundStatus(status).Valid() {
						return fmt.Errorf("invalid status %q: must be in-progress, completed or none", status)
					}
					body["status"] = status
				}
			}
			if cmd.Flags().Changed("expect-version") {
				body["expectedVersion"] = expect
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to change; pass --hole or --status")
			}

			var result model.RoundState
			if err := client.Patch(cmd.Context(), roundPath(roundID)+"/state", body, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&roundFlag, "round", "", "Round ID (defaults to the joined round)")
	cmd.Flags().IntVar(&hole, "hole", 0, "Current hole")
	cmd.Flags().StringVar(&status, "status", "", "Status: in-progress, completed, none")
	cmd.Flags().Int64Var(&expect, "expect-version", 0, "Only apply if the state is at this version")

	return cmd
}
