package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/roundsync/internal/model"
)

func newPlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Player commands",
	}

	cmd.AddCommand(newPlayerUpdateCmd())

	return cmd
}

func newPlayerUpdateCmd() *cobra.Command {
	var (
		roundFlag string
		name      string
		color     string
	)

	cmd := &cobra.Command{
		Use:   "update [player-id]",
		Short: "Change a player's name or color",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID, err := cfg.Round([]string{roundFlag})
			if err != nil {
				return err
			}

			playerID := cfg.PlayerID
			if len(args) > 0 {
				playerID = model.PlayerID(args[0])
			}
			if playerID == "" {
				return fmt.Errorf("no player given and no joined player")
			}

			body := map[string]any{}
			if cmd.Flags().Changed("name") {
				body["name"] = name
			}
			if cmd.Flags().Changed("color") {
				body["color"] = color
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to change; pass --name or --color")
			}

			var result model.Player
			path := fmt.Sprintf("%s/players/%s", roundPath(roundID), playerID)
			if err := client.Patch(cmd.Context(), path, body, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&roundFlag, "round", "", "Round ID (defaults to the joined round)")
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&color, "color", "", "New color, e.g. #FF5722")

	return cmd
}
