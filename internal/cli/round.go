package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/roundsync/internal/model"
)

func newRoundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round",
		Short: "Round commands",
	}

	cmd.AddCommand(newRoundCreateCmd())
	cmd.AddCommand(newRoundJoinCmd())
	cmd.AddCommand(newRoundShowCmd())

	return cmd
}

func newRoundCreateCmd() *cobra.Command {
	var (
		course string
		par    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new round",
		Example: `  roundsync round create --course "Pebble Creek" --par 4,3,5,4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			holes, err := parsePar(par)
			if err != nil {
				return err
			}

			body := map[string]any{"courseName": course, "par": holes}

			var result model.Snapshot
			if err := client.Post(cmd.Context(), "/api/v1/rounds", body, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&course, "course", "", "Course name (required)")
	cmd.Flags().StringVar(&par, "par", "", "Comma-separated par per hole (required)")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("par")

	return cmd
}

func newRoundJoinCmd() *cobra.Command {
	var (
		name  string
		color string
	)

	cmd := &cobra.Command{
		Use:   "join <access-code>",
		Short: "Join a round and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"accessCode": args[0],
				"playerName": name,
			}
			if color != "" {
				body["color"] = color
			}

			var result JoinResult
			if err := client.Post(cmd.Context(), "/api/v1/rounds/join", body, &result); err != nil {
				return err
			}

			saved := SavedSession{
				SessionID: result.SessionID,
				RoundID:   result.Snapshot.RoundID(),
				PlayerID:  result.Player.PlayerID,
			}
			if err := cfg.SaveSession(saved); err != nil {
				return fmt.Errorf("failed to save session: %w", err)
			}
			client.SetSession(string(result.SessionID))

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Player name (required)")
	cmd.Flags().StringVar(&color, "color", "", "Player color, e.g. #FF5722")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newRoundShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [round-id]",
		Short: "Show a round's scorecard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID, err := cfg.Round(args)
			if err != nil {
				return err
			}

			var result model.Snapshot
			if err := client.Get(cmd.Context(), roundPath(roundID), &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}

func parsePar(s string) ([]int, error) {
	var par []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid par %q: must be a number", part)
		}
		par = append(par, n)
	}
	if len(par) == 0 {
		return nil, fmt.Errorf("par must list at least one hole")
	}
	return par, nil
}
