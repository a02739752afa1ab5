package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/roundsync/internal/client/reducer"
	"github.com/mcoot/roundsync/internal/model"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score commands",
	}

	cmd.AddCommand(newScoreSetCmd())

	return cmd
}

func newScoreSetCmd() *cobra.Command {
	var (
		roundFlag  string
		playerFlag string
	)

	cmd := &cobra.Command{
		Use:   "set <hole> <strokes>",
		Short: "Record strokes for a player on a hole",
		Long: `Record strokes for a player on a hole. Defaults to the joined round
and player. The new value is shown locally before the server confirms it and
is reverted if the server rejects it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hole, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid hole %q: must be a number", args[0])
			}
			strokes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid strokes %q: must be a number", args[1])
			}

			roundID, err := cfg.Round([]string{roundFlag})
			if err != nil {
				return err
			}
			playerID := model.PlayerID(playerFlag)
			if playerID == "" {
				playerID = cfg.PlayerID
			}
			if playerID == "" {
				return fmt.Errorf("no player given and no joined player; use --player")
			}

			var snap model.Snapshot
			if err := client.Get(cmd.Context(), roundPath(roundID), &snap); err != nil {
				return err
			}

			store := reducer.NewStore(snap)
			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			if cfg.Verbose {
				store.OnChange(func(s model.Snapshot) {
					if sc := s.GetScore(playerID, hole); sc != nil {
						out.PrintMessage(fmt.Sprintf("local: %s hole %d = %d", playerID, hole, sc.Strokes))
					} else {
						out.PrintMessage(fmt.Sprintf("local: %s hole %d unset", playerID, hole))
					}
				})
			}

			guess := model.NewScoreChanged(model.Score{
				RoundID:    roundID,
				PlayerID:   playerID,
				HoleNumber: hole,
				Strokes:    strokes,
				UpdatedBy:  cfg.PlayerID,
				UpdatedAt:  time.Now(),
			}, time.Now())

			var result model.Score
			err = reducer.Mutate(cmd.Context(), store, guess, func(ctx context.Context) error {
				body := map[string]any{"playerId": playerID, "holeNumber": hole, "strokes": strokes}
				return client.Put(ctx, roundPath(roundID)+"/scores", body, &result)
			})
			if err != nil {
				return err
			}

			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&roundFlag, "round", "", "Round ID (defaults to the joined round)")
	cmd.Flags().StringVar(&playerFlag, "player", "", "Player ID (defaults to the joined player)")

	return cmd
}
