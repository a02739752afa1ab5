package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/mcoot/roundsync/internal/client/reducer"
	"github.com/mcoot/roundsync/internal/client/subscription"
	"github.com/mcoot/roundsync/internal/client/wsdial"
	"github.com/mcoot/roundsync/internal/dependencies/random"
	"github.com/mcoot/roundsync/internal/model"
)

// ErrSubscriptionRejected is returned when the server refuses the stream
var ErrSubscriptionRejected = errors.New("subscription rejected by server")

func newWatchCmd() *cobra.Command {
	var scorecard bool

	cmd := &cobra.Command{
		Use:   "watch [round-id]",
		Short: "Stream live changes to a round",
		Long: `Connect to the round's event stream and print every change as it
happens. The connection is retried with backoff if it drops; a rejected
session ends the command.

Press Ctrl+C to disconnect.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID, err := cfg.Round(args)
			if err != nil {
				return err
			}
			return watchRound(cmd.Context(), cmd, roundID, scorecard)
		},
	}

	cmd.Flags().BoolVar(&scorecard, "scorecard", false, "Reprint the scorecard after every change")

	return cmd
}

func watchRound(ctx context.Context, cmd *cobra.Command, roundID model.RoundID, scorecard bool) error {
	if cfg.SessionID == "" {
		return fmt.Errorf("watching needs a session; run `round join` first")
	}

	wsURL, err := client.SubscribeURL(roundID)
	if err != nil {
		return err
	}

	var snap model.Snapshot
	if err := client.Get(ctx, roundPath(roundID), &snap); err != nil {
		return err
	}

	var mu sync.Mutex
	out := NewOutput(cfg.Output, cmd.OutOrStdout())
	store := reducer.NewStore(snap)
	resync := reducer.NewResync(store)

	logger := newLogger()
	sub := subscription.New(
		subscription.DefaultConfig(wsURL, model.SessionID(cfg.SessionID)),
		wsdial.New(wsdial.DefaultConfig(), nil, logger),
		clockwork.NewRealClock(),
		random.New(),
		subscription.AlwaysOnline{},
		logger,
	)
	defer sub.Close()

	sub.OnStatus(func(s subscription.Status) {
		mu.Lock()
		out.PrintStatus(s)
		mu.Unlock()

		if s != subscription.StatusOpen {
			return
		}
		// Events missed while disconnected are not replayed, so refetch.
		// Events arriving meanwhile are held and applied on top.
		epoch := resync.Begin()
		go func() {
			var fresh model.Snapshot
			if err := client.Get(ctx, roundPath(roundID), &fresh); err != nil {
				logger.Warn("failed to refresh round", slog.Any("error", err))
				resync.Abandon(epoch)
				return
			}
			resync.Finish(epoch, fresh)
		}()
	})

	sub.OnEvent(func(e model.DomainEvent) {
		resync.Apply(e)

		mu.Lock()
		defer mu.Unlock()
		out.PrintEvent(e)
		if scorecard {
			out.Print(store.Snapshot())
		}
	})

	sub.Start()

	select {
	case <-ctx.Done():
		sub.Close()
		return nil
	case <-sub.Done():
		if ctx.Err() != nil {
			return nil
		}
		return ErrSubscriptionRejected
	}
}
