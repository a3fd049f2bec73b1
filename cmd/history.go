package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain drafting conversation history",
	}
	cmd.AddCommand(newHistoryShowCmd(), newHistoryClearCmd(), newHistoryPruneCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show THREAD_ID",
		Short: "Show the drafting conversation of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			store, err := a.historyStore(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rec := store.Read(ctx, args[0])
			if rec.Empty() {
				fmt.Fprintf(out, "no history for thread %s\n", args[0])
				return nil
			}

			fmt.Fprintf(out, "thread %s, updated %s\n", rec.ThreadID, rec.UpdatedAt.Local().Format(time.RFC3339))
			for i, e := range rec.Entries {
				fmt.Fprintf(out, "\n[%d] %s:\n%s\n", i+1, e.Role, e.Content)
			}
			if rec.CurrentDraft != "" {
				fmt.Fprintf(out, "\ncurrent draft:\n%s\n", rec.CurrentDraft)
			}
			return nil
		}),
	}
}

func newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear THREAD_ID",
		Short: "Forget the drafting conversation of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			store, err := a.historyStore(ctx)
			if err != nil {
				return err
			}
			if w := store.Clear(ctx, args[0]); w != nil {
				return w
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared history for thread %s\n", args[0])
			return nil
		}),
	}
}

func newHistoryPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired conversations and cap the number kept",
		Args:  cobra.NoArgs,
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			store, err := a.historyStore(ctx)
			if err != nil {
				return err
			}
			n, err := store.Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d conversation(s)\n", n)
			return nil
		}),
	}
}
