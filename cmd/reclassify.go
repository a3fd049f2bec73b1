package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxtriage/internal/gmail"
	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/llm"
	"github.com/teemow/inboxtriage/internal/triage"
)

func newReclassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify THREAD_ID MESSAGE_ID",
		Short: "Refresh the labels of a thread after a new message",
		Long: `Handles MESSAGE_ID as a new arrival in THREAD_ID. A message you sent clears
the thread's workflow label. Any other message has the thread classified
and the newest messages get the resulting ai_* labels.`,
		Args: cobra.ExactArgs(2),
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			client, err := a.gmailClient(ctx)
			if err != nil {
				return err
			}
			r, err := a.reclassifier(ctx, client)
			if err != nil {
				return err
			}

			report, err := r.HandleInbound(ctx, triage.Event{ThreadID: args[0], MessageID: args[1]})
			printReport(cmd.OutOrStdout(), report)
			return err
		}),
	}
}

// reclassifier wires the classifier and label executor to client. The
// classifier is told about the AI labels the account already has.
func (a *app) reclassifier(ctx context.Context, client *gmail.Client) (*triage.Reclassifier, error) {
	model, err := a.model(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := client.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.Name)
	}

	policy := a.cfg.RetryPolicy()
	classifier := llm.NewClassifier(model, a.metrics, labels.WithPrefix(names, labels.AIPrefix))
	return triage.NewReclassifier(client, a.executor(client), classifier, client, triage.Options{
		ContextWindow: a.cfg.Labels.ContextWindow,
		ApplyWindow:   a.cfg.Labels.ApplyWindow,
		Policy:        &policy,
		Timeout:       a.cfg.LLM.Timeout,
		Logger:        a.logger,
		Metrics:       a.metrics,
	}), nil
}

func printReport(out io.Writer, r triage.Report) {
	fmt.Fprintf(out, "thread %s message %s: %s\n", r.ThreadID, r.MessageID, r.Outcome)
	if len(r.Labels) > 0 {
		fmt.Fprintf(out, "  labels: %s\n", strings.Join(r.Labels, ", "))
	}
	if len(r.Stripped) > 0 {
		fmt.Fprintf(out, "  ignored: %s\n", strings.Join(r.Stripped, ", "))
	}
	if r.Skipped != "" {
		fmt.Fprintf(out, "  skipped: %s\n", r.Skipped)
	}
	printResult(out, r.Result)
}

func printResult(out io.Writer, res *labels.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(out, "  updated %d, unchanged %d, failed %d\n", len(res.Updated), len(res.Unchanged), len(res.Failed))
	for _, id := range res.Failed {
		fmt.Fprintf(out, "  %s: %v\n", id, res.Errors[id])
	}
}
