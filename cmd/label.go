package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxtriage/internal/labels"
)

func newLabelCmd() *cobra.Command {
	var (
		workflow string
		create   bool
	)

	cmd := &cobra.Command{
		Use:   "label THREAD_ID",
		Short: "Set the workflow label of every message in a thread",
		Long: `Moves the thread to a workflow state: to_respond, to_read, drafted, or
none to remove the workflow label. Other labels are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			target, err := labels.ParseWorkflowLabel(workflow)
			if err != nil {
				return err
			}

			client, err := a.gmailClient(ctx)
			if err != nil {
				return err
			}
			if create {
				if _, err := client.EnsureLabels(ctx, workflowLabelNames()); err != nil {
					return err
				}
			}

			res, err := a.executor(client).ApplyWorkflow(ctx, args[0], target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s: %s\n", args[0], res.Update)
			printResult(cmd.OutOrStdout(), res)
			return res.Err()
		}),
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow state: to_respond, to_read, drafted or none")
	cmd.Flags().BoolVar(&create, "create-labels", false, "Create missing workflow labels in the account first")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func workflowLabelNames() []string {
	return []string{
		labels.WorkflowToRespond.Name(),
		labels.WorkflowToRead.Name(),
		labels.WorkflowDrafted.Name(),
	}
}
