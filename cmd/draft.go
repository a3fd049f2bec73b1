package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxtriage/internal/llm"
	"github.com/teemow/inboxtriage/internal/session"
)

const draftHelp = `Commands:
  a, approve           save the draft to Gmail and mark the thread drafted
  r, regenerate TEXT   revise the draft following TEXT
  g, generate          start over with a fresh draft
  s, skip              discard the draft
  q, quit              leave without changing anything
`

func newDraftCmd() *cobra.Command {
	var promptFile string

	cmd := &cobra.Command{
		Use:   "draft THREAD_ID",
		Short: "Draft a reply to a thread interactively",
		Long: `Generates a reply draft for the thread and lets you refine it with
instructions until you approve it (the draft is saved to Gmail and the
thread is labeled workflow_drafted) or skip it.

A draft that was in progress for the thread is restored from history.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			client, err := a.gmailClient(ctx)
			if err != nil {
				return err
			}
			model, err := a.model(ctx)
			if err != nil {
				return err
			}
			store, err := a.historyStore(ctx)
			if err != nil {
				return err
			}

			generator := llm.NewDraftGenerator(model, a.metrics)
			if promptFile != "" {
				prompt, err := readPrompt(promptFile)
				if err != nil {
					return err
				}
				generator = generator.WithPrompt(prompt)
			}

			policy := a.cfg.RetryPolicy()
			manager, err := session.NewManager(session.Deps{
				Generator: generator,
				Loader:    client,
				Saver:     client,
				Labels:    a.executor(client),
				History:   store,
				Policy:    &policy,
				Logger:    a.logger,
				Metrics:   a.metrics,
			}, a.cfg.Session)
			if err != nil {
				return err
			}

			s := manager.Open(ctx, args[0])
			defer s.Close(ctx)

			return runDraftLoop(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout())
		}),
	}

	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "Replace the default drafting prompt with the contents of this file")
	return cmd
}

// draftSession is the part of *session.Session the loop drives.
type draftSession interface {
	Draft() string
	Generate(ctx context.Context) session.Outcome
	Regenerate(ctx context.Context, instructions string) session.Outcome
	Approve(ctx context.Context) session.Outcome
	Skip(ctx context.Context) session.Outcome
}

// runDraftLoop reads commands from in until the draft is approved or
// skipped, or input ends.
func runDraftLoop(ctx context.Context, s draftSession, in io.Reader, out io.Writer) error {
	if draft := s.Draft(); draft != "" {
		fmt.Fprintln(out, "Restored the draft in progress:")
		printDraft(out, draft)
	} else {
		printOutcome(out, s.Generate(ctx))
	}
	fmt.Fprint(out, draftHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		verb, rest, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToLower(verb) {
		case "":
			continue
		case "a", "approve":
			o := s.Approve(ctx)
			printOutcome(out, o)
			if o.Status == session.StatusSucceeded || o.Status == session.StatusSavedWithWarning {
				return nil
			}
		case "r", "regenerate":
			if rest == "" {
				fmt.Fprintln(out, "regenerate needs instructions, e.g. 'r make it shorter'")
				continue
			}
			printOutcome(out, s.Regenerate(ctx, rest))
		case "g", "generate":
			printOutcome(out, s.Generate(ctx))
		case "s", "skip":
			o := s.Skip(ctx)
			printOutcome(out, o)
			if o.Status == session.StatusSucceeded {
				return nil
			}
		case "q", "quit", "exit":
			return nil
		case "h", "help", "?":
			fmt.Fprint(out, draftHelp)
		default:
			fmt.Fprintf(out, "unknown command %q\n", verb)
			fmt.Fprint(out, draftHelp)
		}
	}
}

func printOutcome(out io.Writer, o session.Outcome) {
	if !o.Visible() {
		return
	}
	if o.Status == session.StatusFailed {
		fmt.Fprintf(out, "error: %s\n", o.Message)
		return
	}
	if o.Message == session.MessageDraftReady && o.Draft != "" {
		printDraft(out, o.Draft)
	} else if o.Message != "" {
		fmt.Fprintln(out, o.Message)
	}
	if o.Warning != "" {
		fmt.Fprintf(out, "warning: %s\n", o.Warning)
	}
}

func printDraft(out io.Writer, draft string) {
	rule := strings.Repeat("-", 60)
	fmt.Fprintf(out, "%s\n%s\n%s\n", rule, draft, rule)
}
