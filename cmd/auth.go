package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize inboxtriage to read and label your Gmail",
		Long: `Prints an authorization URL for the selected account. Open it, grant access
and paste the code shown by Google. The token is cached in the token
directory and used by every other command.`,
		Args: cobra.NoArgs,
		RunE: withApp(appOptions{}, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			g := a.cfg.Google
			if err := g.Validate(); err != nil {
				return err
			}

			acct := a.cfg.Gmail.Account
			out := cmd.OutOrStdout()
			if g.HasTokenForAccount(acct) {
				fmt.Fprintf(out, "A token for account %q already exists and will be replaced.\n", acct)
			}
			fmt.Fprintf(out, "Open this URL in your browser and authorize access:\n\n%s\n\nAuthorization code: ", g.AuthURL(acct))

			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				return fmt.Errorf("no authorization code entered")
			}
			code := strings.TrimSpace(scanner.Text())
			if code == "" {
				return fmt.Errorf("no authorization code entered")
			}

			if err := g.SaveTokenForAccount(ctx, acct, code); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved token for account %q.\n", acct)
			return nil
		}),
	}
}
