package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Global flags shared by every command.
var (
	configFile string
	account    string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command for the inboxtriage application
var rootCmd = &cobra.Command{
	Use:   "inboxtriage",
	Short: "Drafts replies and keeps triage labels in sync on Gmail threads",
	Long: `inboxtriage keeps the labels of your Gmail threads in sync with what
needs to happen next and drafts replies with a language model.

Threads carry at most one workflow label (workflow_to_respond,
workflow_to_read, workflow_drafted) and any number of ai_* topic labels
assigned by a classifier. Drafting a reply is an interactive session:
generate, refine with instructions, then approve or skip.

It can run as:
  - A set of one-shot commands (draft, reclassify, label, history)
  - A watcher that reclassifies threads as new mail arrives (watch)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxtriage version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ~/.config/inboxtriage/config.yaml)")
	pf.StringVar(&account, "account", "", "Google account name to use (default: 'default' or INBOXTRIAGE_ACCOUNT)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newDraftCmd())
	rootCmd.AddCommand(newReclassifyCmd())
	rootCmd.AddCommand(newLabelCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
}
