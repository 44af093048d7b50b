package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the repoctl command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "repoctl",
		Short: "repoctl - Provision container image repositories",
		Long: `repoctl makes sure a container image repository exists and carries the
desired access policy, lifecycle policy and scan-on-push setting.

Core Flow:
  Validate policies → Probe repository → Create if absent → Apply policies`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./repoctl.yaml or ./config/repoctl.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")

	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newPolicyCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command and returns the process exit code
func Execute(ctx context.Context) int {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// the failed run was already reported on stdout
		if !errors.Is(err, ErrReconcileFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
