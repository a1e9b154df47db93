package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orepkg/ore/version"
)

// exitOK, exitRecoverable and exitUsage are the process exit codes:
// success, recoverable failure, and usage error.
const (
	exitOK          = 0
	exitRecoverable = 1
	exitUsage       = 2
)

var showVersion bool

// RootCmd is the `ore` binary's top-level command.
var RootCmd = &cobra.Command{
	Use:   "ore",
	Short: "ore manages JavaScript-style package dependency trees",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		cmd.Usage()
	},
}

func init() {
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
	RootCmd.AddCommand(applyCmd)
	RootCmd.AddCommand(reapplyCmd)
	RootCmd.AddCommand(addCmd)
	RootCmd.AddCommand(removeCmd)
	RootCmd.AddCommand(viewCmd)
	RootCmd.AddCommand(pingCmd)
}

// bindApplyFlags attaches the flags shared by apply/reapply/add/remove.
func bindApplyFlags(cmd *cobra.Command, opts *resolveApplyOptions) {
	cmd.Flags().BoolVar(&opts.locked, "locked", false, "replay the lockfile exactly, no registry or git network calls")
	cmd.Flags().BoolVar(&opts.noScripts, "no-scripts", false, "skip lifecycle scripts")
	cmd.Flags().BoolVar(&opts.noLockfile, "no-lockfile", false, "do not write the lockfile")
	cmd.Flags().BoolVar(&opts.preferOffline, "prefer-offline", false, "serve cached packuments without revalidating when available")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "bound parallel extraction/script execution (default from config)")
	cmd.Flags().BoolVar(&opts.isolated, "isolated", false, "use isolated placement instead of the configured default")
	cmd.Flags().BoolVar(&opts.validate, "validate", false, "verify every cached blob's digest before resolving; corrupt blobs are removed, their keys tombstoned, and the run fails")
}

// exitf prints an error (kind, message, fields) and returns the exit
// code the caller should pass to os.Exit.
func exitf(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "ore:", err)
	return exitRecoverable
}
