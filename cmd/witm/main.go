// Command witm migrates work item artifact links (branches, commits,
// changesets, pull requests) from a source to a target Azure DevOps project.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/config"
	"github.com/witmigrate/witmigrate/internal/debug"
)

var (
	// Version is set at build time.
	Version = "dev"

	configPath  string
	verboseFlag bool
	quietFlag   bool
	jsonOutput  bool
)

// Signal-aware context for graceful cancellation
var (
	rootCtx    = context.Background()
	rootCancel = context.CancelFunc(func() {})
)

var rootCmd = &cobra.Command{
	Use:   "witm",
	Short: "witm - work item link migration",
	Long: `Rewrites the artifact links of migrated work items so they point at the
target organization's Git repositories instead of the source's.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("witm version %s\n", Version)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		if err := config.Initialize(configPath); err != nil {
			FatalErrorWithHint(err.Error(), "Check the file passed with --config")
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		rootCancel()
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./witm.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only print warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.Flags().Bool("version", false, "Print version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
