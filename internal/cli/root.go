package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dirFlag string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Tandem - keep a local folder in step with its document store",
	Long: `Tandem watches a synchronized folder and records every local change
(creations, updates, moves and deletions) in the folder's document store.

Configuration is read from <folder>/.tandem/config.yml and TANDEM_*
environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "", "synchronized folder (default is the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}
