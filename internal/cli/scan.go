package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/tandem/internal/daemon"
	"github.com/mvp-joe/tandem/internal/watcher"
)

var scanQuiet bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reconcile the store with the folder once and exit",
	Long: `Scan runs the initial scan of the watcher and stops as soon as every
difference between the folder and the store has been recorded.

Examples:
  # Scan the current directory
  tandem scan

  # Scan another folder without progress output
  tandem scan --dir ~/Sync --quiet
`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVarP(&scanQuiet, "quiet", "q", false, "Suppress progress output")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f, err := openFolder(dirFlag, true)
	if err != nil {
		return err
	}
	defer f.Close()

	singleton := daemon.NewSingleton(f.stateDir())
	if err := singleton.Acquire(); err != nil {
		return err
	}
	defer singleton.Release()

	w, err := f.newWatcher()
	if err != nil {
		return err
	}

	progress := newScanProgress(cmd.ErrOrStderr(), scanQuiet)
	notes, unsubscribe := w.Notifier().Subscribe(4096)
	counted := make(chan struct{})
	go func() {
		defer close(counted)
		for n := range notes {
			if n.Type == watcher.NotifyDispatched {
				progress.OnRecorded()
			}
		}
	}()

	startErr := w.Start(ctx)
	stopErr := w.Stop()
	unsubscribe()
	<-counted
	recorded := progress.Finish()

	if startErr != nil {
		return fmt.Errorf("scan failed: %w", startErr)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop watcher: %w", stopErr)
	}

	counts, err := f.store.Count(ctx)
	if err != nil {
		return err
	}
	if !scanQuiet {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Scan complete: %s changes recorded\n", formatNumber(recorded))
		fmt.Fprintf(out, "  Files:   %s\n", formatNumber(counts.Files))
		fmt.Fprintf(out, "  Folders: %s\n", formatNumber(counts.Folders))
	}
	return nil
}
