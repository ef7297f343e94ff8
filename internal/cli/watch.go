package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/tandem/internal/daemon"
	"github.com/mvp-joe/tandem/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the folder and record local changes",
	Long: `Watch runs the local change pipeline until interrupted.

It first scans the folder and reconciles it with the store (changes made
while tandem was not running are detected here), then records every
change as it happens.

Only one tandem process can watch a folder at a time.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	notes, unsubscribe := w.Notifier().Subscribe(256)
	defer unsubscribe()
	go logNotifications(f.log, notes)

	if err := w.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", f.cfg.Sync.Path)

	done := make(chan error, 1)
	go func() { done <- w.Wait() }()

	select {
	case <-ctx.Done():
		f.log.Info("shutting down")
		return w.Stop()
	case err := <-done:
		return err
	}
}

// logNotifications reports the pipeline activity until notes is closed.
func logNotifications(logger *slog.Logger, notes <-chan watcher.Notification) {
	for n := range notes {
		switch n.Type {
		case watcher.NotifyDispatched:
			logger.Info("local change recorded", "event", n.Event.String())
		case watcher.NotifyFatal:
			logger.Error("watcher stopped", "error", n.Err)
		case watcher.NotifySyncTarget:
			logger.Debug("sync target", "seq", n.Seq)
		default:
			logger.Debug("watcher notification", "type", n.Type)
		}
	}
}
