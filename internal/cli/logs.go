package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	logsFollow    bool
	logsComponent string
)

// logsPollInterval is how often --follow checks the log file for new lines.
const logsPollInterval = 250 * time.Millisecond

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the log of the folder's watcher",
	Long: `Print the entries of the folder's log file (.tandem/logs/tandem.log).

By default, prints existing entries and exits.
Use --follow to keep printing new entries (like tail -f).
Use --component to only show one pipeline step, e.g. ChannelWatcher/initialDiff.`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (tail -f behavior)")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Filter to a component (prefix match)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	// Handle Ctrl+C gracefully for follow mode
	ctx := context.Background()
	if logsFollow {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
	}

	f, err := openFolder(dirFlag, false)
	if err != nil {
		return err
	}
	defer f.Close()

	path := f.cfg.LogFile()
	if path == "" {
		return fmt.Errorf("logging to a file is disabled (logging.file is empty)")
	}

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no log file yet. Start with: tandem watch")
	}
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	return printLogs(ctx, file, cmd.OutOrStdout(), logsComponent, logsFollow)
}

// printLogs copies formatted entries from r to w. With follow set it keeps
// polling r for appended lines until ctx is cancelled.
func printLogs(ctx context.Context, r io.Reader, w io.Writer, component string, follow bool) error {
	reader := bufio.NewReader(r)
	var partial string
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			printLogLine(w, partial+line, component)
			partial = ""
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read log file: %w", err)
		}

		// Keep an unterminated line until the rest of it is written.
		partial += line
		if !follow {
			if partial != "" {
				printLogLine(w, partial, component)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(logsPollInterval):
		}
	}
}

func printLogLine(w io.Writer, line, component string) {
	entry, ok := parseLogLine(line)
	if !ok {
		return
	}
	if component != "" && !strings.HasPrefix(entry.component, component) {
		return
	}
	fmt.Fprintln(w, entry.format())
}

type logEntry struct {
	time      time.Time
	level     string
	component string
	msg       string
	attrs     map[string]any
}

// parseLogLine decodes one line written by the JSON file handler.
func parseLogLine(line string) (logEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return logEntry{}, false
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logEntry{}, false
	}

	entry := logEntry{attrs: raw}
	if s, ok := raw["time"].(string); ok {
		entry.time, _ = time.Parse(time.RFC3339Nano, s)
	}
	entry.level, _ = raw["level"].(string)
	entry.component, _ = raw["component"].(string)
	entry.msg, _ = raw["msg"].(string)
	delete(raw, "time")
	delete(raw, "level")
	delete(raw, "component")
	delete(raw, "msg")
	return entry, true
}

// format renders an entry as:
// [HH:MM:SS] [LEVEL] [component] message key=value ...
func (e logEntry) format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] [%s] %s",
		e.time.Local().Format("15:04:05"),
		formatLogLevel(e.level),
		formatComponent(e.component),
		e.msg)

	keys := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.attrs[k])
	}
	return b.String()
}

// formatLogLevel formats log level with consistent width.
func formatLogLevel(level string) string {
	// Pad to 5 chars for alignment (DEBUG, INFO, WARN, ERROR)
	switch level {
	case "INFO", "WARN":
		return level + " "
	default:
		return level
	}
}

func formatComponent(component string) string {
	if component == "" {
		return "tandem"
	}
	return component
}
