package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/tandem/internal/config"
	"github.com/mvp-joe/tandem/internal/daemon"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the synchronized folder",
	Long: `Show the state of the synchronized folder.

Displays:
- Whether a tandem process is watching the folder
- Document counts and the last change sequence of the store
- Active one-shot flags`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

type statusReport struct {
	Folder        string `json:"folder"`
	Watching      bool   `json:"watching"`
	Files         int    `json:"files"`
	Folders       int    `json:"folders"`
	Trashed       int    `json:"trashed"`
	LastSeq       int64  `json:"last_seq"`
	DateMigration bool   `json:"date_migration"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	f, err := openFolder(dirFlag, false)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := collectStatus(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		jsonBytes, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(jsonBytes))
		return nil
	}
	formatStatus(out, report)
	return nil
}

func collectStatus(ctx context.Context, f *folder) (*statusReport, error) {
	watching, err := daemon.NewSingleton(f.stateDir()).Held()
	if err != nil {
		return nil, err
	}
	counts, err := f.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := f.store.LastSeq(ctx)
	if err != nil {
		return nil, err
	}

	return &statusReport{
		Folder:        f.cfg.Sync.Path,
		Watching:      watching,
		Files:         counts.Files,
		Folders:       counts.Folders,
		Trashed:       counts.Trashed,
		LastSeq:       seq,
		DateMigration: f.flags.IsFlagActive(config.FlagDateMigration),
	}, nil
}

func formatStatus(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Folder: %s\n", r.Folder)
	if r.Watching {
		fmt.Fprintln(w, "  Status:   watching")
	} else {
		fmt.Fprintln(w, "  Status:   not running")
	}
	fmt.Fprintf(w, "  Files:    %s\n", formatNumber(r.Files))
	fmt.Fprintf(w, "  Folders:  %s\n", formatNumber(r.Folders))
	fmt.Fprintf(w, "  Trashed:  %s\n", formatNumber(r.Trashed))
	fmt.Fprintf(w, "  Last seq: %d\n", r.LastSeq)
	if r.DateMigration {
		fmt.Fprintln(w, "  Pending:  date migration (runs on the next scan)")
	}
}

// formatNumber formats integer with thousand separators.
// Examples: 1234 -> "1,234", 1234567 -> "1,234,567"
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	var result []byte
	for i := range len(str) {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, str[i])
	}
	return string(result)
}
