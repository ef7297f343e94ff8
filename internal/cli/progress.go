package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// scanProgress shows a spinner counting the changes recorded during a
// scan. The total is unknown until the scan ends.
type scanProgress struct {
	quiet    bool
	bar      *progressbar.ProgressBar
	recorded int
}

func newScanProgress(w io.Writer, quiet bool) *scanProgress {
	p := &scanProgress{quiet: quiet}
	if quiet {
		return p
	}
	p.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("changes/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
	return p
}

// OnRecorded counts one change applied to the store.
func (p *scanProgress) OnRecorded() {
	p.recorded++
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Finish stops the spinner and returns the number of recorded changes.
func (p *scanProgress) Finish() int {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	return p.recorded
}
