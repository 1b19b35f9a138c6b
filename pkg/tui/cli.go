// Package tui holds the small amount of terminal dressing the CLI
// uses: a byte-progress bar for file inputs.
package tui

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ShowProgress creates a progress bar for one input. It draws on
// stderr so the data stream stays clean, and clears itself when done.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
