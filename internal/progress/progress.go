// Package progress renders terminal feedback for remote calls and upload
// batches. Bars are only drawn when stderr is a terminal.
package progress

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Spinner is an indeterminate indicator shown while a remote call runs
type Spinner struct {
	bar *progressbar.ProgressBar
}

// StartSpinner shows description with a spinner on stderr. It returns a
// silent spinner when stderr is not a terminal.
func StartSpinner(description string) *Spinner {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return &Spinner{}
	}
	return newSpinner(os.Stderr, description)
}

func newSpinner(w io.Writer, description string) *Spinner {
	return &Spinner{bar: progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)}
}

// Describe replaces the spinner label
func (s *Spinner) Describe(description string) {
	if s != nil && s.bar != nil {
		s.bar.Describe(description)
	}
}

// Stop clears the spinner
func (s *Spinner) Stop() {
	if s != nil && s.bar != nil {
		_ = s.bar.Finish()
	}
}
