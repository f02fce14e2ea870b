package output

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

var (
	colorOnce    sync.Once
	colorEnabled bool
)

// IsColorSupported determines if color output should be enabled.
// It checks for NO_COLOR, FORCE_COLOR and terminal capability.
func IsColorSupported() bool {
	colorOnce.Do(func() {
		colorEnabled = detectColorSupport()
	})
	return colorEnabled
}

// detectColorSupport checks environment variables and terminal capabilities.
func detectColorSupport() bool {
	// See https://no-color.org/
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if _, exists := os.LookupEnv("FORCE_COLOR"); exists {
		return true
	}

	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// ResetColorDetection clears the cached color detection result.
func ResetColorDetection() {
	colorOnce = sync.Once{}
}
