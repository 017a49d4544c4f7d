package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// uiModeDecision captures how start reports progress.
type uiModeDecision struct {
	useLive bool
	noColor bool
	warning string
}

// isTerminal reports whether a writer is a TTY.
var isTerminal = defaultIsTerminal

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv

// resolveUIMode determines whether start drives the live UI. Verbose output
// lists every delivery, which only the plain printer does.
func resolveUIMode(mode string, verbose, noColor bool, stdout io.Writer) (uiModeDecision, error) {
	if _, ok := lookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized == "" {
		normalized = "auto"
	}
	switch normalized {
	case "auto":
		return uiModeDecision{useLive: !verbose && isTerminal(stdout), noColor: noColor}, nil
	case "live":
		if verbose {
			return uiModeDecision{warning: "--verbose prints every delivery; using plain output."}, nil
		}
		if isTerminal(stdout) {
			return uiModeDecision{useLive: true, noColor: noColor}, nil
		}
		return uiModeDecision{
			warning: "Live UI requested but stdout is not a TTY; falling back to plain output.",
		}, nil
	case "plain":
		return uiModeDecision{}, nil
	default:
		return uiModeDecision{}, fmt.Errorf("invalid ui mode %q (expected auto|live|plain)", mode)
	}
}

// defaultIsTerminal inspects stdout for TTY support.
func defaultIsTerminal(stdout io.Writer) bool {
	if stdout == nil {
		return false
	}
	if file, ok := stdout.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	if fder, ok := stdout.(interface{ Fd() uintptr }); ok {
		return term.IsTerminal(int(fder.Fd()))
	}
	return false
}
