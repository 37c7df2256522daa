package tui

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// OutputMode selects how command output is rendered.
type OutputMode int

const (
	// ModeTUI renders live progress with bubbletea.
	ModeTUI OutputMode = iota
	// ModePlain writes log lines and a static table at the end.
	ModePlain
	// ModeJSON writes one JSON document per result.
	ModeJSON
)

func (m OutputMode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModeJSON:
		return "json"
	default:
		return "plain"
	}
}

// DetectMode picks the output mode for out. Live progress needs a real
// terminal with a usable TERM.
func DetectMode(out io.Writer, noProgress, jsonOutput bool) OutputMode {
	if jsonOutput {
		return ModeJSON
	}
	if noProgress {
		return ModePlain
	}
	file, ok := out.(*os.File)
	if !ok {
		return ModePlain
	}
	if !isatty.IsTerminal(file.Fd()) {
		return ModePlain
	}
	term := os.Getenv("TERM")
	if term == "" || strings.EqualFold(term, "dumb") {
		return ModePlain
	}
	return ModeTUI
}
