package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 28
	statusIndent     = "  "
)

var statusStyles = [...]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func (k statusKind) style() (string, string) {
	if k < 0 || int(k) >= len(statusStyles) {
		return "INFO", ""
	}
	s := statusStyles[k]
	return s.label, s.color
}

// renderStatusLine formats "  Label:   [OK] message" with the label padded
// to a fixed column.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	name, color := kind.style()
	status := "[" + name + "]"
	if message != "" {
		status += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", status)
	if colorize && color != "" {
		return color + line + ansiReset
	}
	return line
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
