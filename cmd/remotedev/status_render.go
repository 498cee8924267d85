package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

// statusStyles is indexed by statusKind.
var statusStyles = [...]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const statusLabelWidth = 20

func paint(s string, kind statusKind, colorize bool) string {
	if !colorize {
		return s
	}
	return statusStyles[kind].color + s + ansiReset
}

// renderStatusLine formats "  Label:   [KIND] message".
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	text := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, label+":", statusStyles[kind].label)
	if message != "" {
		text += " " + message
	}
	return paint(text, kind, colorize)
}

func statusKindFromSeverity(severity string) statusKind {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok":
		return statusOK
	case "warn", "warning":
		return statusWarn
	case "error":
		return statusError
	}
	return statusInfo
}

func printSection(w io.Writer, title string, colorize bool) {
	header := "== " + strings.TrimSpace(title) + " =="
	fmt.Fprintln(w, paint(header, statusInfo, colorize))
	fmt.Fprintln(w, paint(strings.Repeat("-", len(header)), statusInfo, colorize))
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
