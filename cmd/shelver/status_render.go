package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"shelver/internal/api"
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
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderDaemonStatus prints the daemon, worker and queue sections.
func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	printSection(out, "Daemon", colorize)
	running := statusError
	if status.Running {
		running = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Running", running, fmt.Sprintf("pid %d", status.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.Database, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	libs := statusOK
	if status.Libraries == 0 {
		libs = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Libraries", libs, fmt.Sprintf("%d configured", status.Libraries), colorize))
	fmt.Fprintln(out)

	printSection(out, "Worker", colorize)
	for _, line := range workerLines(status.Worker, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	printSection(out, "Queue Status", colorize)
	printTable(out, []string{"Status", "Count"}, buildQueueStatusRows(status.QueueStats),
		[]columnAlignment{alignLeft, alignRight}, "Queue is empty")
}

func printSection(out io.Writer, title string, colorize bool) {
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
}

func workerLines(w api.WorkerStatus, colorize bool) []string {
	lines := make([]string, 0, 4)
	if w.Running {
		lines = append(lines, renderStatusLine("Loop", statusOK, "running since "+orDash(w.StartedAt), colorize))
	} else {
		lines = append(lines, renderStatusLine("Loop", statusError, "stopped", colorize))
	}
	if w.Available {
		lines = append(lines, renderStatusLine("Availability", statusOK, fmt.Sprintf("%d in flight", w.InFlight), colorize))
	} else {
		lines = append(lines, renderStatusLine("Availability", statusWarn, "paused: "+orDash(w.LastError), colorize))
	}
	if w.LastTask != nil {
		kind := statusOK
		if w.LastTask.Result != "completed" {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last task", kind,
			fmt.Sprintf("#%d %s %s", w.LastTask.TaskID, w.LastTask.Type, orDash(w.LastTask.Result)), colorize))
	}
	if w.LastError != "" && w.Available {
		lines = append(lines, renderStatusLine("Last error", statusWarn, w.LastError, colorize))
	}
	return lines
}

// buildQueueStatusRows lists non-zero counts, alphabetically.
func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key, count := range stats {
		if count > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, fmt.Sprintf("%d", stats[key])})
	}
	return rows
}
