package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"updraft/internal/appcast"
	"updraft/internal/history"
	"updraft/internal/update"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"
)

const reportWidth = 80

// Colors
var (
	primaryColor = lipgloss.Color("#7D56F4")
	dimColor     = lipgloss.Color("#6272A4")
	textColor    = lipgloss.Color("#F8F8F2")
	successColor = lipgloss.Color("#50FA7B")
	warningColor = lipgloss.Color("#FFB86C")
	errorColor   = lipgloss.Color("#FF5555")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	valueStyle = lipgloss.NewStyle().
			Foreground(textColor)
)

const labelWidth = 10

func stateStyle(state update.State) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch state {
	case update.StateOK:
		return base.Foreground(successColor)
	case update.StateUpdateAvailable:
		return base.Foreground(primaryColor)
	case update.StateFailure:
		return base.Foreground(errorColor)
	default:
		return base.Foreground(warningColor)
	}
}

// printStatus prints a status report. The release block is only shown when
// the status carries a feed.
func printStatus(w io.Writer, status *update.ApplicationStatus, feedURL string, renderMarkdown func(string) string) {
	heading := "Updraft"
	if status != nil && status.Feed != nil && status.Feed.Title() != "" {
		heading = status.Feed.Title()
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render(heading))
	_, _ = fmt.Fprintln(w, labelStyle.Render(strings.Repeat("─", ansi.StringWidth(heading))))

	if strings.TrimSpace(feedURL) != "" {
		printField(w, "Feed", feedURL)
	}
	if status == nil {
		printField(w, "State", stateStyle(update.StateUnknown).Render(update.StateUnknown.String()))
		return
	}
	printField(w, "State", stateStyle(status.State).Render(status.State.String()))
	if status.Info != "" {
		printField(w, "Info", status.Info)
	}
	checked := "never"
	if !status.UpdateTime.IsZero() {
		checked = status.UpdateTime.Format(time.RFC3339)
	}
	printField(w, "Checked", checked)

	if status.Feed != nil {
		printRelease(w, status.Feed, renderMarkdown)
	}
}

func printRelease(w io.Writer, feed *appcast.Appcast, renderMarkdown func(string) string) {
	item := feed.LatestItem()
	if item == nil {
		return
	}
	title := strings.TrimSpace(item.Title)
	if enc := feed.LatestEnclosure(); enc != nil {
		if v := enc.DisplayVersion(); v != "" {
			if title == "" {
				title = v
			} else {
				title = fmt.Sprintf("%s (%s)", title, v)
			}
		}
		if enc.Length > 0 {
			printField(w, "Size", formatBytes(enc.Length))
		}
	}
	if title != "" {
		printField(w, "Release", title)
	}
	if pub := strings.TrimSpace(item.PubDate); pub != "" {
		printField(w, "Date", pub)
	}

	desc := strings.TrimSpace(item.Description)
	if desc == "" {
		return
	}
	if renderMarkdown == nil {
		renderMarkdown = plainRenderer(reportWidth)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, renderMarkdown(desc))
}

// printField prints one aligned "label value" line, wrapping long values
// under the value column.
func printField(w io.Writer, label, value string) {
	prefix := labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, label+":"))
	wrapped := wordwrap.String(value, reportWidth-labelWidth)
	lines := strings.Split(wrapped, "\n")
	indent := strings.Repeat(" ", labelWidth)
	for i, line := range lines {
		if i == 0 {
			_, _ = fmt.Fprintln(w, prefix+valueStyle.Render(line))
			continue
		}
		_, _ = fmt.Fprintln(w, indent+valueStyle.Render(line))
	}
}

// printFiles lists installed or extracted files under a heading.
func printFiles(w io.Writer, heading string, paths []string) {
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d)", heading, len(paths))))
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "  %s\n", valueStyle.Render(p))
	}
}

// printHistory lists recorded installs, newest first.
func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, labelStyle.Render("No installs recorded."))
		return
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render("Install history"))
	for _, e := range entries {
		when := labelStyle.Render(e.InstalledAt.Local().Format("2006-01-02 15:04:05"))
		name := e.Title
		if name == "" {
			name = e.FeedURL
		}
		line := fmt.Sprintf("%s  %s %s", when, stateStyle(update.StateOK).Render(e.Version), valueStyle.Render(name))
		_, _ = fmt.Fprintln(w, line)
		_, _ = fmt.Fprintf(w, "  %s %s (%d files)\n", labelStyle.Render("->"), e.TargetDir, len(e.Files))
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func plainRenderer(width int) func(string) string {
	return func(input string) string {
		return wordwrap.String(input, width)
	}
}

// buildMarkdownRenderer returns a glamour renderer for release notes, falling
// back to plain word wrapping.
func buildMarkdownRenderer(noColor bool, width int) func(string) string {
	fallback := plainRenderer(width)

	style := "dark"
	if noColor {
		style = "notty"
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback
	}
	return func(input string) string {
		out, err := renderer.Render(input)
		if err != nil {
			return fallback(input)
		}
		return strings.TrimSpace(out)
	}
}
