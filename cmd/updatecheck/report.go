package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"updatecheck/internal/debug"
	"updatecheck/internal/update"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
)

const noticeWidth = 72

var (
	accentColor = lipgloss.Color("#7D56F4")
	titleColor  = lipgloss.Color("#F1FA8C")
	dimColor    = lipgloss.Color("#6272A4")
	linkColor   = lipgloss.Color("#8BE9FD")
)

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

// renderNotice prints the update notice. The plain format prints the
// warning text as is; rich and light draw a box and render the manifest
// note as markdown.
func renderNotice(w io.Writer, res update.Result, format string) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "plain" {
		_, _ = fmt.Fprintln(w, wordwrap.String(res.Message, noticeWidth))
		return
	}

	r := lipgloss.NewRenderer(w)
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		r.SetColorProfile(termenv.Ascii)
	}

	headline, _, _ := strings.Cut(res.Message, "\n")
	lines := []string{
		r.NewStyle().Bold(true).Foreground(titleColor).Render(headline),
	}
	label := r.NewStyle().Foreground(dimColor)
	if res.ReleaseDate != "" {
		lines = append(lines, label.Render("Released: ")+res.ReleaseDate)
	}
	if res.RepoURL != "" {
		lines = append(lines, label.Render("Download: ")+r.NewStyle().Foreground(linkColor).Underline(true).Render(res.RepoURL))
	}
	if note := strings.TrimSpace(res.Note); note != "" {
		render := buildMarkdownRenderer(format, noticeWidth-4)
		lines = append(lines, "", render(note))
	}

	box := r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
	_, _ = fmt.Fprintln(w, box)

	debug.Logger().Debug("update notice shown", "text", ansi.Strip(box))
}

func buildMarkdownRenderer(format string, width int) func(string) string {
	fallback := func(input string) string {
		return wordwrap.String(input, width)
	}

	style := strings.ToLower(strings.TrimSpace(format))
	if style == "" || style == "rich" || style == "dark" {
		style = "dark"
	}
	if style == "plain" {
		return fallback
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

// copyURL puts url on the system clipboard. Headless systems have no
// clipboard; that is only worth a warning.
func copyURL(w io.Writer, url string) {
	if err := writeClipboard(url); err != nil {
		debug.Logger().Debug("clipboard unavailable", "err", err)
		_, _ = fmt.Fprintf(w, "Warning: could not copy to clipboard: %v\n", err)
		return
	}
	_, _ = fmt.Fprintf(w, "Copied '%s' to clipboard.\n", url)
}
