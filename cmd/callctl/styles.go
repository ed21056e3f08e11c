package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/mossy-p/call-signaling/internal/call"
)

var (
	accent  = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	failure = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle   = lipgloss.NewStyle().Foreground(muted)
	errorStyle   = lipgloss.NewStyle().Foreground(failure).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	statusStyle  = lipgloss.NewStyle().Padding(0, 1).Bold(true)
)

func statusBadge(s call.Status) string {
	color := accent
	switch s {
	case call.StatusConnected:
		color = success
	case call.StatusFailed:
		color = failure
	case call.StatusEnded, call.StatusIdle:
		color = muted
	}
	return statusStyle.Background(color).Render(string(s))
}

func qualityLabel(q call.Quality) string {
	switch q {
	case call.QualityExcellent, call.QualityGood:
		return lipgloss.NewStyle().Foreground(success).Render(string(q))
	case call.QualityFair:
		return lipgloss.NewStyle().Foreground(warning).Render(string(q))
	case "":
		return labelStyle.Render("-")
	default:
		return lipgloss.NewStyle().Foreground(failure).Render(string(q))
	}
}

// stateLine renders one line per state update.
func stateLine(s call.State) string {
	line := fmt.Sprintf("%s %s %s  %s %s  %s %d",
		statusBadge(s.Status),
		labelStyle.Render("time"), s.Duration,
		labelStyle.Render("quality"), qualityLabel(s.Quality),
		labelStyle.Render("peers"), len(s.Remote))
	if s.AudioMuted {
		line += "  " + warningStyle.Render("muted")
	}
	if s.Err != nil {
		line += "  " + errorStyle.Render(s.Err.Error())
	} else if s.Warning != nil {
		line += "  " + warningStyle.Render(s.Warning.Error())
	}
	return line
}

func printTitle(format string, args ...any) {
	fmt.Println(titleStyle.Render(fmt.Sprintf(format, args...)))
}

func printField(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(label+":"), value)
}

func printError(msg string) {
	fmt.Println(errorStyle.Render("Error: ") + msg)
}
