// Package ui renders terminal output for the autosync CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(18)
)

// Init picks the colour profile for w. Colour is dropped when w is not a
// terminal or NO_COLOR is set.
func Init(w io.Writer) {
	profile := termenv.NewOutput(w).EnvColorProfile()
	if !IsTerminal(w) {
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderBool renders a yes/no in pass or muted colour.
func RenderBool(b bool) string {
	if b {
		return RenderPass("yes")
	}
	return RenderMuted("no")
}

// KeyValue renders one aligned "key  value" line.
func KeyValue(key string, value interface{}) string {
	return keyStyle.Render(key) + fmt.Sprint(value)
}

// Section renders a bold heading followed by its lines, indented.
func Section(title string, lines ...string) string {
	var b strings.Builder
	b.WriteString(RenderBold(title))
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString("  ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatTime renders t in local time, or a muted dash when nil.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return RenderMuted("-")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// FormatRelative renders how far t is from now, e.g. "in 4m30s" or "2m ago".
func FormatRelative(t, now time.Time) string {
	d := t.Sub(now).Round(time.Second)
	switch {
	case d > 0:
		return "in " + d.String()
	case d < 0:
		return (-d).String() + " ago"
	default:
		return "now"
	}
}
