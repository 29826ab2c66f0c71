package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// Color palette, light/dark adaptive
var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7C3AED"}
	accentColor  = lipgloss.AdaptiveColor{Light: "#EE6FF8", Dark: "#06B6D4"}
	successColor = lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#10B981"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#FF5F56", Dark: "#EF4444"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#94A3B8"}
	fgColor      = lipgloss.AdaptiveColor{Light: "#1E1E2E", Dark: "#CDD6F4"}
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor)

	offsetStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	pageInfoStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true).
			Padding(1)
)

// Key bindings
type viewerKeyMap struct {
	Select    key.Binding
	Back      key.Binding
	Quit      key.Binding
	NextPage  key.Binding
	PrevPage  key.Binding
	FirstPage key.Binding
	LastPage  key.Binding
}

var viewerKeys = viewerKeyMap{
	Select: key.NewBinding(
		key.WithKeys("enter", " "),
		key.WithHelp("enter", "inspect pages"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc", "backspace"),
		key.WithHelp("esc", "back"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	NextPage: key.NewBinding(
		key.WithKeys("n", "pagedown", "right", "l"),
		key.WithHelp("n/pgdn", "next page"),
	),
	PrevPage: key.NewBinding(
		key.WithKeys("p", "pageup", "left", "h"),
		key.WithHelp("p/pgup", "prev page"),
	),
	FirstPage: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g/home", "first page"),
	),
	LastPage: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G/end", "last page"),
	),
}

func padString(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func renderError(err error) string {
	return errorStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		"Error: "+err.Error(),
		"",
		"Press q to quit.",
	))
}
