package cli

import "github.com/charmbracelet/lipgloss"

var (
	primary   = lipgloss.Color("#f7c0af")
	secondary = lipgloss.Color("#3ccad7")
	success   = lipgloss.Color("#87bf47")
	errorCol  = lipgloss.Color("#bf5d47")
	warnCol   = lipgloss.Color("#d7af5f")
	muted     = lipgloss.Color("#7f7f7f")

	labelStyle     = lipgloss.NewStyle().Foreground(primary).Bold(true)
	valueStyle     = lipgloss.NewStyle().Foreground(secondary)
	mutedStyle     = lipgloss.NewStyle().Foreground(muted)
	successStyle   = lipgloss.NewStyle().Foreground(success)
	warnStyle      = lipgloss.NewStyle().Foreground(warnCol)
	errorStyle     = lipgloss.NewStyle().Foreground(errorCol)
	sectionStyle   = lipgloss.NewStyle().Foreground(primary).Bold(true)
	veryMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f5f5f"))
)

const separator = "────────────────────────────────────────────────"
