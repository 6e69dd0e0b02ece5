package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().MarginLeft(2).Bold(true).Foreground(lipgloss.Color("#FFFDF5"))

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	focusedPaneStyle = paneStyle.BorderForeground(lipgloss.Color("62"))

	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AFAFAF"))
	anchorStyle = lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("#FFFDF5"))

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).PaddingLeft(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).PaddingLeft(1)

	emptyChatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Align(lipgloss.Center).
			PaddingTop(2)

	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(2)
)
