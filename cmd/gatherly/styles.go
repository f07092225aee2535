package main

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("213"))

	ownMessageStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("111"))

	otherMessageStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("120"))

	metaStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Italic(true)

	deletedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Strikethrough(true)

	statusStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("117"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)
)
