package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const ellipsis = "…"

// renderHeader returns a consistently styled header with an optional muted subtitle.
// Width is used to guide truncation via helpers.
func renderHeader(title, subtitle string, width int) string {
	title = truncateEnd(title, width-2)
	subtitle = truncateEnd(subtitle, width-2)
	rows := []string{HeaderStyle.Render(title)}
	if subtitle != "" {
		rows = append(rows, renderMuted(subtitle))
	}
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

// renderInputFrame draws a rounded bordered container around a rendered input view.
func renderInputFrame(inputView string, focused bool, contentWidth int) string {
	borderColor := MutedColor
	if focused {
		borderColor = AccentColor
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(contentWidth + 4).
		Render(inputView)
}

// renderCentered centers the provided content within the given width/height box.
func renderCentered(width, height int, content string) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

func renderMuted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}

func renderHelp(text string) string {
	return HelpStyle.Render(text)
}

// truncateEnd fits s into limit terminal cells, ending in an ellipsis when
// anything was cut. Wide runes count as two cells.
func truncateEnd(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	return runewidth.Truncate(s, limit, ellipsis)
}

// truncateMiddle fits s into limit cells by cutting its middle, so a link
// keeps both its host and its fragment.
func truncateMiddle(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= limit {
		return s
	}
	budget := limit - runewidth.StringWidth(ellipsis)
	if budget <= 0 {
		return ellipsis
	}
	head := runewidth.Truncate(s, budget/2, "")
	return head + ellipsis + tailCells(s, budget-runewidth.StringWidth(head))
}

// tailCells returns the longest suffix of s that fits in width cells.
func tailCells(s string, width int) string {
	r := []rune(s)
	start := len(r)
	for used := 0; start > 0; start-- {
		w := runewidth.RuneWidth(r[start-1])
		if used+w > width {
			break
		}
		used += w
	}
	return string(r[start:])
}
