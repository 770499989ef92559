package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints in columns of rows lines.
type Menu struct {
	*tview.TextView
	theme *Theme
	rows  int
}

// NewMenu creates a new menu hint area with the given height.
func NewMenu(theme *Theme, rows int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		rows:     max(rows, 1),
	}
}

// Update renders hints column by column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()

	lines := make([]string, m.rows)
	for i, h := range hints {
		kc := ColorName(m.theme.MenuKeyColor)
		if h.Numeric {
			kc = ColorName(m.theme.NumericKeyColor)
		}
		cell := fmt.Sprintf("[%s::b]%-9s[-:-:-] %-12s", kc, "<"+h.Key+">", h.Description)
		lines[i%m.rows] += cell
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(m, line)
	}
}
