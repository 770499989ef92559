package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session       string
	User          string
	State         string
	Attempt       int
	Queued        int
	Conversations int
	Unread        int
	Uptime        time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := ColorName(si.theme.FgColor)
	ct := ColorName(si.theme.CounterColor)
	st := ColorName(si.theme.StateColor(data.State))

	state := data.State
	if data.Attempt > 0 && state != "READY" {
		state = fmt.Sprintf("%s (attempt %d)", state, data.Attempt)
	}

	line := func(label, color, value string) {
		_, _ = fmt.Fprintf(si, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, label+":", color, value)
	}
	line("Session", ct, tview.Escape(data.Session))
	line("User", ct, tview.Escape(data.User))
	line("State", st, state)
	line("Convs", ct, fmt.Sprintf("%d (%d unread)", data.Conversations, data.Unread))
	line("Queued", ct, fmt.Sprint(data.Queued))
	line("Uptime", ct, formatDuration(data.Uptime))
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
