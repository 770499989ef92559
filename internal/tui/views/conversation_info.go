package views

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/tui/ui"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Init implements Component.
func (ci *ConversationInfo) Init() {}

// Start implements Component.
func (ci *ConversationInfo) Start() {}

// Stop implements Component.
func (ci *ConversationInfo) Stop() {}

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conv's metadata and members, owners first.
func (ci *ConversationInfo) Update(conv chat.Conversation, me string) {
	ci.Clear()

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)
	on := ui.ColorName(ci.theme.OnlineColor)

	kind := "Direct"
	if conv.Kind == chat.KindGroup {
		kind = "Group"
	}
	row := func(label, value string) string {
		return fmt.Sprintf(" [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, value)
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(row("Title", safe(ConversationTitle(conv, me))))
	b.WriteString(row("ID", conv.ID))
	b.WriteString(row("Type", kind))
	b.WriteString(row("Unread", fmt.Sprint(conv.UnreadCount)))
	b.WriteString(row("Created", conv.CreatedAt.Local().Format(time.DateTime)))
	if conv.LastMessage != nil {
		b.WriteString(row("Last message", safe(conv.LastMessage.Body)))
	}

	members := slices.Clone(conv.Participants)
	slices.SortStableFunc(members, func(a, b chat.Participant) int {
		return roleRank(a.Role) - roleRank(b.Role)
	})
	fmt.Fprintf(&b, "\n [%s::b]Members (%d)[-:-:-]\n", fg, len(members))
	for _, p := range members {
		dot := "[gray]○[-]"
		if p.Online {
			dot = fmt.Sprintf("[%s]●[-]", on)
		}
		name := safe(displayName(p.User))
		if p.ID == me {
			name += " (you)"
		}
		fmt.Fprintf(&b, "  %s %-24s [%s]%s[-]\n", dot, name, ct, p.Role)
	}

	_, _ = fmt.Fprint(ci, b.String())
	ci.SetTitle(fmt.Sprintf(" %s Details ", safe(ConversationTitle(conv, me))))
}

func roleRank(r chat.Role) int {
	switch r {
	case chat.RoleOwner:
		return 0
	case chat.RoleAdmin:
		return 1
	}
	return 2
}
