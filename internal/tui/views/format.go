package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
)

func formatTimestamp(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// ConversationTitle names a conversation for display. Without a title it
// lists the other participants.
func ConversationTitle(c chat.Conversation, me string) string {
	if c.Title != "" {
		return c.Title
	}
	var names []string
	for _, p := range c.Participants {
		if p.ID == me {
			continue
		}
		names = append(names, displayName(p.User))
	}
	if len(names) == 0 {
		return c.ID
	}
	return strings.Join(names, ", ")
}

func displayName(u chat.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// senderName resolves a sender id against the conversation's participants.
func senderName(c chat.Conversation, senderID, me string) string {
	if senderID == me {
		return "You"
	}
	if p, ok := c.Participant(senderID); ok {
		return displayName(p.User)
	}
	return senderID
}

// statusMark is the delivery marker shown after the user's own messages.
// A rejected edit or delete names the operation.
func statusMark(s chat.Status, op chat.Op) string {
	if op != "" && s == chat.StatusFailed {
		return "[red]! " + string(op) + " failed[-]"
	}
	switch s {
	case chat.StatusPending:
		return "[gray]…[-]"
	case chat.StatusSent:
		return "[gray]✓[-]"
	case chat.StatusDelivered:
		return "[gray]✓✓[-]"
	case chat.StatusRead:
		return "[aqua]✓✓[-]"
	case chat.StatusFailed:
		return "[red]! failed[-]"
	}
	return ""
}

func typingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return fmt.Sprintf("%s and %s are typing…", names[0], names[1])
	}
	return fmt.Sprintf("%s and %d others are typing…", names[0], len(names)-1)
}

func onlineCount(c chat.Conversation, me string) int {
	n := 0
	for _, p := range c.Participants {
		if p.ID != me && p.Online {
			n++
		}
	}
	return n
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
