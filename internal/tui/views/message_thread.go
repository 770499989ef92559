package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/tui/ui"
)

// MessageThread displays one conversation with a typing line and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField
	title    string
	onSend   func(text string)
	onTyping func(composing bool)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().
		SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)
	typing.SetTextColor(theme.TypingColor)
	typing.SetBorderPadding(0, 0, 1, 0)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		if mt.onTyping != nil {
			mt.onTyping(strings.TrimSpace(text) != "")
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		mt.onSend(text)
		composer.SetText("")
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Init implements Component.
func (mt *MessageThread) Init() {}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "o", Description: "Older"},
		{Key: "R", Description: "Retry"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnTyping sets the callback fired as the composer fills or empties.
func (mt *MessageThread) SetOnTyping(fn func(composing bool)) {
	mt.onTyping = fn
}

// Update renders conv's messages, oldest first, and who is typing.
func (mt *MessageThread) Update(conv chat.Conversation, msgs []chat.Message, typing []string, me string) {
	mt.title = ConversationTitle(conv, me)
	mt.messages.SetTitle(fmt.Sprintf(" %s ", safe(mt.title)))

	mt.messages.Clear()
	now := time.Now()
	for _, m := range msgs {
		_, _ = fmt.Fprint(mt.messages, mt.renderMessage(conv, m, me, now))
	}
	mt.messages.ScrollToEnd()

	mt.typing.Clear()
	if line := typingLine(typing); line != "" {
		_, _ = fmt.Fprint(mt.typing, safe(line))
	}
}

func (mt *MessageThread) renderMessage(conv chat.Conversation, m chat.Message, me string, now time.Time) string {
	sender := safe(senderName(conv, m.SenderID, me))
	ts := formatTimestamp(m.CreatedAt, now)

	body := safe(m.Body)
	switch {
	case m.Deleted:
		body = "[::i]message deleted[-:-:-]"
	case m.Edited:
		body += " [::d](edited)[-:-:-]"
	}
	for _, a := range m.Attachments {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		body += fmt.Sprintf("\n[::d]📎 %s[-:-:-]", safe(name))
	}

	mark := ""
	if m.SenderID == me {
		mark = " " + statusMark(m.Status, m.FailedOp)
	}
	return fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s [::d]%s[-:-:-]\n%s\n\n", sender, ts, mark, m.ID, body)
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

// ClearComposer empties the composer without announcing it.
func (mt *MessageThread) ClearComposer() {
	fn := mt.onTyping
	mt.onTyping = nil
	mt.composer.SetText("")
	mt.onTyping = fn
}
