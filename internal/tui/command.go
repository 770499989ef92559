package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/tui/views"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args []string
	// Rest is everything after the name, spacing preserved.
	Rest string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	return Command{
		Name: strings.ToLower(name),
		Args: strings.Fields(rest),
		Rest: rest,
	}
}

// Shift splits off the first argument, returning it and the text after it.
func (c Command) Shift() (string, string) {
	first, rest, _ := strings.Cut(c.Rest, " ")
	return first, strings.TrimSpace(rest)
}

// looksLikeID reports whether s is a message id rather than text. Ids are
// single tokens the daemon handed out: server ids or client ids.
func looksLikeID(s string, known func(string) bool) bool {
	return s != "" && !strings.ContainsAny(s, " \t") && known(s)
}

// runCommand executes a prompt command against the view model.
func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "q", "quit":
		a.Stop()
	case "help", "h":
		a.pages.Push(pageHelp)
	case "new", "dm":
		if len(cmd.Args) != 1 {
			a.flash.Warn("usage: :new <user-id>")
			return
		}
		a.createConversation(chat.KindDirect, "", cmd.Args)
	case "group":
		title, rest := cmd.Shift()
		members := strings.Fields(rest)
		if title == "" || len(members) == 0 {
			a.flash.Warn("usage: :group <title> <user-id>...")
			return
		}
		a.createConversation(chat.KindGroup, title, members)
	case "open", "o":
		if cmd.Rest == "" {
			a.flash.Warn("usage: :open <name or id>")
			return
		}
		c, ok := a.vm.FindConversation(cmd.Rest, func(c chat.Conversation) string {
			return views.ConversationTitle(c, a.vm.UserID())
		})
		if !ok {
			a.flash.Warn(fmt.Sprintf("No conversation matches %q", cmd.Rest))
			return
		}
		a.openConversation(c.ID)
	case "edit":
		id, text := a.splitID(cmd)
		if text == "" {
			a.flash.Warn("usage: :edit [id] <text>")
			return
		}
		a.do("edit", func(ctx context.Context) error { return a.vm.Edit(ctx, id, text) })
	case "delete", "del":
		id, _ := a.splitID(cmd)
		a.do("delete", func(ctx context.Context) error { return a.vm.Delete(ctx, id) })
	case "retry":
		id, _ := a.splitID(cmd)
		a.do("retry", func(ctx context.Context) error {
			_, err := a.vm.Retry(ctx, id)
			return err
		})
	case "read":
		a.do("mark read", func(ctx context.Context) error { return a.vm.MarkRead(ctx) })
	case "leave":
		a.do("leave", func(ctx context.Context) error {
			if err := a.vm.Leave(ctx); err != nil {
				return err
			}
			a.app.QueueUpdate(func() { a.pages.Reset(pageList) })
			return nil
		})
	case "reconnect":
		a.do("reconnect", func(ctx context.Context) error { return a.vm.Reconnect(ctx) })
	default:
		a.flash.Warn(fmt.Sprintf("Unknown command: %s", cmd.Name))
	}
}

// splitID separates an optional leading message id from the rest of cmd.
func (a *App) splitID(cmd Command) (string, string) {
	first, rest := cmd.Shift()
	if looksLikeID(first, a.vm.HasMessage) {
		return first, rest
	}
	return "", cmd.Rest
}

func (a *App) createConversation(kind chat.Kind, title string, members []string) {
	a.do("create", func(ctx context.Context) error {
		if _, err := a.vm.Create(ctx, kind, title, members); err != nil {
			return err
		}
		a.app.QueueUpdate(func() {
			a.pages.Reset(pageList)
			a.pages.Push(pageThread)
		})
		return nil
	})
}
