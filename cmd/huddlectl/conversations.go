package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/chat"
)

var (
	conversationsRefresh bool

	createKind  string
	createTitle string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.ListConversations(ctx, conversationsRefresh)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		if len(resp.Conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, conv := range resp.Conversations {
			unread := ""
			if conv.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
			}
			last := ""
			if conv.LastMessage != nil {
				last = conv.LastMessage.Body
			}
			fmt.Printf("%-24s %-6s %-24s%s  %s\n", conv.ID, conv.Kind, conversationTitle(conv), unread, truncate(last, 40))
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <participant>...",
	Short: "Create a conversation with the given users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.CreateConversation(ctx, &api.CreateConversationRequest{
			Kind:           chat.Kind(createKind),
			Title:          createTitle,
			ParticipantIDs: args,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Created %s\n", resp.Conversation.ID)
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave <conversation>",
	Short: "Leave a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()
		return c.LeaveConversation(ctx, args[0])
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation>",
	Short: "Mark a conversation read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()
		return c.MarkRead(ctx, args[0])
	},
}

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsRefresh, "refresh", false, "reload the list from the server first")
	createCmd.Flags().StringVar(&createKind, "kind", "", "direct or group (default: by participant count)")
	createCmd.Flags().StringVar(&createTitle, "title", "", "conversation title")
	rootCmd.AddCommand(conversationsCmd, createCmd, leaveCmd, readCmd)
}

func conversationTitle(conv chat.Conversation) string {
	if conv.Title != "" {
		return conv.Title
	}
	names := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
