package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/chat"
)

var (
	messagesBefore string
	messagesLimit  int
	messagesFetch  bool
)

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation>",
	Short: "Show conversation history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.ListMessages(ctx, &api.ListMessagesRequest{
			ConversationID: args[0],
			Before:         messagesBefore,
			Limit:          messagesLimit,
			Fetch:          messagesFetch,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		for _, m := range resp.Messages {
			printMessage(m)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text>...",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.SendMessage(ctx, &api.SendMessageRequest{
			ConversationID: args[0],
			Body:           strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		return reportMessage(resp.Message)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message>",
	Short: "Resend a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.RetryMessage(ctx, args[0])
		if err != nil {
			return err
		}
		return reportMessage(resp.Message)
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <message> <text>...",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.EditMessage(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return reportMessage(resp.Message)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()
		return c.DeleteMessage(ctx, args[0])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <message>",
	Short: "Show every revision of a message, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.MessageHistory(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		for i, body := range resp.Revisions {
			fmt.Printf("%3d  %s\n", i, body)
		}
		return nil
	},
}

func init() {
	messagesCmd.Flags().StringVar(&messagesBefore, "before", "", "only messages older than this id")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 0, "maximum number of messages")
	messagesCmd.Flags().BoolVar(&messagesFetch, "fetch", false, "load the page from the server first")
	rootCmd.AddCommand(messagesCmd, sendCmd, retryCmd, editCmd, deleteCmd, historyCmd)
}

// reportMessage prints the outcome of a send. A failed message is an error
// so scripts can react to it.
func reportMessage(m chat.Message) error {
	if jsonOutput {
		outputJSON(m)
	} else {
		printMessage(m)
	}
	if m.Status == chat.StatusFailed {
		return fmt.Errorf("message %s failed; retry with: huddlectl retry %s", m.ID, m.ID)
	}
	return nil
}

func printMessage(m chat.Message) {
	body := m.Body
	switch {
	case m.Deleted:
		body = "(deleted)"
	case m.Edited:
		body += " (edited)"
	}
	for _, a := range m.Attachments {
		body += fmt.Sprintf(" [%s]", a.Name)
	}
	fmt.Printf("%s  %-9s %-12s %s  %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Status, m.SenderID, m.ID, body)
}
