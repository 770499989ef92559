package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()

		resp, err := c.GetStatus(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Session:       %s\n", resp.Session)
		fmt.Printf("User:          %s\n", resp.UserID)
		fmt.Printf("State:         %s\n", resp.State)
		if resp.Attempt > 0 {
			fmt.Printf("Attempt:       %d\n", resp.Attempt)
		}
		fmt.Printf("Queued:        %d\n", resp.Pending)
		fmt.Printf("Conversations: %d\n", resp.Conversations)
		fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
		return nil
	},
}

var reconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Restart the connection after it gave up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, done, err := connect()
		if err != nil {
			return err
		}
		defer done()
		return c.Reconnect(ctx)
	},
}

type sessionInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		infos := make([]sessionInfo, 0, len(names))
		for _, name := range names {
			pid, running := lock.Holder(session.Dir(name))
			infos = append(infos, sessionInfo{Name: name, Path: session.Dir(name), Running: running, PID: pid})
		}
		if jsonOutput {
			outputJSON(infos)
			return nil
		}
		if len(infos) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, s := range infos {
			state := "stopped"
			if s.Running {
				state = fmt.Sprintf("running, pid %d", s.PID)
			}
			fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [kind...]",
	Short: "Stream daemon events until interrupted",
	Long:  "Stream daemon events. Kinds may be exact (message.failed) or a namespace (message.).",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := sessionName()
		if err != nil {
			return err
		}
		c, err := api.Dial(session.SocketPath(name))
		if err != nil {
			return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := c.Watch(ctx, args...)
		if err != nil {
			return err
		}
		for {
			evt, err := w.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if jsonOutput {
				outputJSON(evt)
				continue
			}
			at := time.UnixMilli(evt.OccurredAtUnixMs).Format("15:04:05.000")
			fmt.Printf("%s %-28s %s\n", at, evt.Kind, evt.Payload)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, reconnectCmd, sessionsCmd, watchCmd)
}
