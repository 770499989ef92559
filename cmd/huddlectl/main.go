package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/session"
)

var (
	sessionFlag string
	jsonOutput  bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "huddlectl",
	Short:         "Control a huddle session daemon",
	Long:          "Command-line client for huddled.\nEvery command talks to the daemon of one session over its Unix socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// sessionName resolves and validates the session the command targets.
func sessionName() (string, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// connect dials the session daemon and returns a request context.
func connect() (*api.Client, context.Context, context.CancelFunc, error) {
	name, err := sessionName()
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	return c, ctx, func() {
		cancel()
		_ = c.Close()
	}, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
