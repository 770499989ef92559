package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/session"
)

var (
	initEndpoint       string
	initAPIURL         string
	initUserID         string
	initDisplayName    string
	initDefaultSession string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write ~/.huddle/config.toml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write connection settings to the config file",
	Long:  "Write connection settings to the config file. Only flags that are given change;\nthe token is never stored, export " + config.EnvToken + " instead.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := session.ConfigPath()
		cfg, err := config.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.Default(), nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}

		flags := cmd.Flags()
		for name, field := range map[string]*string{
			"endpoint":        &cfg.Endpoint,
			"api-url":         &cfg.APIURL,
			"user":            &cfg.UserID,
			"name":            &cfg.DisplayName,
			"default-session": &cfg.DefaultSession,
		} {
			if flags.Changed(name) {
				v, _ := flags.GetString(name)
				*field = v
			}
		}
		if cfg.DefaultSession != "" {
			if err := session.ValidateName(cfg.DefaultSession); err != nil {
				return err
			}
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(session.ConfigPath(), session.EnvPath(), ".env")
		if err != nil {
			return err
		}
		if cfg.Token != "" {
			cfg.Token = "(set)"
		}
		if jsonOutput {
			outputJSON(cfg)
			return nil
		}
		fmt.Printf("Config:        %s\n", session.ConfigPath())
		fmt.Printf("Endpoint:      %s\n", cfg.Endpoint)
		fmt.Printf("API URL:       %s\n", cfg.APIURL)
		fmt.Printf("User:          %s (%s)\n", cfg.UserID, cfg.DisplayName)
		fmt.Printf("Token:         %s\n", cfg.Token)
		fmt.Printf("Reconnect:     base %s, max %s, %d attempts\n",
			cfg.Reconnect.BaseDelay.Std(), cfg.Reconnect.MaxDelay.Std(), cfg.Reconnect.MaxAttempts)
		fmt.Printf("Heartbeat:     %s\n", cfg.Heartbeat.Std())
		fmt.Printf("Typing window: %s\n", cfg.TypingWindow.Std())
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nwarning: %v\n", err)
		}
		return nil
	},
}

func init() {
	f := configInitCmd.Flags()
	f.StringVar(&initEndpoint, "endpoint", "", "websocket URL of the real-time service")
	f.StringVar(&initAPIURL, "api-url", "", "base URL of the REST API")
	f.StringVar(&initUserID, "user", "", "your user id")
	f.StringVar(&initDisplayName, "name", "", "your display name")
	f.StringVar(&initDefaultSession, "default-session", "", "session used when --session is not given")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
