package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/RTSYork/VLAB/pkg/client"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persistent settings",
		Long: `Manage persistent settings stored in ~/.vlab/settings.json.

Settings provide flag defaults so a connection is just 'vlab':

  vlab settings show
  vlab settings set relay vlab.cs.york.ac.uk
  vlab settings set key ~/keys/alice.vlabkey
  vlab settings clear`,
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd(), newSettingsClearCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client.LoadSettings()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}

			fmt.Printf("Settings file: %s\n\n", client.DefaultSettingsPath())
			printSetting := func(name, value string) {
				if value == "" {
					value = "(not set)"
				}
				fmt.Printf("  %-7s %s\n", name, value)
			}
			printSetting("relay", s.Relay)
			port := ""
			if s.Port != 0 {
				port = strconv.Itoa(s.Port)
			}
			printSetting("port", port)
			printSetting("user", s.User)
			printSetting("board", s.Board)
			printSetting("key", s.Key)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <setting> <value>",
		Short: "Set a setting value",
		Long: `Set a persistent setting value.

Available settings:
  relay - Relay hostname (-r flag default)
  port  - Relay SSH port (-p flag default)
  user  - VLAB username (-u flag default)
  board - Board class (-b flag default)
  key   - Keyfile path (-k flag default)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setting, value := args[0], args[1]

			s, err := client.LoadSettings()
			if err != nil {
				s = &client.Settings{}
			}

			switch setting {
			case "relay":
				s.Relay = value
				fmt.Printf("Relay set to: %s\n", value)
			case "port":
				port, err := strconv.Atoi(value)
				if err != nil {
					return fmt.Errorf("port %q is not a number", value)
				}
				s.Port = port
				fmt.Printf("Port set to: %d\n", port)
			case "user":
				s.User = value
				fmt.Printf("Username set to: %s\n", value)
			case "board":
				s.Board = value
				fmt.Printf("Board class set to: %s\n", value)
			case "key":
				s.Key = value
				fmt.Printf("Keyfile set to: %s\n", value)
			default:
				return fmt.Errorf("unknown setting: %s (valid: relay, port, user, board, key)", setting)
			}

			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			return nil
		},
	}
}

func newSettingsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Reset all settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &client.Settings{}
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Println("Settings cleared.")
			return nil
		},
	}
}
