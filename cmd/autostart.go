package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rpoverlay/internal/autostart"
)

func newAutostartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage starting RPOverlay on login",
	}

	var profile string
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Start RPOverlay on login",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []string
			if profile != "" {
				extra = append(extra, "--profile", profile)
			}
			if err := autostart.Enable(extra...); err != nil {
				return err
			}
			fmt.Println("autostart enabled:", autostart.Command())
			return nil
		},
	}
	enable.Flags().StringVar(&profile, "profile", "", "profile to start with")

	cmd.AddCommand(enable,
		&cobra.Command{
			Use:   "disable",
			Short: "Stop starting RPOverlay on login",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := autostart.Disable(); err != nil {
					return err
				}
				fmt.Println("autostart disabled")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the registered login command",
			Run: func(cmd *cobra.Command, args []string) {
				if c := autostart.Command(); c != "" {
					fmt.Println("enabled:", c)
				} else {
					fmt.Println("disabled")
				}
			},
		},
	)
	return cmd
}
