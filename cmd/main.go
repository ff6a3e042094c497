// RPOverlay - roleplay overlay
// A topmost quick-text, notes and chat overlay for FiveM roleplay
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

type rootFlags struct {
	debug    bool
	dataDir  string
	logLevel string
	profile  string
}

func newRootCommand() *cobra.Command {
	flags := new(rootFlags)

	root := &cobra.Command{
		Use:           "rpoverlay [--debug] [--data-dir DIR] [--log-level LEVEL]",
		Short:         "Roleplay overlay with quick texts, notes and chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	root.Flags().BoolVar(&flags.debug, "debug", false, "target Notepad instead of FiveM and paste through the clipboard")
	root.Flags().StringVar(&flags.dataDir, "data-dir", "", "directory for settings, profiles and logs (default %APPDATA%\\RPOverlay)")
	root.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (default info, debug with --debug)")
	root.Flags().StringVar(&flags.profile, "profile", "", "profile to activate before starting")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rpoverlay version %s\n", version)
		},
	})
	root.AddCommand(newAutostartCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
