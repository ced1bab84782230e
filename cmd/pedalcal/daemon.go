package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tolgayilmaz86/pedalcal/pkg/daemon"
	"github.com/tolgayilmaz86/pedalcal/pkg/version"
)

var (
	// allowNonRootAccess indicates whether non-root users may talk to the
	// daemon socket.
	allowNonRootAccess = false
)

// NewDaemonCommand returns the command that runs the daemon in the
// foreground, listening on the unix socket until interrupted.
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run the pedalcal daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("pedalcal daemon starting")
			return daemon.Run(configPath, presetPath, unixSocketPath, allowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.StringVar(&presetPath, "presets", "",
		"Path to a TOML file with device preset overrides.")
	f.BoolVar(&allowNonRootAccess, "allow-non-root-access", false,
		"Allow non-root users to access the daemon.")

	return cmd
}
