package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tolgayilmaz86/pedalcal/pkg/version"
)

// getVersion returns the client version and the daemon version.
func getVersion() (string, string, error) {
	daemonVersion, err := apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		GroupID: gAdvanced,
		Short:   "Print version information",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("client: %s (%s)\n", version.Version, version.GitCommit)
			if daemonVersion, err := apiClient.GetVersion(); err == nil {
				fmt.Printf("daemon: %s\n", daemonVersion)
			} else {
				fmt.Println("daemon: not reachable")
			}
			return nil
		},
	}
}
