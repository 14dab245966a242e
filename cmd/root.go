package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taraaggoun/megaphone/cmd/gen"
)

const (
	minPort = 1024
	maxPort = 49151
)

var RootCmd = &cobra.Command{
	Use:   "megaphone",
	Short: "Megaphone feeds, posts and file sharing over TCP, UDP and multicast",

	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// checkPort rejects ports outside of the registered range.
func checkPort(name string, port int) error {
	if port < minPort || port > maxPort {
		return fmt.Errorf("%s %d is not in [%d, %d]", name, port, minPort, maxPort)
	}

	return nil
}
