package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvstore/kvstore/cmd/client"
	"github.com/kvstore/kvstore/cmd/node"
)

const Version = "1.0.0"

var (
	// RootCmd represents the base command when called without any subcommands.
	RootCmd = &cobra.Command{
		Use:   "kvstore",
		Short: "distributed key-value store",
		Long: fmt.Sprintf(`kvstore (v%s)

A distributed, eventually-consistent key-value store: consistent hashing
for partitioning, gossip-based membership with heartbeat failure
detection, and tunable N/R/W quorum replication with last-writer-wins
conflict resolution.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvstore v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(node.NodeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main() and only needs to happen
// once against RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
