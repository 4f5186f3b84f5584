package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put [key] [value]",
	Short: "Writes a key's value through quorum replication",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Put(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("put ok")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Reads a key's value through quorum replication",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		value, ok, err := c.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("key=%s found=%v value=%q\n", args[0], ok, value)
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Deletes a key through quorum replication",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Delete(args[0]); err != nil {
			return err
		}
		fmt.Println("delete ok")
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "cluster-info",
	Short: "Shows the contacted node's view of cluster membership",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.ClusterInfo()
		if err != nil {
			return err
		}
		fmt.Printf("local store size: %d\n", info.LocalSize)
		for _, m := range info.Members {
			fmt.Printf("  %-20s %s:%d alive=%v\n", m.NodeID, m.Host, m.Port, m.IsAlive)
		}
		return nil
	},
}
