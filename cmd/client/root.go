// Package client implements the "client" subcommand group for talking to
// a running cluster node: put, get, delete and cluster-info.
package client

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvstore/kvstore/internal/kvclient"
)

// ClientCommands is the "client" command group.
var ClientCommands = &cobra.Command{
	Use:   "client",
	Short: "Talk to a running cluster node",
}

func init() {
	cobra.OnInitialize(initConfig)

	ClientCommands.PersistentFlags().String("addr", "127.0.0.1:7000", "Node address to connect to, host:port")
	ClientCommands.PersistentFlags().Duration("timeout", 5*time.Second, "Connect timeout")

	ClientCommands.AddCommand(putCmd)
	ClientCommands.AddCommand(getCmd)
	ClientCommands.AddCommand(delCmd)
	ClientCommands.AddCommand(clusterInfoCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("kvstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func dial(cmd *cobra.Command) (*kvclient.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return kvclient.Dial(addr, timeout)
}
