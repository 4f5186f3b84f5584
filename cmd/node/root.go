// Package node implements the "node" subcommand, which starts a cluster
// member listening for client and peer traffic.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvstore/kvstore/internal/config"
	nodepkg "github.com/kvstore/kvstore/internal/node"
)

// NodeCmd starts a node and blocks until it receives a shutdown signal.
var NodeCmd = &cobra.Command{
	Use:     "node",
	Short:   "Start a cluster node",
	Long:    `Start a cluster node that listens for client and peer traffic. Every flag can also be set via an environment variable of the form KVSTORE_<FLAG> (e.g. KVSTORE_NODE_ID=node1), or via --config.`,
	PreRunE: bindFlags,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := NodeCmd.Flags()
	flags.String("config", "", "Path to a YAML/TOML/JSON config file")
	flags.String("node-id", "node1", "Unique node identifier")
	flags.String("host", "0.0.0.0", "Address peers should dial to reach this node")
	flags.Uint16("port", config.DefaultPort, "Listening port for client and peer traffic")
	flags.String("data-dir", "/tmp/kvstore", "Data directory (a per-node subdirectory is created beneath it)")
	flags.StringSlice("seed", nil, "Seed node address host:port, repeatable")
	flags.Int("N", config.DefaultReplicationFactor, "Replication factor")
	flags.Int("R", config.DefaultReadQuorum, "Read quorum")
	flags.Int("W", config.DefaultWriteQuorum, "Write quorum")
	flags.Int("virtual-nodes", config.DefaultVirtualNodes, "Virtual nodes per physical node on the hash ring")
	flags.Int("worker-pool-size", config.DefaultWorkerPoolSize, "Maximum number of connections handled concurrently")
	flags.Duration("connect-timeout", config.DefaultConnectTimeout, "Outbound peer connection timeout")
	flags.Duration("gossip-interval", config.DefaultGossipInterval, "Interval between gossip rounds")
	flags.Duration("failure-timeout", config.DefaultFailureTimeout, "Heartbeat age after which a peer is marked dead")
	flags.Int("gossip-fanout", config.DefaultGossipFanout, "Number of peers contacted per gossip round")
	flags.String("log-level", "info", "debug|info|warn|error")
	flags.String("metrics-addr", "", "Address to serve Prometheus /metrics on (empty disables it)")
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("kvstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	cfg := config.NodeConfig{
		NodeID:         viper.GetString("node-id"),
		Host:           viper.GetString("host"),
		Port:           uint16(viper.GetUint("port")),
		DataDir:        viper.GetString("data-dir"),
		Seeds:          viper.GetStringSlice("seed"),
		N:              viper.GetInt("N"),
		R:              viper.GetInt("R"),
		W:              viper.GetInt("W"),
		V:              viper.GetInt("virtual-nodes"),
		WorkerPoolSize: viper.GetInt("worker-pool-size"),
		ConnectTimeout: viper.GetDuration("connect-timeout"),
		GossipInterval: viper.GetDuration("gossip-interval"),
		FailureTimeout: viper.GetDuration("failure-timeout"),
		GossipFanout:   viper.GetInt("gossip-fanout"),
		LogLevel:       viper.GetString("log-level"),
		MetricsAddr:    viper.GetString("metrics-addr"),
	}

	n, err := nodepkg.New(cfg)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := n.Start(); err != nil {
		return fmt.Errorf("node: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.Stop(ctx)
}
