// Package cmd implements the command-line interface for the distributed
// key-value store. It is organized into two subcommand groups:
//
//   - node: starts a cluster member listening for client and peer traffic
//   - client: put/get/delete/cluster-info against a running node
//
// See kvstore --help for the full command list.
package cmd
