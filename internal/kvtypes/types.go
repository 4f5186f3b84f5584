// Package kvtypes holds the core data types shared by every layer of the
// store: the wire-level operation/status codes, node metadata, and the
// versioned value that flows from storage through replication to the wire.
package kvtypes

import (
	"fmt"
	"time"
)

// Timestamp is a wall-clock millisecond timestamp, used as the version
// number for last-writer-wins conflict resolution.
type Timestamp uint64

// NowMs returns the current wall-clock time as a Timestamp.
func NowMs() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// NodeInfo describes a cluster member.
type NodeInfo struct {
	NodeID        string
	Host          string
	Port          uint16
	IsAlive       bool
	LastHeartbeat Timestamp
}

// Address formats the node's dial address as "host:port".
func (n NodeInfo) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// VersionedValue is a value tagged with the timestamp and origin node that
// produced it, used for last-writer-wins reconciliation across replicas.
type VersionedValue struct {
	Value     string
	Timestamp Timestamp
	Origin    string
}

// OpType enumerates the wire protocol's operation codes. Values match the
// numbering every node in the cluster must agree on bit-for-bit.
type OpType uint8

const (
	OpPut    OpType = 1
	OpGet    OpType = 2
	OpDelete OpType = 3

	OpInternalPut    OpType = 10
	OpInternalGet    OpType = 11
	OpInternalDelete OpType = 12

	OpJoinCluster  OpType = 20
	OpLeaveCluster OpType = 21
	OpClusterInfo  OpType = 22

	OpTransferKeys OpType = 30

	OpGossip OpType = 40
)

func (op OpType) String() string {
	switch op {
	case OpPut:
		return "PUT"
	case OpGet:
		return "GET"
	case OpDelete:
		return "DELETE"
	case OpInternalPut:
		return "INTERNAL_PUT"
	case OpInternalGet:
		return "INTERNAL_GET"
	case OpInternalDelete:
		return "INTERNAL_DELETE"
	case OpJoinCluster:
		return "JOIN_CLUSTER"
	case OpLeaveCluster:
		return "LEAVE_CLUSTER"
	case OpClusterInfo:
		return "CLUSTER_INFO"
	case OpTransferKeys:
		return "TRANSFER_KEYS"
	case OpGossip:
		return "GOSSIP"
	default:
		return fmt.Sprintf("OpType(%d)", uint8(op))
	}
}

// StatusCode enumerates the wire protocol's response status byte.
type StatusCode uint8

const (
	StatusOK       StatusCode = 0
	StatusNotFound StatusCode = 1
	StatusError    StatusCode = 2
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("StatusCode(%d)", uint8(s))
	}
}
