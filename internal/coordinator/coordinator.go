// Package coordinator dispatches decoded wire requests to the right
// handler: client-facing ops go through the replication manager's quorum
// logic, internal ops hit the local storage engine directly, and cluster
// ops answer from the membership table.
package coordinator

import (
	"fmt"

	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/logger"
	"github.com/kvstore/kvstore/internal/membership"
	"github.com/kvstore/kvstore/internal/replication"
	"github.com/kvstore/kvstore/internal/storage"
	"github.com/kvstore/kvstore/internal/wire"
)

// Coordinator is the per-node request dispatcher handed to the transport
// server as its HandleFunc.
type Coordinator struct {
	selfID  string
	storage *storage.Engine
	members *membership.Manager
	repl    *replication.Manager
	log     *logger.Logger
}

// New creates a Coordinator wired to the given storage engine, membership
// table and replication manager.
func New(selfID string, storage *storage.Engine, members *membership.Manager, repl *replication.Manager, log *logger.Logger) *Coordinator {
	return &Coordinator{selfID: selfID, storage: storage, members: members, repl: repl, log: log}
}

// Handle decodes one request payload, dispatches it, and returns the
// encoded response payload. It never panics out to the transport layer:
// any decode or handler failure becomes an ERROR response.
func (c *Coordinator) Handle(payload []byte) (resp []byte) {
	defer func() {
		// A malformed payload can make a reader run off the end of the
		// buffer via successive failed ReadString/ReadUint* calls; every
		// call already returns an error instead of panicking, but this
		// backstop keeps one bad frame from taking the connection's
		// goroutine down if a handler is ever extended carelessly.
		if r := recover(); r != nil {
			c.log.Errorf("coordinator: panic handling request: %v", r)
			resp = wire.MakeErrorResponse(fmt.Sprintf("internal error: %v", r))
		}
	}()

	req := wire.NewBufferFrom(payload)
	opByte, err := req.ReadUint8()
	if err != nil {
		return wire.MakeErrorResponse("empty request")
	}
	op := kvtypes.OpType(opByte)

	switch op {
	case kvtypes.OpPut:
		return c.handlePut(req)
	case kvtypes.OpGet:
		return c.handleGet(req)
	case kvtypes.OpDelete:
		return c.handleDelete(req)
	case kvtypes.OpInternalPut:
		return c.handleInternalPut(req)
	case kvtypes.OpInternalGet:
		return c.handleInternalGet(req)
	case kvtypes.OpInternalDelete:
		return c.handleInternalDelete(req)
	case kvtypes.OpClusterInfo:
		return c.handleClusterInfo()
	case kvtypes.OpGossip:
		return c.handleGossip(req)
	default:
		return wire.MakeErrorResponse(fmt.Sprintf("unknown operation %d", opByte))
	}
}

// ---------------------------------------------------------------------
// Client-facing handlers — go through quorum replication
// ---------------------------------------------------------------------

func (c *Coordinator) handlePut(req *wire.Buffer) []byte {
	key, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed PUT request")
	}
	value, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed PUT request")
	}

	c.log.Debugf("PUT key=%q value_size=%d", key, len(value))

	result := c.repl.ReplicatedPut(key, value)
	if !result.Success {
		return wire.MakeErrorResponse(result.Err.Error())
	}
	return wire.MakeOkResponse()
}

func (c *Coordinator) handleGet(req *wire.Buffer) []byte {
	key, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed GET request")
	}

	c.log.Debugf("GET key=%q", key)

	result := c.repl.ReplicatedGet(key)
	if !result.Success {
		return wire.MakeErrorResponse(result.Err.Error())
	}
	if result.Value == nil {
		return wire.MakeNotFoundResponse()
	}
	return wire.MakeValueResponse(*result.Value)
}

func (c *Coordinator) handleDelete(req *wire.Buffer) []byte {
	key, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed DELETE request")
	}

	c.log.Debugf("DELETE key=%q", key)

	result := c.repl.ReplicatedDelete(key)
	if !result.Success {
		return wire.MakeErrorResponse(result.Err.Error())
	}
	return wire.MakeOkResponse()
}

// ---------------------------------------------------------------------
// Internal handlers — direct local storage, no quorum
// ---------------------------------------------------------------------

func (c *Coordinator) handleInternalPut(req *wire.Buffer) []byte {
	key, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_PUT request")
	}
	value, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_PUT request")
	}
	ts, err := req.ReadUint64()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_PUT request")
	}
	origin, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_PUT request")
	}

	// The stale-write outcome is intentionally swallowed: a remote
	// INTERNAL_PUT always acknowledges OK whether or not the value was
	// actually applied, so the initiating node's quorum count isn't
	// deflated purely because this replica's copy was already fresher.
	c.storage.ConditionalPut(key, kvtypes.VersionedValue{Value: value, Timestamp: kvtypes.Timestamp(ts), Origin: origin})
	return wire.MakeOkResponse()
}

func (c *Coordinator) handleInternalGet(req *wire.Buffer) []byte {
	key, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_GET request")
	}
	vv, ok := c.storage.Get(key)
	if !ok {
		return wire.MakeNotFoundResponse()
	}
	return wire.MakeValueResponse(vv)
}

func (c *Coordinator) handleInternalDelete(req *wire.Buffer) []byte {
	key, err := req.ReadString()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_DELETE request")
	}
	ts, err := req.ReadUint64()
	if err != nil {
		return wire.MakeErrorResponse("malformed INTERNAL_DELETE request")
	}
	c.storage.Delete(key, kvtypes.Timestamp(ts))
	return wire.MakeOkResponse()
}

// ---------------------------------------------------------------------
// Cluster handlers
// ---------------------------------------------------------------------

func (c *Coordinator) handleClusterInfo() []byte {
	members := c.members.GetAllMembers()

	b := wire.NewBuffer()
	b.WriteUint8(uint8(kvtypes.StatusOK))
	b.WriteUint32(uint32(len(members)))
	for _, m := range members {
		b.WriteString(m.NodeID)
		b.WriteString(m.Host)
		b.WriteUint16(m.Port)
		b.WriteBool(m.IsAlive)
	}
	b.WriteUint64(uint64(c.storage.Size()))
	return b.Bytes()
}

func (c *Coordinator) handleGossip(req *wire.Buffer) []byte {
	if err := c.members.HandleGossipMessage(req); err != nil {
		return wire.MakeErrorResponse("malformed GOSSIP payload")
	}
	return c.members.CreateGossipMessage()
}
