package membership

import (
	"testing"
	"time"

	"github.com/kvstore/kvstore/internal/config"
	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/logger"
	"github.com/kvstore/kvstore/internal/rpcpool"
	"github.com/kvstore/kvstore/internal/wire"
)

func newTestManager(nodeID string) *Manager {
	self := kvtypes.NodeInfo{NodeID: nodeID, Host: "127.0.0.1", Port: 7000}
	pool := rpcpool.New(time.Second)
	return New(self, pool, logger.Nop(), config.NodeConfig{})
}

func TestAddMemberNewNodeFiresOnJoin(t *testing.T) {
	m := newTestManager("self")

	var joined kvtypes.NodeInfo
	joins := 0
	m.SetOnJoin(func(n kvtypes.NodeInfo) { joined = n; joins++ })

	m.AddMember(kvtypes.NodeInfo{NodeID: "peer", Host: "h", Port: 1, IsAlive: true, LastHeartbeat: 100})

	if joins != 1 {
		t.Fatalf("got %d onJoin calls, want 1", joins)
	}
	if joined.NodeID != "peer" {
		t.Fatalf("onJoin called with %q, want peer", joined.NodeID)
	}
}

func TestAddMemberRevivalFiresOnJoinAgain(t *testing.T) {
	m := newTestManager("self")

	joins := 0
	m.SetOnJoin(func(kvtypes.NodeInfo) { joins++ })

	m.AddMember(kvtypes.NodeInfo{NodeID: "peer", IsAlive: true, LastHeartbeat: 100})
	m.RemoveMember("peer")
	if joins != 1 {
		t.Fatalf("got %d onJoin calls after initial join, want 1", joins)
	}

	m.AddMember(kvtypes.NodeInfo{NodeID: "peer", IsAlive: true, LastHeartbeat: 200})
	if joins != 2 {
		t.Fatalf("got %d onJoin calls after revival, want 2 (revival should count as a join)", joins)
	}
}

func TestAddMemberIgnoresOlderHeartbeat(t *testing.T) {
	m := newTestManager("self")

	m.AddMember(kvtypes.NodeInfo{NodeID: "peer", IsAlive: true, LastHeartbeat: 200})
	m.AddMember(kvtypes.NodeInfo{NodeID: "peer", IsAlive: true, LastHeartbeat: 100})

	n, ok := m.GetMember("peer")
	if !ok {
		t.Fatalf("peer not found")
	}
	if n.LastHeartbeat != 200 {
		t.Fatalf("got LastHeartbeat=%d, want 200 (older heartbeat must not overwrite)", n.LastHeartbeat)
	}
}

func TestRemoveMemberNeverRemovesSelf(t *testing.T) {
	m := newTestManager("self")

	leaves := 0
	m.SetOnLeave(func(string) { leaves++ })

	m.RemoveMember("self")

	n, ok := m.GetMember("self")
	if !ok || !n.IsAlive {
		t.Fatalf("self was marked dead: %+v, ok=%v", n, ok)
	}
	if leaves != 0 {
		t.Fatalf("onLeave fired for self removal")
	}
}

func TestRemoveMemberFiresOnLeave(t *testing.T) {
	m := newTestManager("self")
	m.AddMember(kvtypes.NodeInfo{NodeID: "peer", IsAlive: true, LastHeartbeat: 100})

	var left string
	m.SetOnLeave(func(id string) { left = id })

	m.RemoveMember("peer")

	n, ok := m.GetMember("peer")
	if !ok || n.IsAlive {
		t.Fatalf("peer should be marked dead: %+v, ok=%v", n, ok)
	}
	if left != "peer" {
		t.Fatalf("onLeave called with %q, want peer", left)
	}
}

func TestGossipMessageRoundTripSkipsSelf(t *testing.T) {
	sender := newTestManager("sender")
	sender.AddMember(kvtypes.NodeInfo{NodeID: "c", Host: "h3", Port: 3, IsAlive: true, LastHeartbeat: 300})

	msg := sender.CreateGossipMessage()

	receiver := newTestManager("c") // receiver is the node named "c" in the sender's table
	buf := wire.NewBufferFrom(msg)
	op, err := buf.ReadUint8()
	if err != nil || kvtypes.OpType(op) != kvtypes.OpGossip {
		t.Fatalf("expected leading GOSSIP op byte, got %d err=%v", op, err)
	}

	if err := receiver.HandleGossipMessage(buf); err != nil {
		t.Fatalf("HandleGossipMessage: %v", err)
	}

	if _, ok := receiver.GetMember("c"); !ok {
		t.Fatalf("receiver should still know about itself")
	}
	if _, ok := receiver.GetMember("sender"); !ok {
		t.Fatalf("receiver should have learned about sender from the gossip payload")
	}
}
