// Package membership implements gossip-based cluster membership and
// heartbeat-timeout failure detection. Each node periodically gossips its
// view of the cluster to a random fanout of peers; a peer that hasn't
// refreshed its heartbeat within the failure timeout is marked dead and
// the on-leave callback fires so the hash ring can stop routing to it. A
// later heartbeat from a dead peer revives it and is treated as a fresh
// join.
package membership

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kvstore/kvstore/internal/config"
	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/logger"
	"github.com/kvstore/kvstore/internal/rpcpool"
	"github.com/kvstore/kvstore/internal/telemetry"
	"github.com/kvstore/kvstore/internal/wire"
)

// OnJoin is called when a node is seen for the first time, or revives
// after being marked dead. OnLeave is called when a node is marked dead.
type OnJoin func(kvtypes.NodeInfo)
type OnLeave func(nodeID string)

// Manager tracks cluster membership and drives the gossip and
// failure-detector background loops.
type Manager struct {
	self kvtypes.NodeInfo

	mu      sync.RWMutex
	members map[string]kvtypes.NodeInfo

	seeds []string // "host:port"

	onJoin  OnJoin
	onLeave OnLeave

	pool *rpcpool.Pool
	log  *logger.Logger

	gossipInterval time.Duration
	failureTimeout time.Duration
	gossipFanout   int

	running chan struct{} // closed to signal shutdown
	wg      sync.WaitGroup
}

// New creates a Manager that considers self alive from construction.
func New(self kvtypes.NodeInfo, pool *rpcpool.Pool, log *logger.Logger, cfg config.NodeConfig) *Manager {
	self.IsAlive = true
	self.LastHeartbeat = kvtypes.NowMs()

	gossipInterval := cfg.GossipInterval
	if gossipInterval <= 0 {
		gossipInterval = config.DefaultGossipInterval
	}
	failureTimeout := cfg.FailureTimeout
	if failureTimeout <= 0 {
		failureTimeout = config.DefaultFailureTimeout
	}
	fanout := cfg.GossipFanout
	if fanout <= 0 {
		fanout = config.DefaultGossipFanout
	}

	return &Manager{
		self:           self,
		members:        map[string]kvtypes.NodeInfo{self.NodeID: self},
		seeds:          append([]string(nil), cfg.Seeds...),
		pool:           pool,
		log:            log,
		gossipInterval: gossipInterval,
		failureTimeout: failureTimeout,
		gossipFanout:   fanout,
	}
}

// SetOnJoin/SetOnLeave register the callbacks that wire membership changes
// into the hash ring. They must be set before Start.
func (m *Manager) SetOnJoin(cb OnJoin)   { m.onJoin = cb }
func (m *Manager) SetOnLeave(cb OnLeave) { m.onLeave = cb }

// Self returns this node's own NodeInfo.
func (m *Manager) Self() kvtypes.NodeInfo { return m.self }

// Start launches the gossip and failure-detector loops.
func (m *Manager) Start() {
	if m.running != nil {
		return
	}
	m.running = make(chan struct{})
	m.log.Infof("membership: starting gossip and failure detection")

	m.wg.Add(2)
	go m.gossipLoop()
	go m.failureDetectionLoop()
}

// Stop signals both background loops to exit and waits for them to finish.
func (m *Manager) Stop() {
	if m.running == nil {
		return
	}
	close(m.running)
	m.wg.Wait()
	m.log.Infof("membership: stopped")
}

// AddMember merges node into the member table. A brand-new node, or a
// dead node whose heartbeat revives it, fires onJoin; a merge that only
// refreshes an already-alive node's heartbeat is silent.
func (m *Manager) AddMember(node kvtypes.NodeInfo) {
	isNew := false

	m.mu.Lock()
	existing, ok := m.members[node.NodeID]
	if !ok {
		m.members[node.NodeID] = node
		isNew = true
	} else if node.LastHeartbeat > existing.LastHeartbeat {
		existing.LastHeartbeat = node.LastHeartbeat
		if !existing.IsAlive && node.IsAlive {
			existing.IsAlive = true
			isNew = true // revival counts as a join
		}
		m.members[node.NodeID] = existing
	}
	m.mu.Unlock()

	if isNew && m.onJoin != nil {
		m.log.Infof("membership: node %q joined (%s:%d)", node.NodeID, node.Host, node.Port)
		m.onJoin(node)
	}
}

// RemoveMember marks a node dead. It never marks self dead: a node cannot
// remove itself from the cluster via the failure detector.
func (m *Manager) RemoveMember(nodeID string) {
	if nodeID == m.self.NodeID {
		return
	}

	m.mu.Lock()
	existing, ok := m.members[nodeID]
	if !ok {
		m.mu.Unlock()
		return
	}
	existing.IsAlive = false
	m.members[nodeID] = existing
	m.mu.Unlock()

	m.log.Warnf("membership: node %q marked dead", nodeID)
	telemetry.MembersDeadTotal.Inc()
	if m.onLeave != nil {
		m.onLeave(nodeID)
	}
}

// GetMember returns the known NodeInfo for nodeID, if any.
func (m *Manager) GetMember(nodeID string) (kvtypes.NodeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.members[nodeID]
	return n, ok
}

// GetAliveMembers returns every member currently believed alive.
func (m *Manager) GetAliveMembers() []kvtypes.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]kvtypes.NodeInfo, 0, len(m.members))
	for _, n := range m.members {
		if n.IsAlive {
			result = append(result, n)
		}
	}
	return result
}

// GetAllMembers returns every known member, alive or dead.
func (m *Manager) GetAllMembers() []kvtypes.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]kvtypes.NodeInfo, 0, len(m.members))
	for _, n := range m.members {
		result = append(result, n)
	}
	return result
}

// ---------------------------------------------------------------------
// Gossip wire encoding
// ---------------------------------------------------------------------

// CreateGossipMessage encodes a GOSSIP payload carrying this node's full
// view of the cluster: op byte, member count, then per-member
// {node_id, host, port, last_heartbeat, is_alive}.
func (m *Manager) CreateGossipMessage() []byte {
	b := wire.NewBuffer()
	b.WriteUint8(uint8(kvtypes.OpGossip))

	m.mu.RLock()
	b.WriteUint32(uint32(len(m.members)))
	for _, info := range m.members {
		b.WriteString(info.NodeID)
		b.WriteString(info.Host)
		b.WriteUint16(info.Port)
		b.WriteUint64(uint64(info.LastHeartbeat))
		b.WriteBool(info.IsAlive)
	}
	m.mu.RUnlock()

	return b.Bytes()
}

// HandleGossipMessage decodes a peer's gossip payload (positioned just
// after the op byte) and merges every entry except self into the member
// table.
func (m *Manager) HandleGossipMessage(payload *wire.Buffer) error {
	count, err := payload.ReadUint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		nodeID, err := payload.ReadString()
		if err != nil {
			return err
		}
		host, err := payload.ReadString()
		if err != nil {
			return err
		}
		port, err := payload.ReadUint16()
		if err != nil {
			return err
		}
		heartbeat, err := payload.ReadUint64()
		if err != nil {
			return err
		}
		alive, err := payload.ReadBool()
		if err != nil {
			return err
		}

		if nodeID == m.self.NodeID {
			continue
		}
		m.AddMember(kvtypes.NodeInfo{
			NodeID:        nodeID,
			Host:          host,
			Port:          port,
			LastHeartbeat: kvtypes.Timestamp(heartbeat),
			IsAlive:       alive,
		})
	}
	return nil
}

// ---------------------------------------------------------------------
// Background loops
// ---------------------------------------------------------------------

func (m *Manager) gossipLoop() {
	defer m.wg.Done()

	m.contactSeeds()

	ticker := time.NewTicker(m.gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.running:
			return
		case <-ticker.C:
			m.gossipRound()
		}
	}
}

func (m *Manager) gossipRound() {
	m.mu.Lock()
	self := m.members[m.self.NodeID]
	self.LastHeartbeat = kvtypes.NowMs()
	m.members[m.self.NodeID] = self
	m.mu.Unlock()

	alive := m.GetAliveMembers()
	peers := alive[:0:0]
	for _, n := range alive {
		if n.NodeID != m.self.NodeID {
			peers = append(peers, n)
		}
	}
	if len(peers) == 0 {
		return
	}

	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	fanout := m.gossipFanout
	if fanout > len(peers) {
		fanout = len(peers)
	}

	msg := m.CreateGossipMessage()

	telemetry.GossipRoundsTotal.Inc()
	for i := 0; i < fanout; i++ {
		peer := peers[i]
		telemetry.GossipPeersContactedTotal.Inc()
		if _, err := m.sendGossip(peer.Address(), msg); err != nil {
			m.log.Debugf("membership: gossip to %s failed: %v", peer.NodeID, err)
		}
	}
}

func (m *Manager) failureDetectionLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.running:
			return
		case <-ticker.C:
			m.detectFailures()
		}
	}
}

func (m *Manager) detectFailures() {
	now := kvtypes.NowMs()

	m.mu.RLock()
	var dead []string
	for id, info := range m.members {
		if id == m.self.NodeID {
			continue
		}
		if info.IsAlive && now-info.LastHeartbeat > kvtypes.Timestamp(m.failureTimeout.Milliseconds()) {
			dead = append(dead, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range dead {
		m.RemoveMember(id)
	}
}

func (m *Manager) contactSeeds() {
	msg := m.CreateGossipMessage()
	for _, addr := range m.seeds {
		if _, err := m.sendGossip(addr, msg); err != nil {
			m.log.Warnf("membership: seed %s unreachable: %v", addr, err)
			continue
		}
		m.log.Infof("membership: contacted seed %s", addr)
	}
}

// sendGossip sends a GOSSIP request to addr and returns the peer's raw
// response bytes (its own gossip dump), merging nothing itself — callers
// that care about the response decode and merge it explicitly.
func (m *Manager) sendGossip(addr string, msg []byte) ([]byte, error) {
	conn, err := m.pool.Get(addr)
	if err != nil {
		return nil, err
	}
	resp, err := conn.SendRecv(msg)
	if err != nil {
		m.pool.Invalidate(addr)
		return nil, err
	}
	return resp, nil
}
