// Package replication implements quorum-based replication: every write
// fans out to N replicas and succeeds once W have acknowledged; every read
// fans out to N replicas, succeeds once R have responded, resolves
// conflicts by picking the highest timestamp, and asynchronously repairs
// any replica that returned a stale or missing value.
package replication

import (
	"fmt"

	"github.com/kvstore/kvstore/internal/kverrors"
	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/logger"
	"github.com/kvstore/kvstore/internal/membership"
	"github.com/kvstore/kvstore/internal/ring"
	"github.com/kvstore/kvstore/internal/rpcpool"
	"github.com/kvstore/kvstore/internal/storage"
	"github.com/kvstore/kvstore/internal/telemetry"
	"github.com/kvstore/kvstore/internal/wire"
)

// WriteResult is the outcome of a quorum PUT or DELETE.
type WriteResult struct {
	Success bool
	Acks    int
	Err     error
}

// ReadResult is the outcome of a quorum GET.
type ReadResult struct {
	Success   bool
	Value     *kvtypes.VersionedValue
	Responses int
	Err       error
}

// Manager orchestrates quorum reads and writes across the replicas chosen
// by the hash ring, using R+W>N to decide how many replicas must agree
// before a client-facing request is considered done.
type Manager struct {
	selfID  string
	storage *storage.Engine
	ring    *ring.Ring
	members *membership.Manager
	pool    *rpcpool.Pool
	log     *logger.Logger

	N, R, W int
}

// New creates a replication Manager with the given N/R/W quorum sizes.
func New(selfID string, storage *storage.Engine, ring *ring.Ring, members *membership.Manager, pool *rpcpool.Pool, log *logger.Logger, n, r, w int) *Manager {
	return &Manager{
		selfID:  selfID,
		storage: storage,
		ring:    ring,
		members: members,
		pool:    pool,
		log:     log,
		N:       n,
		R:       r,
		W:       w,
	}
}

// ReplicatedPut writes value for key to N replicas and returns success
// once at least W have acknowledged. A local Put that loses to a
// concurrently-newer write counts as a failed ack — it does not panic or
// error, it simply doesn't count toward the quorum, so a client that races
// another writer for the same key can see its own write effectively
// dropped without an error. Remote replicas always acknowledge OK
// regardless of whether their own stale-write check rejected the value
// (see the internal PUT handler); this asymmetry is deliberate: it avoids
// failing a quorum write purely because the value had already been
// superseded by the time it reached a replica, at the cost of occasionally
// reporting success for a write that a replica silently discarded.
func (m *Manager) ReplicatedPut(key, value string) WriteResult {
	ts := kvtypes.NowMs()

	nodes, err := m.ring.GetNodes(key, m.N)
	if err != nil {
		return WriteResult{Err: err}
	}

	acks := 0
	results := make(chan bool, len(nodes))
	for _, nodeID := range nodes {
		nodeID := nodeID
		go func() {
			results <- m.putOne(nodeID, key, value, ts)
		}()
	}
	for range nodes {
		if <-results {
			acks++
		}
	}

	success := acks >= m.W
	outcome := "success"
	if !success {
		outcome = "quorum_failed"
	}
	telemetry.QuorumOutcomeTotal.WithLabelValues("put", outcome).Inc()

	if !success {
		err := kverrors.Newf(kverrors.CodeQuorumNotReached, "quorum not reached: %d/%d acks", acks, m.W)
		m.log.Warnf("put quorum failed for key %q: %v", key, err)
		return WriteResult{Acks: acks, Err: err}
	}
	return WriteResult{Success: true, Acks: acks}
}

func (m *Manager) putOne(nodeID, key, value string, ts kvtypes.Timestamp) bool {
	if nodeID == m.selfID {
		ok := m.storage.Put(key, value, ts, m.selfID)
		telemetry.ReplicationAcksTotal.WithLabelValues("put", ackLabel(ok)).Inc()
		return ok
	}

	member, ok := m.members.GetMember(nodeID)
	if !ok || !member.IsAlive {
		telemetry.ReplicationAcksTotal.WithLabelValues("put", "nack").Inc()
		return false
	}

	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpInternalPut))
	req.WriteString(key)
	req.WriteString(value)
	req.WriteUint64(uint64(ts))
	req.WriteString(m.selfID)

	resp, err := m.call(member.Address(), req.Bytes())
	if err != nil {
		telemetry.ReplicationAcksTotal.WithLabelValues("put", "error").Inc()
		return false
	}

	status, err := wire.NewBufferFrom(resp).ReadUint8()
	ack := err == nil && kvtypes.StatusCode(status) == kvtypes.StatusOK
	telemetry.ReplicationAcksTotal.WithLabelValues("put", ackLabel(ack)).Inc()
	return ack
}

// ReplicatedGet reads key from N replicas, waits for at least R responses,
// picks the value with the highest timestamp among them, and fires off
// asynchronous read repair to any replica that returned an older or
// missing value.
func (m *Manager) ReplicatedGet(key string) ReadResult {
	nodes, err := m.ring.GetNodes(key, m.N)
	if err != nil {
		return ReadResult{Err: err}
	}

	type readResponse struct {
		ok     bool
		value  *kvtypes.VersionedValue
		nodeID string
	}

	responses := make(chan readResponse, len(nodes))
	for _, nodeID := range nodes {
		nodeID := nodeID
		go func() {
			v, ok := m.getOne(nodeID, key)
			responses <- readResponse{ok: ok, value: v, nodeID: nodeID}
		}()
	}

	var collected []readResponse
	responseCount := 0
	for range nodes {
		r := <-responses
		if r.ok {
			responseCount++
			collected = append(collected, r)
		}
	}

	if responseCount < m.R {
		telemetry.QuorumOutcomeTotal.WithLabelValues("get", "quorum_failed").Inc()
		err := kverrors.Newf(kverrors.CodeQuorumNotReached, "read quorum not reached: %d/%d", responseCount, m.R)
		return ReadResult{Responses: responseCount, Err: err}
	}
	telemetry.QuorumOutcomeTotal.WithLabelValues("get", "success").Inc()

	var latest *kvtypes.VersionedValue
	for _, r := range collected {
		if r.value != nil && (latest == nil || r.value.Timestamp > latest.Timestamp) {
			latest = r.value
		}
	}

	result := ReadResult{Success: true, Responses: responseCount, Value: latest}

	if latest != nil {
		for _, r := range collected {
			if r.value == nil || r.value.Timestamp < latest.Timestamp {
				m.repair(r.nodeID, key, *latest)
			}
		}
	}

	return result
}

func (m *Manager) getOne(nodeID, key string) (*kvtypes.VersionedValue, bool) {
	if nodeID == m.selfID {
		vv, ok := m.storage.Get(key)
		if !ok {
			return nil, true
		}
		return &vv, true
	}

	member, ok := m.members.GetMember(nodeID)
	if !ok || !member.IsAlive {
		return nil, false
	}

	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpInternalGet))
	req.WriteString(key)

	resp, err := m.call(member.Address(), req.Bytes())
	if err != nil {
		return nil, false
	}

	buf := wire.NewBufferFrom(resp)
	status, err := buf.ReadUint8()
	if err != nil {
		return nil, false
	}
	if kvtypes.StatusCode(status) != kvtypes.StatusOK {
		return nil, true // NOT_FOUND is a valid response, just an empty one
	}

	value, err := buf.ReadString()
	if err != nil {
		return nil, false
	}
	ts, err := buf.ReadUint64()
	if err != nil {
		return nil, false
	}
	origin, err := buf.ReadString()
	if err != nil {
		return nil, false
	}
	vv := kvtypes.VersionedValue{Value: value, Timestamp: kvtypes.Timestamp(ts), Origin: origin}
	return &vv, true
}

// repair propagates the winning value to a stale or absent replica. It is
// fire-and-forget: the caller does not wait for it, and its failure is
// only logged, matching the original's detached-thread read repair.
func (m *Manager) repair(nodeID, key string, winner kvtypes.VersionedValue) {
	go func() {
		if nodeID == m.selfID {
			m.storage.ConditionalPut(key, winner)
			return
		}

		member, ok := m.members.GetMember(nodeID)
		if !ok || !member.IsAlive {
			return
		}
		req := wire.NewBuffer()
		req.WriteUint8(uint8(kvtypes.OpInternalPut))
		req.WriteString(key)
		req.WriteString(winner.Value)
		req.WriteUint64(uint64(winner.Timestamp))
		req.WriteString(winner.Origin)

		if _, err := m.call(member.Address(), req.Bytes()); err != nil {
			m.log.Debugf("read repair to %s failed: %v", nodeID, err)
		}
	}()
}

// ReplicatedDelete deletes key from N replicas and returns success once at
// least W have acknowledged, mirroring ReplicatedPut's quorum accounting.
func (m *Manager) ReplicatedDelete(key string) WriteResult {
	ts := kvtypes.NowMs()

	nodes, err := m.ring.GetNodes(key, m.N)
	if err != nil {
		return WriteResult{Err: err}
	}

	acks := 0
	results := make(chan bool, len(nodes))
	for _, nodeID := range nodes {
		nodeID := nodeID
		go func() {
			results <- m.deleteOne(nodeID, key, ts)
		}()
	}
	for range nodes {
		if <-results {
			acks++
		}
	}

	success := acks >= m.W
	outcome := "success"
	if !success {
		outcome = "quorum_failed"
	}
	telemetry.QuorumOutcomeTotal.WithLabelValues("delete", outcome).Inc()

	if !success {
		return WriteResult{Acks: acks, Err: kverrors.New(kverrors.CodeQuorumNotReached, "delete quorum not reached")}
	}
	return WriteResult{Success: true, Acks: acks}
}

func (m *Manager) deleteOne(nodeID, key string, ts kvtypes.Timestamp) bool {
	if nodeID == m.selfID {
		ok := m.storage.Delete(key, ts)
		telemetry.ReplicationAcksTotal.WithLabelValues("delete", ackLabel(ok)).Inc()
		return ok
	}

	member, ok := m.members.GetMember(nodeID)
	if !ok || !member.IsAlive {
		telemetry.ReplicationAcksTotal.WithLabelValues("delete", "nack").Inc()
		return false
	}

	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpInternalDelete))
	req.WriteString(key)
	req.WriteUint64(uint64(ts))

	resp, err := m.call(member.Address(), req.Bytes())
	if err != nil {
		telemetry.ReplicationAcksTotal.WithLabelValues("delete", "error").Inc()
		return false
	}
	status, err := wire.NewBufferFrom(resp).ReadUint8()
	ack := err == nil && kvtypes.StatusCode(status) == kvtypes.StatusOK
	telemetry.ReplicationAcksTotal.WithLabelValues("delete", ackLabel(ack)).Inc()
	return ack
}

func (m *Manager) call(addr string, payload []byte) ([]byte, error) {
	conn, err := m.pool.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("replication: dial %s: %w", addr, err)
	}
	resp, err := conn.SendRecv(payload)
	if err != nil {
		m.pool.Invalidate(addr)
		return nil, fmt.Errorf("replication: call %s: %w", addr, err)
	}
	return resp, nil
}

func ackLabel(ok bool) string {
	if ok {
		return "ack"
	}
	return "nack"
}
