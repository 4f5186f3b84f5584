// Package ring implements the consistent-hash partitioner that maps keys
// to the physical nodes responsible for replicating them. Each physical
// node owns a configurable number of virtual nodes scattered around a
// 32-bit hash space, so that adding or removing one node only reshuffles
// an even, proportional slice of the keyspace.
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kvstore/kvstore/internal/kverrors"
)

// DefaultVirtualNodes is the number of virtual nodes placed per physical
// node when none is configured.
const DefaultVirtualNodes = 150

// Ring is a consistent-hash ring over physical node ids. It is safe for
// concurrent use.
type Ring struct {
	mu            sync.Mutex
	virtualNodes  int
	points        []uint32          // sorted vnode hashes
	owners        map[uint32]string // vnode hash -> physical node id
	physicalNodes map[string]struct{}
}

// New creates an empty ring with virtualNodes virtual nodes per physical
// node. A virtualNodes of 0 or less falls back to DefaultVirtualNodes.
func New(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes:  virtualNodes,
		owners:        make(map[uint32]string),
		physicalNodes: make(map[string]struct{}),
	}
}

func vnodeKey(nodeID string, index int) string {
	return fmt.Sprintf("%s#%d", nodeID, index)
}

func hashKey(key string) uint32 {
	return hashMurmur3([]byte(key), 0)
}

// AddNode adds a physical node and its virtual nodes to the ring. It is a
// no-op if the node is already present.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.physicalNodes[nodeID]; ok {
		return
	}
	r.physicalNodes[nodeID] = struct{}{}

	for i := 0; i < r.virtualNodes; i++ {
		h := hashKey(vnodeKey(nodeID, i))
		r.owners[h] = nodeID
	}
	r.rebuildPoints()
}

// RemoveNode removes a physical node and its virtual nodes from the ring.
// It is a no-op if the node is not present.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.physicalNodes[nodeID]; !ok {
		return
	}
	delete(r.physicalNodes, nodeID)

	for i := 0; i < r.virtualNodes; i++ {
		h := hashKey(vnodeKey(nodeID, i))
		delete(r.owners, h)
	}
	r.rebuildPoints()
}

// rebuildPoints must be called with mu held after owners changes.
func (r *Ring) rebuildPoints() {
	points := make([]uint32, 0, len(r.owners))
	for h := range r.owners {
		points = append(points, h)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	r.points = points
}

// HasNode reports whether the given physical node is a ring member.
func (r *Ring) HasNode(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.physicalNodes[nodeID]
	return ok
}

// GetPrimaryNode returns the physical node id responsible for key: the
// owner of the first virtual node whose hash is greater than the key's
// hash, wrapping around to the smallest hash if the key's hash is greater
// than every virtual node's.
func (r *Ring) GetPrimaryNode(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.points) == 0 {
		return "", kverrors.ErrEmptyRing
	}
	h := hashKey(key)
	idx := upperBound(r.points, h)
	if idx == len(r.points) {
		idx = 0
	}
	return r.owners[r.points[idx]], nil
}

// GetNodes returns up to count distinct physical nodes responsible for
// key, walking clockwise from the key's position. count is clamped to the
// number of physical nodes currently in the ring.
func (r *Ring) GetNodes(key string, count int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.points) == 0 {
		return nil, kverrors.ErrEmptyRing
	}
	if available := len(r.physicalNodes); count > available {
		count = available
	}

	h := hashKey(key)
	idx := upperBound(r.points, h)

	result := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	for steps := 0; len(result) < count && steps < len(r.points); steps++ {
		if idx == len(r.points) {
			idx = 0
		}
		owner := r.owners[r.points[idx]]
		if _, ok := seen[owner]; !ok {
			seen[owner] = struct{}{}
			result = append(result, owner)
		}
		idx++
	}
	return result, nil
}

// upperBound returns the index of the first element strictly greater than
// h, or len(points) if none exists.
func upperBound(points []uint32, h uint32) int {
	return sort.Search(len(points), func(i int) bool { return points[i] > h })
}

// HashKey exposes the ring's key-hashing function, used by callers that
// need to reason about a key's position without a full lookup.
func (r *Ring) HashKey(key string) uint32 {
	return hashKey(key)
}

// NodeCount returns the number of physical nodes in the ring.
func (r *Ring) NodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.physicalNodes)
}

// RingSize returns the number of virtual nodes currently placed.
func (r *Ring) RingSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

// AllNodes returns the set of physical node ids currently in the ring.
func (r *Ring) AllNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes := make([]string, 0, len(r.physicalNodes))
	for n := range r.physicalNodes {
		nodes = append(nodes, n)
	}
	return nodes
}
