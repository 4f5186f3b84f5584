package ring

import (
	"testing"

	"github.com/kvstore/kvstore/internal/kverrors"
)

func TestEmptyRingReturnsErrEmptyRing(t *testing.T) {
	r := New(10)
	if _, err := r.GetPrimaryNode("k"); !kverrors.Is(err, kverrors.CodeEmptyRing) {
		t.Fatalf("GetPrimaryNode on empty ring: got %v, want ErrEmptyRing", err)
	}
	if _, err := r.GetNodes("k", 3); !kverrors.Is(err, kverrors.CodeEmptyRing) {
		t.Fatalf("GetNodes on empty ring: got %v, want ErrEmptyRing", err)
	}
}

func TestAddNodeIsIdempotent(t *testing.T) {
	r := New(10)
	r.AddNode("a")
	size1 := r.RingSize()
	r.AddNode("a")
	if r.RingSize() != size1 {
		t.Fatalf("RingSize changed on duplicate AddNode: %d -> %d", size1, r.RingSize())
	}
	if r.NodeCount() != 1 {
		t.Fatalf("NodeCount = %d, want 1", r.NodeCount())
	}
}

func TestGetPrimaryNodeIsDeterministic(t *testing.T) {
	r := New(50)
	for _, n := range []string{"a", "b", "c"} {
		r.AddNode(n)
	}

	first, err := r.GetPrimaryNode("some-key")
	if err != nil {
		t.Fatalf("GetPrimaryNode: %v", err)
	}
	for i := 0; i < 100; i++ {
		got, err := r.GetPrimaryNode("some-key")
		if err != nil {
			t.Fatalf("GetPrimaryNode: %v", err)
		}
		if got != first {
			t.Fatalf("GetPrimaryNode not deterministic: got %q, want %q", got, first)
		}
	}
}

func TestGetNodesReturnsDistinctPhysicalNodes(t *testing.T) {
	r := New(150)
	for _, n := range []string{"a", "b", "c", "d"} {
		r.AddNode(n)
	}

	nodes, err := r.GetNodes("key-1", 3)
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
	seen := make(map[string]bool)
	for _, n := range nodes {
		if seen[n] {
			t.Fatalf("GetNodes returned duplicate node %q", n)
		}
		seen[n] = true
	}
}

func TestGetNodesClampsToPhysicalNodeCount(t *testing.T) {
	r := New(150)
	r.AddNode("a")
	r.AddNode("b")

	nodes, err := r.GetNodes("key-1", 10)
	if err != nil {
		t.Fatalf("GetNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2 (clamped to physical node count)", len(nodes))
	}
}

func TestRemoveNodeRedistributesKeys(t *testing.T) {
	r := New(150)
	for _, n := range []string{"a", "b", "c"} {
		r.AddNode(n)
	}

	keys := make([]string, 200)
	for i := range keys {
		keys[i] = "key-" + string(rune('A'+i%26)) + string(rune(i))
	}

	before := make(map[string]string, len(keys))
	for _, k := range keys {
		owner, err := r.GetPrimaryNode(k)
		if err != nil {
			t.Fatalf("GetPrimaryNode: %v", err)
		}
		before[k] = owner
	}

	r.RemoveNode("b")

	moved := 0
	for _, k := range keys {
		owner, err := r.GetPrimaryNode(k)
		if err != nil {
			t.Fatalf("GetPrimaryNode after remove: %v", err)
		}
		if owner == "b" {
			t.Fatalf("key %q still mapped to removed node b", k)
		}
		if owner != before[k] {
			moved++
		}
	}
	// only keys that were owned by b should have moved.
	if moved == 0 || moved == len(keys) {
		t.Fatalf("moved %d of %d keys after removing one of three nodes; expected a partial reshuffle", moved, len(keys))
	}
}

func TestDistributionAcrossNodesIsReasonablyEven(t *testing.T) {
	r := New(150)
	nodes := []string{"a", "b", "c", "d", "e"}
	for _, n := range nodes {
		r.AddNode(n)
	}

	counts := make(map[string]int)
	const total = 5000
	for i := 0; i < total; i++ {
		owner, err := r.GetPrimaryNode(keyFor(i))
		if err != nil {
			t.Fatalf("GetPrimaryNode: %v", err)
		}
		counts[owner]++
	}

	expected := total / len(nodes)
	for _, n := range nodes {
		c := counts[n]
		if c < expected/3 || c > expected*3 {
			t.Errorf("node %q owns %d of %d keys, expected roughly %d", n, c, total, expected)
		}
	}
}

func keyFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 0, 12)
	for i > 0 || len(b) == 0 {
		b = append(b, letters[i%len(letters)])
		i /= len(letters)
	}
	return "key-" + string(b)
}
