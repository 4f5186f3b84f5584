package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kvstore/kvstore/internal/config"
	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/logger"
	"github.com/kvstore/kvstore/internal/membership"
	"github.com/kvstore/kvstore/internal/replication"
	"github.com/kvstore/kvstore/internal/ring"
	"github.com/kvstore/kvstore/internal/rpcpool"
	"github.com/kvstore/kvstore/internal/storage"
	"github.com/kvstore/kvstore/internal/wire"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	engine, err := storage.Open(filepath.Join(t.TempDir(), "data"), logger.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	r := ring.New(10)
	r.AddNode("self")

	self := kvtypes.NodeInfo{NodeID: "self", Host: "127.0.0.1", Port: 7000}
	members := membership.New(self, rpcpool.New(time.Second), logger.Nop(), config.NodeConfig{})

	repl := replication.New("self", engine, r, members, rpcpool.New(time.Second), logger.Nop(), 1, 1, 1)

	return New("self", engine, members, repl, logger.Nop())
}

func readStatus(t *testing.T, resp []byte) (kvtypes.StatusCode, *wire.Buffer) {
	t.Helper()
	buf := wire.NewBufferFrom(resp)
	status, err := buf.ReadUint8()
	if err != nil {
		t.Fatalf("ReadUint8 status: %v", err)
	}
	return kvtypes.StatusCode(status), buf
}

func TestHandlePutThenGet(t *testing.T) {
	c := newTestCoordinator(t)

	put := wire.NewBuffer()
	put.WriteUint8(uint8(kvtypes.OpPut))
	put.WriteString("k")
	put.WriteString("v1")

	status, _ := readStatus(t, c.Handle(put.Bytes()))
	if status != kvtypes.StatusOK {
		t.Fatalf("PUT status = %v, want OK", status)
	}

	get := wire.NewBuffer()
	get.WriteUint8(uint8(kvtypes.OpGet))
	get.WriteString("k")

	status, buf := readStatus(t, c.Handle(get.Bytes()))
	if status != kvtypes.StatusOK {
		t.Fatalf("GET status = %v, want OK", status)
	}
	value, err := buf.ReadString()
	if err != nil || value != "v1" {
		t.Fatalf("GET value = %q err=%v, want v1", value, err)
	}
}

func TestHandleGetMissingKeyReturnsNotFound(t *testing.T) {
	c := newTestCoordinator(t)

	get := wire.NewBuffer()
	get.WriteUint8(uint8(kvtypes.OpGet))
	get.WriteString("missing")

	status, _ := readStatus(t, c.Handle(get.Bytes()))
	if status != kvtypes.StatusNotFound {
		t.Fatalf("GET status = %v, want NOT_FOUND", status)
	}
}

func TestHandleDelete(t *testing.T) {
	c := newTestCoordinator(t)

	put := wire.NewBuffer()
	put.WriteUint8(uint8(kvtypes.OpPut))
	put.WriteString("k")
	put.WriteString("v1")
	c.Handle(put.Bytes())

	// PUT and DELETE are stamped with wall-clock milliseconds, and a delete
	// whose timestamp equals the stored one is rejected as stale.
	time.Sleep(2 * time.Millisecond)

	del := wire.NewBuffer()
	del.WriteUint8(uint8(kvtypes.OpDelete))
	del.WriteString("k")
	status, _ := readStatus(t, c.Handle(del.Bytes()))
	if status != kvtypes.StatusOK {
		t.Fatalf("DELETE status = %v, want OK", status)
	}

	get := wire.NewBuffer()
	get.WriteUint8(uint8(kvtypes.OpGet))
	get.WriteString("k")
	status, _ = readStatus(t, c.Handle(get.Bytes()))
	if status != kvtypes.StatusNotFound {
		t.Fatalf("GET after DELETE status = %v, want NOT_FOUND", status)
	}
}

// A remote INTERNAL_PUT always acknowledges OK even when the local store
// already holds a newer value, per the deliberate asymmetric accept/reject
// trade-off documented on replication.Manager.
func TestHandleInternalPutAlwaysAcksOk(t *testing.T) {
	c := newTestCoordinator(t)

	fresh := wire.NewBuffer()
	fresh.WriteUint8(uint8(kvtypes.OpInternalPut))
	fresh.WriteString("k")
	fresh.WriteString("v-new")
	fresh.WriteUint64(uint64(kvtypes.NowMs()))
	fresh.WriteString("self")
	status, _ := readStatus(t, c.Handle(fresh.Bytes()))
	if status != kvtypes.StatusOK {
		t.Fatalf("status = %v, want OK", status)
	}

	stale := wire.NewBuffer()
	stale.WriteUint8(uint8(kvtypes.OpInternalPut))
	stale.WriteString("k")
	stale.WriteString("v-stale")
	stale.WriteUint64(1) // far in the past
	stale.WriteString("self")
	status, _ = readStatus(t, c.Handle(stale.Bytes()))
	if status != kvtypes.StatusOK {
		t.Fatalf("stale INTERNAL_PUT status = %v, want OK regardless of rejection", status)
	}

	get := wire.NewBuffer()
	get.WriteUint8(uint8(kvtypes.OpGet))
	get.WriteString("k")
	_, buf := readStatus(t, c.Handle(get.Bytes()))
	value, _ := buf.ReadString()
	if value != "v-new" {
		t.Fatalf("value = %q, want v-new (stale write must not have been applied)", value)
	}
}

func TestHandleClusterInfo(t *testing.T) {
	c := newTestCoordinator(t)

	req := wire.NewBuffer()
	req.WriteUint8(uint8(kvtypes.OpClusterInfo))

	status, buf := readStatus(t, c.Handle(req.Bytes()))
	if status != kvtypes.StatusOK {
		t.Fatalf("status = %v, want OK", status)
	}
	count, err := buf.ReadUint32()
	if err != nil || count != 1 {
		t.Fatalf("member count = %d err=%v, want 1 (self)", count, err)
	}
}

func TestHandleUnknownOpReturnsError(t *testing.T) {
	c := newTestCoordinator(t)

	req := wire.NewBuffer()
	req.WriteUint8(255)

	status, _ := readStatus(t, c.Handle(req.Bytes()))
	if status != kvtypes.StatusError {
		t.Fatalf("status = %v, want ERROR", status)
	}
}

func TestHandleEmptyPayloadReturnsError(t *testing.T) {
	c := newTestCoordinator(t)

	status, _ := readStatus(t, c.Handle([]byte{}))
	if status != kvtypes.StatusError {
		t.Fatalf("status = %v, want ERROR", status)
	}
}
