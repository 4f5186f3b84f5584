// Package storage implements the node's local storage engine: an
// in-memory map of keys to versioned values, guarded by a reader-writer
// lock and backed by a write-ahead log for crash recovery. Conflicts
// between writers are resolved by last-writer-wins on the value's
// timestamp; the WAL append always happens before the in-memory update,
// so a crash between the two only ever loses an applied-but-not-yet-synced
// update, never a synced one.
package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kvstore/kvstore/internal/kvtypes"
	"github.com/kvstore/kvstore/internal/logger"
	"github.com/kvstore/kvstore/internal/telemetry"
	"github.com/kvstore/kvstore/internal/wal"
)

// Engine is the thread-safe key-value storage engine for one node.
type Engine struct {
	mu    sync.RWMutex
	store map[string]kvtypes.VersionedValue
	wal   *wal.WAL
	log   *logger.Logger
}

// Open creates the data directory if needed, opens the WAL at
// <dataDir>/wal.log, and returns an empty Engine. Call Recover to replay
// any existing WAL contents into memory.
func Open(dataDir string, log *logger.Logger) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, err
	}
	w, err := wal.Open(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, err
	}
	log.Infof("storage engine initialized (data_dir=%s)", dataDir)
	return &Engine{
		store: make(map[string]kvtypes.VersionedValue),
		wal:   w,
		log:   log,
	}, nil
}

func (e *Engine) appendWAL(op kvtypes.OpType, key, value string, ts kvtypes.Timestamp) {
	start := time.Now()
	if err := e.wal.Append(op, key, value, ts); err != nil {
		e.log.Errorf("wal append failed for key %q: %v", key, err)
	}
	telemetry.WALAppendDuration.Observe(time.Since(start).Seconds())
}

// Put writes the WAL record first, then applies the update to memory. It
// returns false if a concurrently newer value already won — a stale write
// is logged to the WAL regardless, matching the WAL's append-everything,
// reconcile-by-timestamp-on-replay design.
func (e *Engine) Put(key, value string, ts kvtypes.Timestamp, origin string) bool {
	e.appendWAL(kvtypes.OpPut, key, value, ts)

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.store[key]; ok && existing.Timestamp >= ts {
		return false
	}
	e.store[key] = kvtypes.VersionedValue{Value: value, Timestamp: ts, Origin: origin}
	telemetry.StoreSize.Set(float64(len(e.store)))
	return true
}

// Get returns the versioned value for key, if present.
func (e *Engine) Get(key string) (kvtypes.VersionedValue, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	vv, ok := e.store[key]
	return vv, ok
}

// Delete removes key if ts is newer than the stored timestamp. It returns
// false for a missing key or a stale delete.
func (e *Engine) Delete(key string, ts kvtypes.Timestamp) bool {
	e.appendWAL(kvtypes.OpDelete, key, "", ts)

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.store[key]
	if !ok || existing.Timestamp >= ts {
		return false
	}
	delete(e.store, key)
	telemetry.StoreSize.Set(float64(len(e.store)))
	return true
}

// ConditionalPut applies vv only if it is newer than any value already
// stored for key. Unlike Put, the caller supplies the full VersionedValue
// (including origin), as used by replica-to-replica replication and read
// repair where the writer is not the value's origin node.
func (e *Engine) ConditionalPut(key string, vv kvtypes.VersionedValue) bool {
	e.appendWAL(kvtypes.OpPut, key, vv.Value, vv.Timestamp)

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.store[key]; ok && existing.Timestamp >= vv.Timestamp {
		return false
	}
	e.store[key] = vv
	telemetry.StoreSize.Set(float64(len(e.store)))
	return true
}

// KeyValue pairs a key with its versioned value, used by the bulk API.
type KeyValue struct {
	Key   string
	Value kvtypes.VersionedValue
}

// GetAllData returns a snapshot of every key currently held. No request
// handler calls it: the coordinator has no TRANSFER_KEYS handler.
func (e *Engine) GetAllData() []KeyValue {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]KeyValue, 0, len(e.store))
	for k, v := range e.store {
		result = append(result, KeyValue{Key: k, Value: v})
	}
	return result
}

// BulkPut applies a batch of entries without going through the WAL,
// matching the original's deliberate trade-off of accepting a window of
// reduced durability in exchange for avoiding N WAL syncs during a bulk
// transfer. Entries are only applied if newer than what's already stored.
func (e *Engine) BulkPut(entries []KeyValue) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, kv := range entries {
		existing, ok := e.store[kv.Key]
		if !ok || existing.Timestamp < kv.Value.Timestamp {
			e.store[kv.Key] = kv.Value
		}
	}
	telemetry.StoreSize.Set(float64(len(e.store)))
}

// RemoveKeys deletes the given keys without going through the WAL,
// matching BulkPut's trade-off for symmetry during rebalancing.
func (e *Engine) RemoveKeys(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, k := range keys {
		delete(e.store, k)
	}
	telemetry.StoreSize.Set(float64(len(e.store)))
}

// Recover replays the WAL into memory. PUT/INTERNAL_PUT entries apply if
// strictly newer than what's stored; DELETE/INTERNAL_DELETE entries apply
// if the stored value's timestamp is less than or equal to the delete's
// timestamp — an equal-timestamp delete wins over a put, so a delete that
// raced a put for the same millisecond is never silently dropped on
// replay.
func (e *Engine) Recover() error {
	entries, err := e.wal.Replay()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	for _, entry := range entries {
		switch entry.Op {
		case kvtypes.OpPut, kvtypes.OpInternalPut:
			existing, ok := e.store[entry.Key]
			if !ok || existing.Timestamp < entry.Timestamp {
				e.store[entry.Key] = kvtypes.VersionedValue{Value: entry.Value, Timestamp: entry.Timestamp}
				applied++
			}
		case kvtypes.OpDelete, kvtypes.OpInternalDelete:
			existing, ok := e.store[entry.Key]
			if ok && existing.Timestamp <= entry.Timestamp {
				delete(e.store, entry.Key)
				applied++
			}
		}
	}

	telemetry.StoreSize.Set(float64(len(e.store)))
	e.log.Infof("recovery complete: %d wal entries, %d applied, store size = %d", len(entries), applied, len(e.store))
	return nil
}

// Size returns the number of keys currently held.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.store)
}

// Close closes the underlying WAL.
func (e *Engine) Close() error {
	return e.wal.Close()
}
