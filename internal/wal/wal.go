// Package wal implements the node's write-ahead log: an append-only file
// of CRC-protected records that makes every mutation durable before it is
// applied to the in-memory store.
//
// Disk format per entry:
//
//	[4B entry_size][1B op][8B timestamp][4B key_len][key][4B val_len][val][4B crc32]
//
// entry_size covers everything between itself and the trailing CRC. The CRC
// is computed over the same span (op, timestamp, key, value) using the
// IEEE/"CRC-32" polynomial (reflected 0xEDB88320), matching hash/crc32's
// default table.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/kvstore/kvstore/internal/kvtypes"
)

// Entry is one recovered WAL record.
type Entry struct {
	Op        kvtypes.OpType
	Timestamp kvtypes.Timestamp
	Key       string
	Value     string
}

// WAL is an append-only, crash-safe write-ahead log. A single WAL backs one
// node's storage engine; all Append/Replay/Truncate calls are serialized
// through mu so the file offset and the record boundaries stay consistent
// even if the caller also holds other locks.
type WAL struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// Open opens (or creates) the WAL file at path, ready for Append/Replay.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{path: path, f: f}, nil
}

// Append writes one record and fdatasyncs it before returning. A partial
// write or sync failure is logged by the caller via the returned error;
// Append does not retry, matching the original's best-effort durability.
func (w *WAL) Append(op kvtypes.OpType, key, value string, ts kvtypes.Timestamp) error {
	record := make([]byte, 0, 1+8+4+len(key)+4+len(value))
	record = append(record, byte(op))
	record = binary.BigEndian.AppendUint64(record, uint64(ts))
	record = binary.BigEndian.AppendUint32(record, uint32(len(key)))
	record = append(record, key...)
	record = binary.BigEndian.AppendUint32(record, uint32(len(value)))
	record = append(record, value...)

	crc := crc32.ChecksumIEEE(record)

	blob := make([]byte, 0, 4+len(record)+4)
	blob = binary.BigEndian.AppendUint32(blob, uint32(len(record)))
	blob = append(blob, record...)
	blob = binary.BigEndian.AppendUint32(blob, crc)

	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.f.Write(blob)
	if err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if n != len(blob) {
		return fmt.Errorf("wal: partial write (%d of %d bytes)", n, len(blob))
	}
	return w.f.Sync()
}

// Replay reads every valid record from the beginning of the log, in
// append order. It stops at the first truncated length prefix, truncated
// record body, or CRC mismatch — any of which indicates a write that was
// interrupted by a crash — rather than failing the whole recovery. The file
// offset is left at end-of-file so subsequent Append calls continue past
// whatever was (or wasn't) recovered.
func (w *WAL) Replay() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek start: %w", err)
	}

	var entries []Entry
	var lenBuf [4]byte

	for {
		if _, err := io.ReadFull(w.f, lenBuf[:]); err != nil {
			break // EOF, or a truncated length prefix: stop silently either way
		}
		entrySize := binary.BigEndian.Uint32(lenBuf[:])

		record := make([]byte, entrySize)
		if _, err := io.ReadFull(w.f, record); err != nil {
			break // truncated record body from a partial write
		}

		var crcBuf [4]byte
		if _, err := io.ReadFull(w.f, crcBuf[:]); err != nil {
			break // truncated CRC
		}
		storedCRC := binary.BigEndian.Uint32(crcBuf[:])

		if computed := crc32.ChecksumIEEE(record); computed != storedCRC {
			break // CRC mismatch: the tail of the file is corrupt, stop here
		}

		entry, ok := decodeRecord(record)
		if !ok {
			break
		}
		entries = append(entries, entry)
	}

	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return entries, fmt.Errorf("wal: seek end: %w", err)
	}
	return entries, nil
}

func decodeRecord(record []byte) (Entry, bool) {
	pos := 0
	if pos >= len(record) {
		return Entry{}, false
	}
	op := kvtypes.OpType(record[pos])
	pos++

	if pos+8 > len(record) {
		return Entry{}, false
	}
	ts := kvtypes.Timestamp(binary.BigEndian.Uint64(record[pos : pos+8]))
	pos += 8

	if pos+4 > len(record) {
		return Entry{}, false
	}
	klen := int(binary.BigEndian.Uint32(record[pos : pos+4]))
	pos += 4
	if pos+klen > len(record) {
		return Entry{}, false
	}
	key := string(record[pos : pos+klen])
	pos += klen

	if pos+4 > len(record) {
		return Entry{}, false
	}
	vlen := int(binary.BigEndian.Uint32(record[pos : pos+4]))
	pos += 4
	if pos+vlen > len(record) {
		return Entry{}, false
	}
	value := string(record[pos : pos+vlen])

	return Entry{Op: op, Timestamp: ts, Key: key, Value: value}, true
}

// Truncate discards the entire log. The store has no compaction path today
// (see the design notes on WAL growth), so this exists for tests and for
// an operator-triggered reset rather than any automatic cycle.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	_, err := w.f.Seek(0, io.SeekStart)
	return err
}

// Sync forces any buffered data to disk.
func (w *WAL) Sync() error {
	return w.f.Sync()
}

// Size returns the current file size in bytes.
func (w *WAL) Size() (int64, error) {
	info, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close syncs and closes the underlying file. Close is idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	_ = w.f.Sync()
	err := w.f.Close()
	w.f = nil
	return err
}
