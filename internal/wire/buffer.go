// Package wire implements the binary protocol every node and client
// speaks: length-prefixed frames carrying a payload whose first byte is an
// operation or status code, followed by big-endian integers and
// length-prefixed strings.
package wire

import (
	"encoding/binary"

	"github.com/kvstore/kvstore/internal/kverrors"
)

// Buffer is a growable byte buffer with big-endian writers and
// bounds-checked readers, used to build and parse message payloads.
type Buffer struct {
	data    []byte
	readPos int
}

// NewBuffer returns an empty write buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// NewBufferFrom wraps an existing byte slice for reading.
func NewBufferFrom(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) WriteUint8(v uint8)  { b.data = append(b.data, v) }
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}
func (b *Buffer) WriteUint16(v uint16) { b.data = binary.BigEndian.AppendUint16(b.data, v) }
func (b *Buffer) WriteUint32(v uint32) { b.data = binary.BigEndian.AppendUint32(b.data, v) }
func (b *Buffer) WriteUint64(v uint64) { b.data = binary.BigEndian.AppendUint64(b.data, v) }
func (b *Buffer) WriteString(s string) {
	b.WriteUint32(uint32(len(s)))
	b.data = append(b.data, s...)
}

func (b *Buffer) ensureReadable(n int) error {
	if b.readPos+n > len(b.data) {
		return kverrors.New(kverrors.CodeMalformedFrame, "buffer underflow")
	}
	return nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	if err := b.ensureReadable(1); err != nil {
		return 0, err
	}
	v := b.data[b.readPos]
	b.readPos++
	return v, nil
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

func (b *Buffer) ReadUint16() (uint16, error) {
	if err := b.ensureReadable(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.readPos:])
	b.readPos += 2
	return v, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.ensureReadable(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.readPos:])
	b.readPos += 4
	return v, nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.ensureReadable(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.readPos:])
	b.readPos += 8
	return v, nil
}

func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	if err := b.ensureReadable(int(n)); err != nil {
		return "", err
	}
	s := string(b.data[b.readPos : b.readPos+int(n)])
	b.readPos += int(n)
	return s, nil
}

// Bytes returns the buffer's written contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.readPos }

// ResetRead rewinds the read cursor to the start of the buffer.
func (b *Buffer) ResetRead() { b.readPos = 0 }
