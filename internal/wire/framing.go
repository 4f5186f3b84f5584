package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kvstore/kvstore/internal/kvtypes"
)

// MaxMessageSize bounds the payload length a frame may declare, so a
// corrupt or hostile length prefix can't make a node allocate unbounded
// memory. 64 MiB is the same value as config.DefaultMaxMessageSize.
const MaxMessageSize = 64 * 1024 * 1024

// WriteMessage sends a length-prefixed frame: [4B length][payload].
func WriteMessage(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage receives one length-prefixed frame, rejecting any length
// beyond MaxMessageSize before allocating a buffer for it.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageSize {
		return nil, fmt.Errorf("wire: message length %d exceeds max %d", length, MaxMessageSize)
	}
	if length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// MakeOkResponse builds a bare OK status response.
func MakeOkResponse() []byte {
	b := NewBuffer()
	b.WriteUint8(uint8(kvtypes.StatusOK))
	return b.Bytes()
}

// MakeErrorResponse builds an ERROR response carrying a message string.
func MakeErrorResponse(msg string) []byte {
	b := NewBuffer()
	b.WriteUint8(uint8(kvtypes.StatusError))
	b.WriteString(msg)
	return b.Bytes()
}

// MakeNotFoundResponse builds a bare NOT_FOUND response.
func MakeNotFoundResponse() []byte {
	b := NewBuffer()
	b.WriteUint8(uint8(kvtypes.StatusNotFound))
	return b.Bytes()
}

// MakeValueResponse builds an OK response carrying a versioned value.
func MakeValueResponse(vv kvtypes.VersionedValue) []byte {
	b := NewBuffer()
	b.WriteUint8(uint8(kvtypes.StatusOK))
	b.WriteString(vv.Value)
	b.WriteUint64(uint64(vv.Timestamp))
	b.WriteString(vv.Origin)
	return b.Bytes()
}
