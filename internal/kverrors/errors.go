// Package kverrors defines the typed error codes callers branch on across
// the store: the coordinator, the replication manager and the CLI client
// all need to distinguish "not found" from "quorum not reached" from a
// malformed wire frame without string-matching error text.
package kverrors

import "fmt"

// Code classifies a cluster-level failure.
type Code uint8

const (
	CodeInternal        Code = iota // unexpected internal failure
	CodeNotFound                    // key does not exist
	CodeQuorumNotReached            // fewer than R/W replicas responded
	CodeEmptyRing                   // hash ring has no nodes
	CodeMalformedFrame              // wire frame failed to decode
	CodeMessageTooLarge             // frame exceeds the maximum payload size
)

func (c Code) String() string {
	switch c {
	case CodeInternal:
		return "internal"
	case CodeNotFound:
		return "not_found"
	case CodeQuorumNotReached:
		return "quorum_not_reached"
	case CodeEmptyRing:
		return "empty_ring"
	case CodeMalformedFrame:
		return "malformed_frame"
	case CodeMessageTooLarge:
		return "message_too_large"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by store-level operations.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kvstore error (%s): %s", e.Code, e.Msg)
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrNotFound and ErrEmptyRing are the sentinels most callers actually need
// to compare against. Quorum failures carry CodeQuorumNotReached and are
// built per request with Newf; use Is to test for them.
var (
	ErrNotFound  = New(CodeNotFound, "key not found")
	ErrEmptyRing = New(CodeEmptyRing, "hash ring is empty")
)

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
