package resp

import "strings"

// Reply is a value a command handler sends back to the client.
type Reply interface {
	AppendReply(dst []byte) []byte
}

type SimpleString string

func (s SimpleString) AppendReply(dst []byte) []byte { return AppendSimpleString(dst, string(s)) }

type BulkString string

func (s BulkString) AppendReply(dst []byte) []byte { return AppendBulkString(dst, string(s)) }

// NullBulkString encodes as $-1, the reply for a missing value.
type NullBulkString struct{}

func (NullBulkString) AppendReply(dst []byte) []byte { return AppendNullBulkString(dst) }

type BulkStringArray []string

func (a BulkStringArray) AppendReply(dst []byte) []byte { return AppendBulkStringArray(dst, a) }

// Error is only sent when strict error replies are enabled.
type Error string

func (e Error) AppendReply(dst []byte) []byte { return AppendError(dst, string(e)) }

// ProtocolError is the strict-mode reply sent before closing a connection
// on malformed input.
func ProtocolError(err error) Error {
	detail := strings.ReplaceAll(err.Error(), ErrProtocol.Error()+": ", "")
	return Error("ERR Protocol error: " + detail)
}

var (
	OK   Reply = SimpleString("OK")
	Pong Reply = SimpleString("PONG")
	Null Reply = NullBulkString{}
)
