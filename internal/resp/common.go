package resp

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

const (
	RESPString     = '+'
	RESPError      = '-'
	RESPBulkString = '$'
	RESPArray      = '*'
)

// Decoder limits. Exceeding any of them is a protocol violation.
const (
	MaxBulkLen  = 512 * 1024 * 1024
	MaxArrayLen = 1 << 20
	MaxLineLen  = 64 * 1024
	MaxDepth    = 64
)

var (
	// ErrProtocol marks malformed input: an unsupported type tag, a bad
	// length field, a bulk string not followed by CRLF, or a stream that
	// ends in the middle of a message.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrIncomplete is returned by Parse when the buffer holds only a
	// prefix of a message.
	ErrIncomplete = errors.New("resp: incomplete message")
)

// ParseLength parses a non-negative decimal length field. Surrounding
// spaces and tabs are ignored.
func ParseLength(data []byte) (int, error) {
	data = bytes.Trim(data, " \t")
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty length", ErrProtocol)
	}
	if data[0] == '-' {
		return 0, fmt.Errorf("%w: negative length %q", ErrProtocol, data)
	}

	result := 0
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: invalid digit %q in length", ErrProtocol, b)
		}
		result = result*10 + int(b-'0')
		if result > math.MaxInt32 {
			return 0, fmt.Errorf("%w: length too large", ErrProtocol)
		}
	}
	return result, nil
}
