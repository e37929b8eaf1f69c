package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// source is where decode pulls bytes from. The streaming implementation
// blocks until data arrives; the buffer implementation reports
// ErrIncomplete instead.
type source interface {
	readByte() (byte, error)
	// readLine returns the bytes up to the next CRLF, excluding it. The
	// slice is only valid until the next call.
	readLine() ([]byte, error)
	// readFull returns exactly n bytes. The slice is only valid until the
	// next call.
	readFull(n int) ([]byte, error)
}

func decode(src source, depth int) (Value, error) {
	tag, err := src.readByte()
	if err != nil {
		if depth == 0 && err == io.EOF {
			return Value{}, io.EOF
		}
		return Value{}, fieldError(err)
	}

	switch tag {
	case RESPString:
		line, err := src.readLine()
		if err != nil {
			return Value{}, fieldError(err)
		}
		return Value{Type: TypeSimpleString, Str: strings.TrimFunc(string(line), unicode.IsControl)}, nil

	case RESPBulkString:
		n, err := readLength(src, MaxBulkLen, "bulk string")
		if err != nil {
			return Value{}, err
		}
		data, err := src.readFull(n + 2)
		if err != nil {
			return Value{}, fieldError(err)
		}
		if data[n] != '\r' || data[n+1] != '\n' {
			return Value{}, fmt.Errorf("%w: bulk string %q not terminated by CRLF", ErrProtocol, data[:n])
		}
		return Value{Type: TypeBulkString, Str: strings.TrimSpace(string(data[:n]))}, nil

	case RESPArray:
		if depth >= MaxDepth {
			return Value{}, fmt.Errorf("%w: arrays nested deeper than %d", ErrProtocol, MaxDepth)
		}
		n, err := readLength(src, MaxArrayLen, "array")
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, min(n, 64))
		for i := 0; i < n; i++ {
			v, err := decode(src, depth+1)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, v)
		}
		return Value{Type: TypeArray, Array: elems}, nil
	}

	return Value{}, fmt.Errorf("%w: unsupported type tag %q", ErrProtocol, tag)
}

func readLength(src source, limit int, what string) (int, error) {
	line, err := src.readLine()
	if err != nil {
		return 0, fieldError(err)
	}
	n, err := ParseLength(line)
	if err != nil {
		return 0, fmt.Errorf("invalid %s length: %w", what, err)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: %s length %d exceeds limit %d", ErrProtocol, what, n, limit)
	}
	return n, nil
}

// fieldError maps an end of stream inside a message to a protocol error.
func fieldError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrProtocol, io.ErrUnexpectedEOF)
	}
	return err
}

// Decoder reads RESP messages from a byte stream. Data may arrive in chunks
// of any size; Decode blocks until a whole message is available.
type Decoder struct {
	src streamSource
}

func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, 64*1024)
}

func NewDecoderSize(r io.Reader, size int) *Decoder {
	return &Decoder{src: streamSource{r: bufio.NewReaderSize(r, size)}}
}

// Decode reads exactly one message. It returns io.EOF when the stream ends
// cleanly between messages and an error wrapping ErrProtocol for malformed
// input, including a stream that ends mid-message.
func (d *Decoder) Decode() (Value, error) {
	return decode(&d.src, 0)
}

// Buffered returns the number of bytes read from the stream but not yet
// consumed by Decode.
func (d *Decoder) Buffered() int {
	return d.src.r.Buffered()
}

type streamSource struct {
	r    *bufio.Reader
	line []byte
	data []byte
}

func (s *streamSource) readByte() (byte, error) {
	return s.r.ReadByte()
}

func (s *streamSource) readLine() ([]byte, error) {
	s.line = s.line[:0]
	for {
		frag, err := s.r.ReadSlice('\n')
		s.line = append(s.line, frag...)
		if len(s.line) > MaxLineLen+2 {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, MaxLineLen)
		}
		switch {
		case err == nil:
			// A bare LF belongs to the field; only CRLF ends it.
			if n := len(s.line); n >= 2 && s.line[n-2] == '\r' {
				return s.line[:n-2], nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			return nil, err
		}
	}
}

// Payloads up to scratchSize reuse one buffer per connection. Larger ones
// are read into a fresh buffer that grows with the bytes actually received,
// so a declared length alone never reserves memory.
const scratchSize = 64 * 1024

func (s *streamSource) readFull(n int) ([]byte, error) {
	if n <= scratchSize {
		if cap(s.data) < n {
			s.data = make([]byte, n, scratchSize)
		}
		s.data = s.data[:n]
		if _, err := io.ReadFull(s.r, s.data); err != nil {
			return nil, err
		}
		return s.data, nil
	}

	var buf bytes.Buffer
	buf.Grow(scratchSize)
	if _, err := io.CopyN(&buf, s.r, int64(n)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes one message from the front of buf and reports how many bytes
// it used. It returns ErrIncomplete when buf holds only a prefix of a
// message; the caller should retry once more bytes have arrived.
func Parse(buf []byte) (Value, int, error) {
	src := bufferSource{buf: buf}
	v, err := decode(&src, 0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, src.pos, nil
}

var crlf = []byte{'\r', '\n'}

type bufferSource struct {
	buf []byte
	pos int
}

func (s *bufferSource) readByte() (byte, error) {
	if s.pos >= len(s.buf) {
		return 0, ErrIncomplete
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}

func (s *bufferSource) readLine() ([]byte, error) {
	rest := s.buf[s.pos:]
	i := bytes.Index(rest, crlf)
	if i < 0 {
		if len(rest) > MaxLineLen+2 {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, MaxLineLen)
		}
		return nil, ErrIncomplete
	}
	if i > MaxLineLen {
		return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, MaxLineLen)
	}
	s.pos += i + 2
	return rest[:i], nil
}

func (s *bufferSource) readFull(n int) ([]byte, error) {
	if len(s.buf)-s.pos < n {
		return nil, ErrIncomplete
	}
	data := s.buf[s.pos : s.pos+n]
	s.pos += n
	return data, nil
}
