// Package respclient is a small RESP client for tests and load generation.
package respclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/VoolFI71/respkv/internal/resp"
)

// Response is one reply read from the server.
type Response struct {
	Type  byte
	Str   string
	Null  bool
	Array []Response
}

// Err returns the server error carried by a '-' reply.
func (r Response) Err() error {
	if r.Type != resp.RESPError {
		return nil
	}
	return &ServerError{Msg: r.Str}
}

type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string { return "server error: " + e.Msg }

var ErrUnexpectedReply = errors.New("respclient: unexpected reply")

type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	buf    []byte
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		writer: bufio.NewWriterSize(conn, 64*1024),
	}
}

// Send buffers a command without flushing, for pipelining.
func (c *Client) Send(args ...string) error {
	c.buf = resp.AppendBulkStringArray(c.buf[:0], args)
	_, err := c.writer.Write(c.buf)
	return err
}

// SendRaw buffers bytes exactly as given.
func (c *Client) SendRaw(data []byte) error {
	_, err := c.writer.Write(data)
	return err
}

func (c *Client) Flush() error {
	return c.writer.Flush()
}

// Do sends one command and waits for its reply.
func (c *Client) Do(args ...string) (Response, error) {
	if err := c.Send(args...); err != nil {
		return Response{}, err
	}
	if err := c.Flush(); err != nil {
		return Response{}, err
	}
	return c.Receive()
}

// Receive reads the next reply.
func (c *Client) Receive() (Response, error) {
	line, err := c.readLine()
	if err != nil {
		return Response{}, err
	}
	if len(line) == 0 {
		return Response{}, fmt.Errorf("%w: empty line", ErrUnexpectedReply)
	}

	switch line[0] {
	case resp.RESPString, resp.RESPError:
		return Response{Type: line[0], Str: string(line[1:])}, nil
	case resp.RESPBulkString:
		n, err := strconv.Atoi(string(line[1:]))
		if err != nil {
			return Response{}, fmt.Errorf("%w: bulk length %q", ErrUnexpectedReply, line[1:])
		}
		if n < 0 {
			return Response{Type: resp.RESPBulkString, Null: true}, nil
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(c.reader, data); err != nil {
			return Response{}, err
		}
		return Response{Type: resp.RESPBulkString, Str: string(data[:n])}, nil
	case resp.RESPArray:
		n, err := strconv.Atoi(string(line[1:]))
		if err != nil {
			return Response{}, fmt.Errorf("%w: array length %q", ErrUnexpectedReply, line[1:])
		}
		r := Response{Type: resp.RESPArray, Null: n < 0}
		for i := 0; i < n; i++ {
			elem, err := c.Receive()
			if err != nil {
				return Response{}, err
			}
			r.Array = append(r.Array, elem)
		}
		return r, nil
	}
	return Response{}, fmt.Errorf("%w: type %q", ErrUnexpectedReply, line[0])
}

func (c *Client) readLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: line not terminated by CRLF", ErrUnexpectedReply)
	}
	return line[:len(line)-2], nil
}

func (c *Client) Ping() error {
	r, err := c.Do("PING")
	if err != nil {
		return err
	}
	if r.Type != resp.RESPString || r.Str != "PONG" {
		return fmt.Errorf("%w: %+v", ErrUnexpectedReply, r)
	}
	return nil
}

func (c *Client) Set(key, value string) error {
	r, err := c.Do("SET", key, value)
	if err != nil {
		return err
	}
	return r.Err()
}

// Get returns the value of key and false if the server replied with a null
// bulk string.
func (c *Client) Get(key string) (string, bool, error) {
	r, err := c.Do("GET", key)
	if err != nil {
		return "", false, err
	}
	if err := r.Err(); err != nil {
		return "", false, err
	}
	return r.Str, !r.Null, nil
}

// SetDeadline bounds every following read and write.
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
