// Package bench holds the pipelining client used by the load
// generator in cmd/bench and by this package's benchmarks.
package bench

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/valkrau/shardmap/internal/resp"
)

// Client speaks just enough of the wire protocol to drive a server:
// sequential request/response plus explicit pipelining via Queue,
// Flush and ReadReplies. Not safe for concurrent use; the load
// generator opens one per worker.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	cmd     []byte
	scratch []byte
}

// Dial connects to a server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 64*1024),
		w:       bufio.NewWriterSize(conn, 64*1024),
		scratch: make([]byte, 64*1024),
	}, nil
}

// Queue appends one command to the outgoing pipeline without
// flushing. Write errors surface on the next Flush.
func (c *Client) Queue(args ...string) {
	c.cmd = resp.AppendArrayHeader(c.cmd[:0], len(args))
	for _, a := range args {
		c.cmd = resp.AppendBulkString(c.cmd, a)
	}
	c.w.Write(c.cmd)
}

// Flush pushes every queued command onto the wire.
func (c *Client) Flush() error {
	return c.w.Flush()
}

// Do sends one command and returns its reply body. Error replies come
// back as errors; a null bulk string comes back as "".
func (c *Client) Do(args ...string) (string, error) {
	c.Queue(args...)
	if err := c.w.Flush(); err != nil {
		return "", err
	}
	return c.ReadReply()
}

func (c *Client) Set(key, value string) error {
	_, err := c.Do("SET", key, value)
	return err
}

func (c *Client) Get(key string) (string, error) {
	return c.Do("GET", key)
}

func (c *Client) Incr(key string) (int64, error) {
	s, err := c.Do("INCR", key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// ReadReply parses one reply. Array replies are drained and returned
// as "": the load paths only care about scalar results.
func (c *Client) ReadReply() (string, error) {
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	if len(line) < 3 {
		return "", fmt.Errorf("short reply")
	}
	body := bytes.TrimRight(line[1:], "\r\n")

	switch line[0] {
	case resp.TypeSimpleString, resp.TypeInt:
		return string(body), nil
	case resp.TypeError:
		return "", fmt.Errorf("server error: %s", body)
	case resp.TypeBulkString:
		n, err := resp.ParseInt(line[1:])
		if err != nil {
			return "", err
		}
		if n == -1 {
			return "", nil
		}
		need := n + 2
		data := c.scratch
		if need > len(data) {
			data = make([]byte, need)
		}
		data = data[:need]
		if _, err := io.ReadFull(c.r, data); err != nil {
			return "", err
		}
		return string(data[:n]), nil
	case resp.TypeArray:
		n, err := resp.ParseInt(line[1:])
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if err := c.skipReply(); err != nil {
				return "", err
			}
		}
		return "", nil
	}
	return "", fmt.Errorf("unexpected reply type %q", line[0])
}

// ReadReplies drains count pipelined replies without decoding them.
func (c *Client) ReadReplies(count int) error {
	for i := 0; i < count; i++ {
		if err := c.skipReply(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) skipReply() error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if len(line) < 3 {
		return fmt.Errorf("short reply")
	}

	switch line[0] {
	case resp.TypeSimpleString, resp.TypeError, resp.TypeInt:
		return nil
	case resp.TypeBulkString:
		n, err := resp.ParseInt(line[1:])
		if err != nil {
			return err
		}
		if n == -1 {
			return nil
		}
		need := int64(n) + 2
		if need <= int64(len(c.scratch)) {
			_, err = io.ReadFull(c.r, c.scratch[:need])
			return err
		}
		_, err = io.CopyN(io.Discard, c.r, need)
		return err
	case resp.TypeArray:
		n, err := resp.ParseInt(line[1:])
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := c.skipReply(); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unexpected reply type %q", line[0])
}

func (c *Client) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return c.r.ReadBytes('\n')
	}
	return line, err
}

// Close says goodbye to the server before dropping the connection.
func (c *Client) Close() error {
	c.Queue("QUIT")
	if err := c.w.Flush(); err == nil {
		c.ReadReply()
	}
	return c.conn.Close()
}
